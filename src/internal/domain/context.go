package domain

import (
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Version       string
	Host          string
	Port          int
	BaseDir       string // absolute, symlinks resolved
	OpenBrowser   bool
	LiveReload    bool
	ShutdownGrace time.Duration
	LogLevel      string
}

// Addr is the listen address, e.g. ":3000" for all interfaces.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type Context struct {
	Config Config
	Logger *logrus.Logger
}
