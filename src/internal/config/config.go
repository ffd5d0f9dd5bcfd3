// Package config resolves the server configuration from defaults, optional
// .env files and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"aphorism/src/internal/domain"
)

// Environment variables
const (
	EnvPort          = "PORT"
	EnvHost          = "HOST"
	EnvServeDir      = "SERVE_DIR"
	EnvOpenBrowser   = "OPEN_BROWSER"
	EnvLiveReload    = "LIVE_RELOAD"
	EnvShutdownGrace = "SHUTDOWN_GRACE"
	EnvLogLevel      = "LOG_LEVEL"
)

var (
	ErrInvalidPort  = errors.New("port must be between 0 and 65535")
	ErrNotDirectory = errors.New("not a directory")
)

// Load builds the configuration. A .env file in the working directory is
// read first, then one in the base directory. Neither overrides variables
// already present in the environment.
func Load(version string) (domain.Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return domain.Config{}, err
	}

	baseDir, err := ResolveBaseDir(os.Getenv(EnvServeDir))
	if err != nil {
		return domain.Config{}, err
	}

	if err := loadDotEnv(filepath.Join(baseDir, ".env")); err != nil {
		return domain.Config{}, err
	}

	return FromEnv(version, baseDir)
}

// FromEnv parses the typed settings out of the environment on top of the
// defaults. baseDir must already be resolved.
func FromEnv(version, baseDir string) (domain.Config, error) {
	cfg := domain.Config{
		Version:       version,
		Port:          domain.DefaultPort,
		BaseDir:       baseDir,
		OpenBrowser:   true,
		ShutdownGrace: domain.DefaultShutdownGrace,
		LogLevel:      domain.DefaultLogLevel,
	}

	cfg.Host = os.Getenv(EnvHost)

	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("%s=%q: %w", EnvPort, v, ErrInvalidPort)
		}
		if port < 0 || port > 65535 {
			return cfg, fmt.Errorf("%s=%d: %w", EnvPort, port, ErrInvalidPort)
		}
		cfg.Port = port
	}

	var err error
	if cfg.OpenBrowser, err = envBool(EnvOpenBrowser, cfg.OpenBrowser); err != nil {
		return cfg, err
	}
	if cfg.LiveReload, err = envBool(EnvLiveReload, cfg.LiveReload); err != nil {
		return cfg, err
	}

	if v := os.Getenv(EnvShutdownGrace); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("%s=%q: %w", EnvShutdownGrace, v, err)
		}
		cfg.ShutdownGrace = d
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		if _, err := logrus.ParseLevel(v); err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = v
	}

	return cfg, nil
}

// ResolveBaseDir returns the absolute, symlink-free directory files are
// served from. An empty dir means the directory holding the executable.
func ResolveBaseDir(dir string) (string, error) {
	if dir == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate executable: %w", err)
		}
		dir = filepath.Dir(exe)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", abs, ErrNotDirectory)
	}
	return abs, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s=%q: %w", key, v, err)
	}
	return b, nil
}
