package domain

import "time"

// Defaults
const (
	AppName              = "Aphorism Echo"
	DefaultPort          = 3000
	DefaultShutdownGrace = 5 * time.Second
	DefaultLogLevel      = "info"
)

// CORS headers attached to every response.
const (
	AllowOrigin  = "*"
	AllowMethods = "GET, POST, OPTIONS"
	AllowHeaders = "Content-Type"
)

// Live reload paths
const (
	LiveReloadPath   = "/__livereload"
	LiveReloadScript = "/__livereload.js"
)

// LoopbackIP is shown as the network address when discovery fails.
const LoopbackIP = "127.0.0.1"

type State int

const (
	StateStarting State = iota
	StateServing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateServing:
		return "SERVING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Banner holds what gets printed once the listener is up. NetworkURL is
// empty when the server is bound to loopback; BoundTo then names the host.
type Banner struct {
	Name       string
	LocalURL   string
	NetworkURL string
	BoundTo    string
	LiveReload bool
}

type ReloadMessage struct {
	Type string `json:"type"`
	Path string `json:"path"`
}
