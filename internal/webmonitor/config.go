package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr              string
	StatusInterval    time.Duration // periodic status push, in addition to change-driven pushes
	KeepaliveInterval time.Duration // SSE comment sent when nothing else was written
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8090",
		StatusInterval:    2 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}
