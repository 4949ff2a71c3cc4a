// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings shared by the CLI commands. Every field has a
// working default so the demo runs with an empty environment.
type Config struct {
	// DirectoryURL is the base URL of the room directory REST API.
	DirectoryURL string `env:"POLICETHIEF_DIRECTORY_URL" envDefault:"http://localhost:8080"`
	// WSEndpoint is the pub/sub WebSocket endpoint.
	WSEndpoint string `env:"POLICETHIEF_WS_ENDPOINT" envDefault:"ws://localhost:8080/ws"`
	// ListenAddr is where the demo broker serves.
	ListenAddr string `env:"POLICETHIEF_LISTEN_ADDR" envDefault:":8080"`
	// BroadcastInterval is the cadence of periodic location reports.
	BroadcastInterval time.Duration `env:"POLICETHIEF_BROADCAST_INTERVAL" envDefault:"5s"`
	// ReconnectDelay is how long the transport waits before redialing.
	ReconnectDelay time.Duration `env:"POLICETHIEF_RECONNECT_DELAY" envDefault:"5s"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.BroadcastInterval <= 0 {
		return Config{}, fmt.Errorf("broadcast interval must be positive, got %s", cfg.BroadcastInterval)
	}
	if cfg.ReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("reconnect delay must be positive, got %s", cfg.ReconnectDelay)
	}
	return cfg, nil
}
