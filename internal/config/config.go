// Package config loads runtime settings from the environment. The client is
// browser-style: no flags or files, just the backend location and tuning
// intervals.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries everything the client and the development broker need.
type Config struct {
	APIBaseURL string `env:"HRCHAT_API_URL" envDefault:"http://localhost:8080"`
	WSEndpoint string `env:"HRCHAT_WS_URL" envDefault:"ws://localhost:8080/ws"`
	Token      string `env:"HRCHAT_TOKEN"`

	HeartbeatInterval   time.Duration `env:"HRCHAT_HEARTBEAT_INTERVAL" envDefault:"4s"`
	ReconnectInterval   time.Duration `env:"HRCHAT_RECONNECT_INTERVAL" envDefault:"2s"`
	TypingQuietPeriod   time.Duration `env:"HRCHAT_TYPING_QUIET_PERIOD" envDefault:"3s"`
	ListRefreshInterval time.Duration `env:"HRCHAT_LIST_REFRESH_INTERVAL" envDefault:"10s"`

	// Broker-side only.
	ListenAddr string `env:"HRCHAT_LISTEN_ADDR" envDefault:"127.0.0.1:8080"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
