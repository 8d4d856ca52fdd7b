package config

import (
	"fmt"
	"time"
)

// This file defines the configuration structures used by viper_config.go
// The actual loading is handled by viper in viper_config.go

// ServerConfig represents the server configuration
type ServerConfig struct {
	Server ServerSettings `yaml:"server"`
	Game   GameSettings   `yaml:"game"`
}

// ServerSettings contains server-wide settings
type ServerSettings struct {
	// Server settings
	Port            string        `yaml:"port" envconfig:"PORT" required:"true"`
	Host            string        `yaml:"host" envconfig:"HOST" required:"true"`
	Env             string        `yaml:"env" envconfig:"ENV" default:"development"`
	ClientURL       string        `yaml:"clientUrl" envconfig:"CLIENT_URL"`
	ReadTimeout     time.Duration `yaml:"readTimeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// Rate limiting (using golang.org/x/time/rate)
	RateLimitWindow   time.Duration `yaml:"rateLimitWindow" envconfig:"RATE_LIMIT_WINDOW" default:"15m"`
	RateLimitRequests int           `yaml:"rateLimitRequests" envconfig:"RATE_LIMIT_REQUESTS" default:"100"`

	// Request limits
	MaxRequestSize int64 `yaml:"maxRequestSize" envconfig:"MAX_REQUEST_SIZE" default:"1048576"` // 1MB

	// Admin surface
	AdminAPIKey string `yaml:"adminApiKey" envconfig:"ADMIN_API_KEY"`

	// Self-healing controller
	SelfHealing bool `yaml:"selfHealing" envconfig:"SELF_HEALING"`

	// Logging
	LogLevel string `yaml:"logLevel" envconfig:"LOG_LEVEL" default:"info"`
}

// GameSettings shapes race sessions
type GameSettings struct {
	MaxPlayersPerGame int           `yaml:"maxPlayersPerGame"`
	MinPlayersToStart int           `yaml:"minPlayersToStart"`
	CountdownSeconds  int           `yaml:"countdownSeconds"`
	MaxRaceTime       time.Duration `yaml:"maxRaceTime"`
	CleanupDelay      time.Duration `yaml:"cleanupDelay"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSettings{
			Port:            "", // Must be set via env
			Host:            "", // Must be set via env
			Env:             "development",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,

			RateLimitWindow:   15 * time.Minute,
			RateLimitRequests: 100,

			MaxRequestSize: 1048576, // 1MB

			LogLevel: "info",
		},
		Game: GameSettings{
			MaxPlayersPerGame: 4,
			MinPlayersToStart: 2,
			CountdownSeconds:  3,
			MaxRaceTime:       2 * time.Minute,
			CleanupDelay:      3 * time.Minute,
		},
	}
}

// IsProduction reports whether the server runs with production hardening:
// JSON logs, the admin key requirement, and the self-healing controller.
func (c *ServerConfig) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate checks if the configuration is valid
func (c *ServerConfig) Validate() error {
	// Required fields
	if c.Server.Port == "" {
		return fmt.Errorf("PORT environment variable must be set")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("HOST environment variable must be set")
	}

	if c.IsProduction() && c.Server.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY must be set in production")
	}

	if c.Game.MaxPlayersPerGame < 2 {
		return fmt.Errorf("maxPlayersPerGame must be at least 2")
	}
	if c.Game.MinPlayersToStart < 1 {
		return fmt.Errorf("minPlayersToStart must be at least 1")
	}
	if c.Game.MinPlayersToStart > c.Game.MaxPlayersPerGame {
		return fmt.Errorf("minPlayersToStart cannot be greater than maxPlayersPerGame")
	}
	if c.Game.CountdownSeconds < 1 {
		return fmt.Errorf("countdownSeconds must be at least 1")
	}
	if c.Game.MaxRaceTime < time.Second {
		return fmt.Errorf("maxRaceTime must be at least 1s")
	}
	if c.Game.CleanupDelay < time.Second {
		return fmt.Errorf("cleanupDelay must be at least 1s")
	}

	if c.Server.RateLimitRequests < 1 {
		return fmt.Errorf("rateLimitRequests must be at least 1")
	}
	if c.Server.RateLimitWindow < time.Second {
		return fmt.Errorf("rateLimitWindow must be at least 1s")
	}

	return nil
}
