package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration using Viper
// Priority order: Environment variables > Config file > Defaults
func LoadConfig(configPath string) (*ServerConfig, error) {
	v := viper.New()

	// Set config file details
	v.SetConfigName("server")
	v.SetConfigType("yaml")

	// Add config paths
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/typerace")
	}

	// Enable environment variable binding
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables
	// These allow both TYPERACE_SERVER_PORT and PORT to work
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")
	v.BindEnv("server.env", "ENV")
	v.BindEnv("server.clienturl", "CLIENT_URL")
	v.BindEnv("server.loglevel", "LOG_LEVEL")
	v.BindEnv("server.ratelimitwindow", "RATE_LIMIT_WINDOW")
	v.BindEnv("server.ratelimitrequests", "RATE_LIMIT_REQUESTS")
	v.BindEnv("server.maxrequestsize", "MAX_REQUEST_SIZE")
	v.BindEnv("server.adminapikey", "ADMIN_API_KEY")
	v.BindEnv("server.selfhealing", "SELF_HEALING")
	v.BindEnv("game.maxplayerspergame", "MAX_PLAYERS_PER_GAME")
	v.BindEnv("game.minplayerstostart", "MIN_PLAYERS_TO_START")
	v.BindEnv("game.countdownseconds", "COUNTDOWN_SECONDS")
	v.BindEnv("game.maxracetime", "MAX_RACE_TIME")
	v.BindEnv("game.cleanupdelay", "CLEANUP_DELAY")

	// NODE_ENV is honored as an alias for ENV so deployments migrated from
	// Node-style process managers keep working.
	if os.Getenv("ENV") == "" {
		if nodeEnv := os.Getenv("NODE_ENV"); nodeEnv != "" {
			v.Set("server.env", nodeEnv)
		}
	}

	// Legacy minute-granularity aliases for the duration settings.
	if m := os.Getenv("MAX_RACE_TIME_MINUTES"); m != "" {
		v.Set("game.maxracetime", m+"m")
	}
	if m := os.Getenv("CLEANUP_DELAY_MINUTES"); m != "" {
		v.Set("game.cleanupdelay", m+"m")
	}

	// Server defaults
	v.SetDefault("server.env", "development")
	v.SetDefault("server.readtimeout", "15s")
	v.SetDefault("server.writetimeout", "15s")
	v.SetDefault("server.idletimeout", "60s")
	v.SetDefault("server.shutdowntimeout", "30s")

	// Rate limiting defaults
	v.SetDefault("server.ratelimitwindow", "15m")
	v.SetDefault("server.ratelimitrequests", 100)

	// Request limits
	v.SetDefault("server.maxrequestsize", 1048576) // 1MB

	// Logging defaults
	v.SetDefault("server.loglevel", "info")

	// Game defaults
	v.SetDefault("game.maxplayerspergame", 4)
	v.SetDefault("game.minplayerstostart", 2)
	v.SetDefault("game.countdownseconds", 3)
	v.SetDefault("game.maxracetime", "2m")
	v.SetDefault("game.cleanupdelay", "3m")

	// Try to read config file (it's optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if strings.Contains(err.Error(), "no such file or directory") {
				// File doesn't exist, continue with defaults
			} else {
				// Config file was found but another error occurred
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
		// Config file not found; continue with env vars and defaults
	}

	// Create config struct
	cfg := &ServerConfig{}

	// Unmarshal into the struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate required fields
	if v.GetString("server.port") == "" {
		return nil, fmt.Errorf("PORT environment variable must be set")
	}
	if v.GetString("server.host") == "" {
		return nil, fmt.Errorf("HOST environment variable must be set")
	}

	// The controller always runs in production
	if cfg.IsProduction() {
		cfg.Server.SelfHealing = true
	}

	// Additional validation
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
