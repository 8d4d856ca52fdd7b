package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PORT", "8080")
	t.Setenv("HOST", "127.0.0.1")
}

func TestLoadConfig(t *testing.T) {
	t.Run("DefaultsWhenFileMissing", func(t *testing.T) {
		setRequiredEnv(t)
		cfg, err := LoadConfig("nonexistent.yaml")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cfg.Game.MaxPlayersPerGame != 4 {
			t.Errorf("expected MaxPlayersPerGame 4, got %d", cfg.Game.MaxPlayersPerGame)
		}
		if cfg.Game.MinPlayersToStart != 2 {
			t.Errorf("expected MinPlayersToStart 2, got %d", cfg.Game.MinPlayersToStart)
		}
		if cfg.Game.CountdownSeconds != 3 {
			t.Errorf("expected CountdownSeconds 3, got %d", cfg.Game.CountdownSeconds)
		}
		if cfg.Game.MaxRaceTime != 2*time.Minute {
			t.Errorf("expected MaxRaceTime 2m, got %v", cfg.Game.MaxRaceTime)
		}
		if cfg.IsProduction() {
			t.Error("expected development by default")
		}
	})

	t.Run("MissingPort", func(t *testing.T) {
		t.Setenv("PORT", "")
		t.Setenv("HOST", "127.0.0.1")
		if _, err := LoadConfig("nonexistent.yaml"); err == nil {
			t.Fatal("expected error without PORT")
		}
	})

	t.Run("LoadFromYAML", func(t *testing.T) {
		setRequiredEnv(t)
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "test-config.yaml")

		yamlContent := `
server:
  logLevel: debug
  rateLimitRequests: 50

game:
  maxPlayersPerGame: 6
  minPlayersToStart: 3
  countdownSeconds: 5
  maxRaceTime: 4m
`
		if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		if cfg.Game.MaxPlayersPerGame != 6 {
			t.Errorf("expected MaxPlayersPerGame 6, got %d", cfg.Game.MaxPlayersPerGame)
		}
		if cfg.Game.MaxRaceTime != 4*time.Minute {
			t.Errorf("expected MaxRaceTime 4m, got %v", cfg.Game.MaxRaceTime)
		}
		if cfg.Server.RateLimitRequests != 50 {
			t.Errorf("expected RateLimitRequests 50, got %d", cfg.Server.RateLimitRequests)
		}
		if cfg.Server.LogLevel != "debug" {
			t.Errorf("expected LogLevel debug, got %s", cfg.Server.LogLevel)
		}
	})

	t.Run("EnvOverridesGameSettings", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("MAX_PLAYERS_PER_GAME", "8")
		t.Setenv("COUNTDOWN_SECONDS", "10")
		cfg, err := LoadConfig("nonexistent.yaml")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Game.MaxPlayersPerGame != 8 {
			t.Errorf("expected env override 8, got %d", cfg.Game.MaxPlayersPerGame)
		}
		if cfg.Game.CountdownSeconds != 10 {
			t.Errorf("expected env override 10, got %d", cfg.Game.CountdownSeconds)
		}
	})

	t.Run("MinuteAliases", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("MAX_RACE_TIME_MINUTES", "3")
		t.Setenv("CLEANUP_DELAY_MINUTES", "5")
		cfg, err := LoadConfig("nonexistent.yaml")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if cfg.Game.MaxRaceTime != 3*time.Minute {
			t.Errorf("expected MaxRaceTime 3m, got %v", cfg.Game.MaxRaceTime)
		}
		if cfg.Game.CleanupDelay != 5*time.Minute {
			t.Errorf("expected CleanupDelay 5m, got %v", cfg.Game.CleanupDelay)
		}
	})

	t.Run("NodeEnvAlias", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("NODE_ENV", "production")
		t.Setenv("ADMIN_API_KEY", "k")
		cfg, err := LoadConfig("nonexistent.yaml")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !cfg.IsProduction() {
			t.Error("NODE_ENV=production must select production mode")
		}
		if !cfg.Server.SelfHealing {
			t.Error("self-healing must auto-enable in production")
		}
	})

	t.Run("ProductionRequiresAdminKey", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("ENV", "production")
		t.Setenv("ADMIN_API_KEY", "")
		_, err := LoadConfig("nonexistent.yaml")
		if err == nil || !strings.Contains(err.Error(), "ADMIN_API_KEY") {
			t.Fatalf("expected ADMIN_API_KEY error, got %v", err)
		}
	})
}

func TestConfigValidation(t *testing.T) {
	base := func() *ServerConfig {
		cfg := DefaultConfig()
		cfg.Server.Port = "8080"
		cfg.Server.Host = "127.0.0.1"
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*ServerConfig)
		errorMsg string // empty means valid
	}{
		{"Valid", func(c *ServerConfig) {}, ""},
		{"MissingPort", func(c *ServerConfig) { c.Server.Port = "" }, "PORT"},
		{"MissingHost", func(c *ServerConfig) { c.Server.Host = "" }, "HOST"},
		{"TooFewMaxPlayers", func(c *ServerConfig) { c.Game.MaxPlayersPerGame = 1 }, "maxPlayersPerGame"},
		{"MinGreaterThanMax", func(c *ServerConfig) { c.Game.MinPlayersToStart = 9 }, "minPlayersToStart cannot be greater"},
		{"ZeroCountdown", func(c *ServerConfig) { c.Game.CountdownSeconds = 0 }, "countdownSeconds"},
		{"TinyRaceTime", func(c *ServerConfig) { c.Game.MaxRaceTime = time.Millisecond }, "maxRaceTime"},
		{"ZeroRateLimit", func(c *ServerConfig) { c.Server.RateLimitRequests = 0 }, "rateLimitRequests"},
		{"ProductionNeedsKey", func(c *ServerConfig) { c.Server.Env = "production" }, "ADMIN_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}
