package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"typerace"
	"typerace/internal/config"
	"typerace/internal/game"
	"typerace/internal/health"
	"typerace/internal/httpapi"
	"typerace/internal/replay"
	"typerace/internal/text"
	"typerace/internal/ws"
)

const statsLogInterval = 5 * time.Minute

func main() {
	// Load server configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Server.Env),
		zap.Int("maxPlayersPerGame", cfg.Game.MaxPlayersPerGame),
		zap.Bool("selfHealing", cfg.Server.SelfHealing))

	// Text corpus with fail-fast initialization using embedded resources
	texts, err := text.NewProvider(typerace.RaceTextsJSON)
	if err != nil {
		logger.Fatal("failed to load race texts", zap.Error(err))
	}

	// Core wiring: flags gate the engine, the hub fans its events out, the
	// controller closes the loop.
	flags := health.NewFlags()
	replays := replay.NewStore(logger.Named("replay"))
	engine := game.NewEngine(texts, replays, flags, game.Options{
		MaxPlayers:        cfg.Game.MaxPlayersPerGame,
		MinPlayersToStart: cfg.Game.MinPlayersToStart,
		CountdownSeconds:  cfg.Game.CountdownSeconds,
		MaxRaceTime:       cfg.Game.MaxRaceTime,
		CleanupDelay:      cfg.Game.CleanupDelay,
	}, logger.Named("engine"))

	hub := ws.NewHub(flags, logger.Named("hub"))
	engine.SetSink(hub)

	controller := health.NewController(flags, engine, replays, logger.Named("health"))
	controller.SetConnectionCounter(hub.Count)

	dispatcher := ws.NewDispatcher(engine, hub, replays, controller, logger.Named("ws"))
	handlers := httpapi.New(engine, replays, controller, cfg, logger.Named("http"))

	router := SetupRouter(handlers, dispatcher, cfg, logger)

	stop := make(chan struct{})
	engine.StartQueue(stop)
	if cfg.Server.SelfHealing {
		controller.Start(stop)
	}
	go logStats(engine, hub, logger, stop)

	// Start server with production configuration
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}

	engine.Shutdown()
	replays.Shutdown()
	logger.Info("server stopped")
}

// buildLogger selects console output in development and JSON in production,
// at the configured level.
func buildLogger(cfg *config.ServerConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// logStats emits a periodic one-line service summary.
func logStats(engine *game.Engine, hub *ws.Hub, logger *zap.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := engine.GetStats()
			if s.ActiveGames == 0 {
				continue
			}
			logger.Info("service stats",
				zap.Int("activeGames", s.ActiveGames),
				zap.Int("totalPlayers", s.TotalPlayers),
				zap.Int("connections", hub.Count()),
				zap.Int("queueDepth", s.QueueDepth))
		}
	}
}
