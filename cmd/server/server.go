package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"typerace/internal/config"
	"typerace/internal/httpapi"
	localMiddleware "typerace/internal/middleware"
	"typerace/internal/ws"
)

// SetupRouter builds the full route tree: the websocket endpoint, the game
// REST surface, and the key-guarded monitor surface. The request timeout only
// wraps the HTTP groups; the websocket endpoint lives outside it.
func SetupRouter(h *httpapi.Handlers, dispatcher *ws.Dispatcher, cfg *config.ServerConfig, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Chi's built-in middleware
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Our custom middleware
	r.Use(localMiddleware.RequestSizeLimiter(cfg.Server.MaxRequestSize))
	r.Use(localMiddleware.SecurityHeaders())

	// Rate limiting
	rateLimiter := localMiddleware.NewRateLimiter(cfg.Server.RateLimitRequests, cfg.Server.RateLimitWindow)
	r.Use(rateLimiter.Middleware())

	// Websocket endpoint
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			if cfg.Server.ClientURL == "" {
				return true
			}
			origin := req.Header.Get("Origin")
			return origin == "" || origin == cfg.Server.ClientURL
		},
	}
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		sock, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		dispatcher.HandleConn(sock)
	})

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))

		// Health check endpoint (no auth required)
		r.Get("/health", h.Health)

		// Game REST surface; mutations pass the same engine gates as /ws
		r.Route("/api/game", func(r chi.Router) {
			r.Get("/games", h.ListGames)
			r.Get("/games/{id}", h.GetGame)
			r.Post("/create", h.CreateGame)
			r.Post("/join", h.JoinGame)
			r.Get("/system/status", h.SystemStatus)
			r.Get("/replays", h.ListReplays)
			r.Get("/replays/{id}", h.GetReplay)
		})

		// Monitor surface; key-guarded in production
		r.Route("/api/monitor", func(r chi.Router) {
			if cfg.IsProduction() {
				r.Use(localMiddleware.APIKeyAuth(cfg.Server.AdminAPIKey))
			}
			r.Get("/health", h.MonitorHealth)
			r.Get("/metrics", h.MonitorMetrics)
			r.Get("/stats", h.MonitorStats)
			r.Get("/dashboard", h.MonitorDashboard)
			r.Post("/config", h.MonitorConfig)
		})
	})

	return r
}
