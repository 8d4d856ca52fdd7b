package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"typerace/internal/config"
	"typerace/internal/game"
	"typerace/internal/health"
	"typerace/internal/replay"
)

// Handlers is the admin and REST surface. Game mutations go through the same
// engine entry points as the websocket path, so mitigation gates apply here
// too.
type Handlers struct {
	engine     *game.Engine
	replays    *replay.Store
	controller *health.Controller
	cfg        *config.ServerConfig
	log        *zap.Logger
}

// New creates the handler set.
func New(engine *game.Engine, replays *replay.Store, controller *health.Controller, cfg *config.ServerConfig, log *zap.Logger) *Handlers {
	return &Handlers{
		engine:     engine,
		replays:    replays,
		controller: controller,
		cfg:        cfg,
		log:        log,
	}
}

// Health is the load balancer probe: 200 while healthy or degraded, 503 under
// memory pressure so traffic drains away.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := h.controller.HealthStatus()
	code := http.StatusOK
	if status == "critical" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"env":       h.cfg.Server.Env,
		"timestamp": time.Now().UnixMilli(),
	})
}

// ListGames handles GET /api/game/games
func (h *Handlers) ListGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"games": h.engine.List()})
}

// GetGame handles GET /api/game/games/{id}
func (h *Handlers) GetGame(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.GetView(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type createGameRequest struct {
	PlayerName string `json:"playerName"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
}

// CreateGame handles POST /api/game/create. The server assigns the player id;
// the client uses it to attach over websocket later.
func (h *Handlers) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	playerID := uuid.NewString()
	v, err := h.engine.CreateGame(playerID, req.PlayerName, req.MaxPlayers)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"playerId": playerID, "game": v})
}

type joinGameRequest struct {
	PlayerName  string `json:"playerName"`
	GameID      string `json:"gameId,omitempty"`
	IsSpectator bool   `json:"isSpectator,omitempty"`
}

// JoinGame handles POST /api/game/join
func (h *Handlers) JoinGame(w http.ResponseWriter, r *http.Request) {
	var req joinGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	playerID := uuid.NewString()
	v, spectator, err := h.engine.JoinGame(playerID, req.PlayerName, req.GameID, req.IsSpectator)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playerId": playerID, "game": v, "isSpectator": spectator})
}

// SystemStatus handles GET /api/game/system/status
func (h *Handlers) SystemStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// ListReplays handles GET /api/game/replays
func (h *Handlers) ListReplays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"replays": h.replays.List()})
}

// GetReplay handles GET /api/game/replays/{id}
func (h *Handlers) GetReplay(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.replays.Get(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, game.ErrReplayNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// MonitorHealth handles GET /api/monitor/health
func (h *Handlers) MonitorHealth(w http.ResponseWriter, r *http.Request) {
	st := h.controller.Status()
	writeJSON(w, http.StatusOK, map[string]any{"status": st.Status, "flags": st.Flags})
}

// MonitorMetrics handles GET /api/monitor/metrics
func (h *Handlers) MonitorMetrics(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	writeJSON(w, http.StatusOK, map[string]any{
		"heapAllocBytes": ms.HeapAlloc,
		"heapSysBytes":   ms.HeapSys,
		"numGC":          ms.NumGC,
		"goroutines":     runtime.NumGoroutine(),
	})
}

// MonitorStats handles GET /api/monitor/stats
func (h *Handlers) MonitorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetStats())
}

// MonitorDashboard handles GET /api/monitor/dashboard: the full status plus
// the session and replay indexes in one payload.
func (h *Handlers) MonitorDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"system":  h.controller.Status(),
		"games":   h.engine.List(),
		"replays": h.replays.List(),
	})
}

// MonitorConfig handles POST /api/monitor/config
func (h *Handlers) MonitorConfig(w http.ResponseWriter, r *http.Request) {
	var u health.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.controller.ApplyConfig(u)
	writeJSON(w, http.StatusOK, h.controller.Flags().Current())
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var ge *game.Error
	if !errors.As(err, &ge) {
		h.log.Error("unexpected handler error", zap.Error(err))
		ge = &game.Error{Code: game.CodeInternal, Message: "internal error"}
	}
	writeJSON(w, ge.HTTPStatus(), map[string]any{
		"error": map[string]string{"message": ge.Message, "code": string(ge.Code)},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
