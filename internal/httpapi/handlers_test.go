package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"typerace/internal/config"
	"typerace/internal/game"
	"typerace/internal/health"
	"typerace/internal/replay"
	"typerace/internal/text"
)

const testCorpus = `{"texts": ["handler test text"], "longTexts": ["a longer handler test passage"]}`

type nopSink struct{}

func (nopSink) Join(string, string) {}

func (nopSink) Leave(string, string) {}

func (nopSink) DropRoom(string) {}

func (nopSink) Broadcast(string, game.Event) {}

func (nopSink) Direct(string, game.Event) {}

type fixture struct {
	handlers   *Handlers
	engine     *game.Engine
	controller *health.Controller
	router     chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	flags := health.NewFlags()
	texts, err := text.NewProvider([]byte(testCorpus))
	require.NoError(t, err)
	replays := replay.NewStore(zap.NewNop())
	engine := game.NewEngine(texts, replays, flags, game.Options{
		MaxPlayers:        4,
		MinPlayersToStart: 2,
		CountdownSeconds:  3,
		MaxRaceTime:       time.Minute,
		CleanupDelay:      time.Minute,
	}, zap.NewNop())
	engine.SetSink(nopSink{})
	controller := health.NewController(flags, engine, replays, zap.NewNop())

	cfg := config.DefaultConfig()
	cfg.Server.Port = "8080"
	cfg.Server.Host = "127.0.0.1"

	h := New(engine, replays, controller, cfg, zap.NewNop())

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/api/game/games", h.ListGames)
	r.Get("/api/game/games/{id}", h.GetGame)
	r.Post("/api/game/create", h.CreateGame)
	r.Post("/api/game/join", h.JoinGame)
	r.Get("/api/game/system/status", h.SystemStatus)
	r.Get("/api/game/replays", h.ListReplays)
	r.Get("/api/game/replays/{id}", h.GetReplay)
	r.Post("/api/monitor/config", h.MonitorConfig)
	r.Get("/api/monitor/stats", h.MonitorStats)
	r.Get("/api/monitor/dashboard", h.MonitorDashboard)

	return &fixture{handlers: h, engine: engine, controller: controller, router: r}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var probe struct {
		Status    string `json:"status"`
		Env       string `json:"env"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &probe))
	assert.Equal(t, "ok", probe.Status)
	assert.Equal(t, "development", probe.Env)
	assert.Greater(t, probe.Timestamp, int64(0))

	// Trip the memory alert: the probe must drain traffic with a 503.
	f.controller.SetSampler(func() (health.HostSample, error) {
		return health.HostSample{MemPct: 0.95}, nil
	})
	f.controller.Tick()

	rec = f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"critical"`)
}

func TestCreateAndGetGame(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/game/create", `{"playerName":"Alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		PlayerID string    `json:"playerId"`
		Game     game.View `json:"game"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.PlayerID)
	require.NotEmpty(t, created.Game.ID)
	assert.Equal(t, game.StateWaiting, created.Game.State)

	rec = f.do(t, http.MethodGet, "/api/game/games/"+created.Game.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/game/games/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "GAME_NOT_FOUND")

	rec = f.do(t, http.MethodGet, "/api/game/games", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Games []game.ListItem `json:"games"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Games, 1)
}

func TestJoinGame(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/game/create", `{"playerName":"Alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Game game.View `json:"game"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(t, http.MethodPost, "/api/game/join", `{"playerName":"Bob","gameId":"`+created.Game.ID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var joined struct {
		IsSpectator bool      `json:"isSpectator"`
		Game        game.View `json:"game"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &joined))
	assert.False(t, joined.IsSpectator)
	assert.Len(t, joined.Game.Players, 2)

	rec = f.do(t, http.MethodPost, "/api/game/join", `{"playerName":"X","gameId":"missing"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/game/join", `{broken`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRefusedUnderMemoryPressure(t *testing.T) {
	f := newFixture(t)
	f.controller.SetSampler(func() (health.HostSample, error) {
		return health.HostSample{MemPct: 0.95}, nil
	})
	f.controller.Tick()

	rec := f.do(t, http.MethodPost, "/api/game/create", `{"playerName":"Alice"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestReplayEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/game/replays", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/game/replays/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "REPLAY_NOT_FOUND")
}

func TestSystemStatusEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/game/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st health.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "ok", st.Status)
	assert.True(t, st.Flags.AcceptingNewPlayers)
}

func TestMonitorConfigEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/monitor/config", `{"throttlingEnabled":true,"updateFrequency":"low"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap health.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.ThrottlingEnabled)
	assert.Equal(t, health.FrequencyLow, snap.UpdateFrequency)

	rec = f.do(t, http.MethodPost, "/api/monitor/config", `{broken`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMonitorDashboard(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/game/create", `{"playerName":"Alice"}`)

	rec := f.do(t, http.MethodGet, "/api/monitor/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		System  health.SystemStatus `json:"system"`
		Games   []game.ListItem     `json:"games"`
		Replays []replay.ListItem   `json:"replays"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Games, 1)
	assert.Equal(t, 1, body.System.Stats.Engine.ActiveGames)
}
