package replay

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	positionDeltaAdmit = 5.0
	compactThreshold   = 20
	compactStride      = 5
)

// Snapshot is one progress point in a player's replay. Snapshots are
// monotonic in timestamp per player.
type Snapshot struct {
	Timestamp    int64   `json:"timestamp"`
	Position     float64 `json:"position"`
	CurrentIndex int     `json:"currentIndex"`
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
}

// FinalStats is set exactly once per player, on finish or race end.
type FinalStats struct {
	WPM        float64 `json:"wpm"`
	Accuracy   float64 `json:"accuracy"`
	FinishTime *int64  `json:"finishTime"`
	Rank       int     `json:"rank"`
}

// PlayerReplay is the per-player snapshot sequence plus finalized stats.
type PlayerReplay struct {
	PlayerID   string      `json:"playerId"`
	Name       string      `json:"name"`
	Snapshots  []Snapshot  `json:"snapshots"`
	FinalStats *FinalStats `json:"finalStats"`
}

// Replay is the full per-session record.
type Replay struct {
	GameID    string                   `json:"gameId"`
	Text      string                   `json:"text"`
	StartTime int64                    `json:"startTime"`
	EndTime   int64                    `json:"endTime"`
	Players   map[string]*PlayerReplay `json:"players"`
}

// ListItem is the compact form for the admin replay index.
type ListItem struct {
	GameID    string `json:"gameId"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	Players   int    `json:"players"`
}

// Store is the in-memory replay buffer with TTL eviction and compaction.
type Store struct {
	mu        sync.RWMutex
	replays   map[string]*Replay
	evictions map[string]*time.Timer
	log       *zap.Logger
}

// NewStore creates an empty replay store.
func NewStore(log *zap.Logger) *Store {
	return &Store{
		replays:   make(map[string]*Replay),
		evictions: make(map[string]*time.Timer),
		log:       log,
	}
}

// Create initializes the replay for a session entering Countdown.
func (s *Store) Create(gameID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.replays[gameID]; exists {
		return
	}
	s.replays[gameID] = &Replay{
		GameID:  gameID,
		Text:    text,
		Players: make(map[string]*PlayerReplay),
	}
}

// SetStartTime stamps the Racing entry time.
func (s *Store) SetStartTime(gameID string, ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.replays[gameID]; ok {
		r.StartTime = ms
	}
}

// SetEndTime stamps the Finished entry time.
func (s *Store) SetEndTime(gameID string, ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.replays[gameID]; ok {
		r.EndTime = ms
	}
}

// Record appends a snapshot, subject to admission: the first snapshot for a
// player always lands, later ones only when the interval has elapsed, the
// position moved at least 5 points, or the player just hit 100. Updates to
// finalized players are ignored.
func (s *Store) Record(gameID, playerID, name string, snap Snapshot, minIntervalMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replays[gameID]
	if !ok {
		return false
	}
	pr, ok := r.Players[playerID]
	if !ok {
		pr = &PlayerReplay{PlayerID: playerID, Name: name}
		r.Players[playerID] = pr
	}
	if pr.FinalStats != nil {
		return false
	}

	if n := len(pr.Snapshots); n > 0 {
		prev := pr.Snapshots[n-1]
		admit := snap.Timestamp-prev.Timestamp >= minIntervalMs ||
			math.Abs(snap.Position-prev.Position) >= positionDeltaAdmit ||
			snap.Position >= 100
		if !admit {
			return false
		}
		if snap.Timestamp < prev.Timestamp {
			snap.Timestamp = prev.Timestamp
		}
	}
	pr.Snapshots = append(pr.Snapshots, snap)
	return true
}

// Finalize sets a player's final stats exactly once.
func (s *Store) Finalize(gameID, playerID string, stats FinalStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.replays[gameID]
	if !ok {
		return
	}
	pr, ok := r.Players[playerID]
	if !ok {
		pr = &PlayerReplay{PlayerID: playerID}
		r.Players[playerID] = pr
	}
	if pr.FinalStats != nil {
		return
	}
	pr.FinalStats = &stats
}

// Get returns a deep copy of a replay so callers can marshal it without
// holding the store lock.
func (s *Store) Get(gameID string) (*Replay, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.replays[gameID]
	if !ok {
		return nil, false
	}
	cp := &Replay{
		GameID:    r.GameID,
		Text:      r.Text,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Players:   make(map[string]*PlayerReplay, len(r.Players)),
	}
	for id, pr := range r.Players {
		pcp := &PlayerReplay{
			PlayerID:  pr.PlayerID,
			Name:      pr.Name,
			Snapshots: append([]Snapshot(nil), pr.Snapshots...),
		}
		if pr.FinalStats != nil {
			fs := *pr.FinalStats
			pcp.FinalStats = &fs
		}
		cp.Players[id] = pcp
	}
	return cp, true
}

// List returns the compact replay index.
func (s *Store) List() []ListItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ListItem, 0, len(s.replays))
	for _, r := range s.replays {
		out = append(out, ListItem{
			GameID:    r.GameID,
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
			Players:   len(r.Players),
		})
	}
	return out
}

// Count reports stored replays.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.replays)
}

// Compact downsamples every player buffer longer than 20 snapshots to every
// 5th snapshot, order-preserving. Returns the number of snapshots dropped.
func (s *Store) Compact() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, r := range s.replays {
		for _, pr := range r.Players {
			n := len(pr.Snapshots)
			if n <= compactThreshold {
				continue
			}
			kept := make([]Snapshot, 0, (n+compactStride-1)/compactStride)
			for i := 0; i < n; i += compactStride {
				kept = append(kept, pr.Snapshots[i])
			}
			dropped += n - len(kept)
			pr.Snapshots = kept
		}
	}
	if dropped > 0 {
		s.log.Info("replay cache compacted", zap.Int("droppedSnapshots", dropped))
	}
	return dropped
}

// ScheduleEviction deletes the replay after the retention window. Called on
// session destruction; re-scheduling replaces the pending timer.
func (s *Store) ScheduleEviction(gameID string, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.replays[gameID]; !ok {
		return
	}
	if t, ok := s.evictions[gameID]; ok {
		t.Stop()
	}
	s.evictions[gameID] = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.replays, gameID)
		delete(s.evictions, gameID)
		s.mu.Unlock()
		s.log.Info("replay evicted", zap.String("gameId", gameID))
	})
}

// Shutdown cancels pending eviction timers.
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.evictions {
		t.Stop()
		delete(s.evictions, id)
	}
}
