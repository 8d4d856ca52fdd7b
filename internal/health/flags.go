package health

import (
	"sync"
	"sync/atomic"
)

// UpdateFrequency selects the fan-out cadence for progress broadcasts.
type UpdateFrequency string

const (
	FrequencyNormal UpdateFrequency = "normal"
	FrequencyLow    UpdateFrequency = "low"
)

const (
	DefaultSnapshotIntervalMs = 100
	LoadSnapshotIntervalMs    = 500
	DefaultRetentionMs        = 3_600_000
	ReducedRetentionMs        = 900_000
)

// Snapshot is one immutable view of every self-healing flag and tunable.
// Hot paths read it without locking; Version increments on every write so
// observers can detect transitions.
type Snapshot struct {
	MemoryAlert    bool `json:"memoryAlert"`
	LoadAlert      bool `json:"loadAlert"`
	GameCountAlert bool `json:"gameCountAlert"`

	AcceptingNewPlayers       bool            `json:"acceptingNewPlayers"`
	ThrottlingEnabled         bool            `json:"throttlingEnabled"`
	UpdateFrequency           UpdateFrequency `json:"updateFrequency"`
	ReplaySnapshotIntervalMs  int64           `json:"replaySnapshotIntervalMs"`
	ReplayRetentionMs         int64           `json:"replayRetentionMs"`
	GameCreationQueueEnabled  bool            `json:"gameCreationQueueEnabled"`
	CreationBackoffEnabled    bool            `json:"creationBackoffEnabled"`
	DeferResourceIntensiveOps bool            `json:"deferResourceIntensiveOps"`
	MaxPlayersReduction       int             `json:"maxPlayersReduction"`

	Version uint64 `json:"version"`
}

// Defaults returns the snapshot with every mitigation off.
func Defaults() Snapshot {
	return Snapshot{
		AcceptingNewPlayers:      true,
		UpdateFrequency:          FrequencyNormal,
		ReplaySnapshotIntervalMs: DefaultSnapshotIntervalMs,
		ReplayRetentionMs:        DefaultRetentionMs,
	}
}

// Flags publishes the controller's state as an atomic snapshot. Writers go
// through mutate; readers never block.
type Flags struct {
	mu  sync.Mutex
	cur atomic.Pointer[Snapshot]
}

// NewFlags creates flags with defaults applied.
func NewFlags() *Flags {
	f := &Flags{}
	snap := Defaults()
	f.cur.Store(&snap)
	return f
}

// Current returns the latest snapshot.
func (f *Flags) Current() Snapshot { return *f.cur.Load() }

// mutate applies fn to a copy of the snapshot and publishes it with a
// bumped version.
func (f *Flags) mutate(fn func(*Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := *f.cur.Load()
	fn(&next)
	next.Version++
	f.cur.Store(&next)
}

// The methods below implement game.Gate for lock-free hot-path reads.

func (f *Flags) AcceptingNewPlayers() bool    { return f.cur.Load().AcceptingNewPlayers }
func (f *Flags) CreationQueueEnabled() bool   { return f.cur.Load().GameCreationQueueEnabled }
func (f *Flags) CreationBackoffEnabled() bool { return f.cur.Load().CreationBackoffEnabled }
func (f *Flags) SnapshotIntervalMs() int64    { return f.cur.Load().ReplaySnapshotIntervalMs }
func (f *Flags) RetentionMs() int64           { return f.cur.Load().ReplayRetentionMs }

// MaxPlayersDelta is the signed adjustment to max players for new sessions.
func (f *Flags) MaxPlayersDelta() int { return -f.cur.Load().MaxPlayersReduction }

// ThrottleProgress reports whether progress broadcasts should be dropped.
// Both the throttling switch and the low frequency must be active.
func (f *Flags) ThrottleProgress() bool {
	s := f.cur.Load()
	return s.ThrottlingEnabled && s.UpdateFrequency == FrequencyLow
}
