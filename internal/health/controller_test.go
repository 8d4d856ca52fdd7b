package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"typerace/internal/game"
	"typerace/internal/replay"
	"typerace/internal/text"
)

const testCorpus = `{"texts": ["alpha beta"], "longTexts": ["gamma delta epsilon"]}`

type nopSink struct{}

func (nopSink) Join(string, string) {}

func (nopSink) Leave(string, string) {}

func (nopSink) DropRoom(string) {}

func (nopSink) Broadcast(string, game.Event) {}

func (nopSink) Direct(string, game.Event) {}

func newTestController(t *testing.T) (*Controller, *Flags) {
	t.Helper()
	flags := NewFlags()
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

	c := NewController(flags, engine, replays, zap.NewNop())
	return c, flags
}

func fixedSample(mem, load float64, games int) Sampler {
	return func() (HostSample, error) {
		return HostSample{MemPct: mem, LoadPerCPU: load, ActiveGames: games}, nil
	}
}

func TestMemoryHysteresis(t *testing.T) {
	c, flags := newTestController(t)

	// Trip above 90%.
	c.SetSampler(fixedSample(0.95, 0.1, 0))
	c.Tick()
	s := flags.Current()
	assert.True(t, s.MemoryAlert)
	assert.False(t, s.AcceptingNewPlayers)
	assert.Equal(t, "critical", c.HealthStatus())

	// 80% is inside the hysteresis band: latched.
	c.SetSampler(fixedSample(0.80, 0.1, 0))
	c.Tick()
	assert.True(t, flags.Current().MemoryAlert, "alert must stay latched between thresholds")

	// Recover below 70%.
	c.SetSampler(fixedSample(0.50, 0.1, 0))
	c.Tick()
	s = flags.Current()
	assert.False(t, s.MemoryAlert)
	assert.True(t, s.AcceptingNewPlayers)
	assert.Equal(t, "ok", c.HealthStatus())
}

func TestLoadMitigations(t *testing.T) {
	c, flags := newTestController(t)

	c.SetSampler(fixedSample(0.1, 0.95, 0))
	c.Tick()
	s := flags.Current()
	assert.True(t, s.LoadAlert)
	assert.Equal(t, FrequencyLow, s.UpdateFrequency)
	assert.True(t, s.ThrottlingEnabled)
	assert.True(t, s.DeferResourceIntensiveOps)
	assert.EqualValues(t, LoadSnapshotIntervalMs, s.ReplaySnapshotIntervalMs)
	assert.True(t, flags.ThrottleProgress())
	assert.Equal(t, "warning", c.HealthStatus())

	// Between 0.6 and 0.8: latched.
	c.SetSampler(fixedSample(0.1, 0.70, 0))
	c.Tick()
	assert.True(t, flags.Current().LoadAlert)

	c.SetSampler(fixedSample(0.1, 0.30, 0))
	c.Tick()
	s = flags.Current()
	assert.False(t, s.LoadAlert)
	assert.Equal(t, FrequencyNormal, s.UpdateFrequency)
	assert.False(t, s.ThrottlingEnabled)
	assert.EqualValues(t, DefaultSnapshotIntervalMs, s.ReplaySnapshotIntervalMs)
	assert.False(t, flags.ThrottleProgress())
}

func TestGameCountMitigations(t *testing.T) {
	c, flags := newTestController(t)

	c.SetSampler(fixedSample(0.1, 0.1, 150))
	c.Tick()
	s := flags.Current()
	assert.True(t, s.GameCountAlert)
	assert.True(t, s.GameCreationQueueEnabled)
	assert.True(t, s.CreationBackoffEnabled)
	assert.Equal(t, 1, s.MaxPlayersReduction)
	assert.EqualValues(t, ReducedRetentionMs, s.ReplayRetentionMs)
	assert.Equal(t, -1, flags.MaxPlayersDelta())

	// 90 active games: still latched.
	c.SetSampler(fixedSample(0.1, 0.1, 90))
	c.Tick()
	assert.True(t, flags.Current().GameCountAlert)

	c.SetSampler(fixedSample(0.1, 0.1, 40))
	c.Tick()
	s = flags.Current()
	assert.False(t, s.GameCountAlert)
	assert.False(t, s.GameCreationQueueEnabled)
	assert.Equal(t, 0, s.MaxPlayersReduction)
	assert.EqualValues(t, DefaultRetentionMs, s.ReplayRetentionMs)
}

func TestIndependentAlerts(t *testing.T) {
	c, flags := newTestController(t)

	c.SetSampler(fixedSample(0.95, 0.95, 150))
	c.Tick()
	s := flags.Current()
	assert.True(t, s.MemoryAlert)
	assert.True(t, s.LoadAlert)
	assert.True(t, s.GameCountAlert)
	assert.Equal(t, "critical", c.HealthStatus(), "memory wins over load and game count")

	// Memory clears, load stays: degraded but serving.
	c.SetSampler(fixedSample(0.10, 0.95, 150))
	c.Tick()
	assert.Equal(t, "warning", c.HealthStatus())
}

func TestApplyConfig(t *testing.T) {
	c, flags := newTestController(t)
	v0 := flags.Current().Version

	throttle := true
	freq := string(FrequencyLow)
	interval := int64(250)
	c.ApplyConfig(ConfigUpdate{
		ThrottlingEnabled:        &throttle,
		UpdateFrequency:          &freq,
		ReplaySnapshotIntervalMs: &interval,
	})

	s := flags.Current()
	assert.True(t, s.ThrottlingEnabled)
	assert.Equal(t, FrequencyLow, s.UpdateFrequency)
	assert.EqualValues(t, 250, s.ReplaySnapshotIntervalMs)
	assert.Greater(t, s.Version, v0)

	// Invalid frequency values are ignored.
	bad := "ludicrous"
	c.ApplyConfig(ConfigUpdate{UpdateFrequency: &bad})
	assert.Equal(t, FrequencyLow, flags.Current().UpdateFrequency)
}

func TestStatusReport(t *testing.T) {
	c, _ := newTestController(t)
	c.SetConnectionCounter(func() int { return 7 })

	st := c.Status()
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, 7, st.Stats.Connections)
	assert.GreaterOrEqual(t, st.Stats.Goroutines, 1)
}

func TestDeferredQueueOrdering(t *testing.T) {
	flags := NewFlags()
	q := newDeferredQueue(flags, zap.NewNop())

	var order []string
	mk := func(name string, prio int) DeferredOp {
		return DeferredOp{Name: name, Priority: prio, Run: func() error {
			order = append(order, name)
			return nil
		}}
	}
	q.push(mk("low-a", 2))
	q.push(mk("high", 9))
	q.push(mk("low-b", 2))
	q.push(mk("clamped", 99)) // clamps to 10, runs first

	for {
		op, ok := q.pop()
		if !ok {
			break
		}
		require.NoError(t, op.Run())
	}
	assert.Equal(t, []string{"clamped", "high", "low-a", "low-b"}, order)
}

func TestDeferredQueueBlockedWhileDeferred(t *testing.T) {
	flags := NewFlags()
	q := newDeferredQueue(flags, zap.NewNop())
	q.push(DeferredOp{Name: "op", Priority: 5, Run: func() error { return nil }})

	flags.mutate(func(f *Snapshot) { f.DeferResourceIntensiveOps = true })
	if _, ok := q.pop(); ok {
		t.Fatal("pop must refuse while serving is deferred")
	}
	assert.Equal(t, 1, q.depth())

	flags.mutate(func(f *Snapshot) { f.DeferResourceIntensiveOps = false })
	if _, ok := q.pop(); !ok {
		t.Fatal("expected the op once the mitigation cleared")
	}
}

func TestFlagsSnapshotIsolation(t *testing.T) {
	flags := NewFlags()
	before := flags.Current()
	flags.mutate(func(f *Snapshot) { f.ThrottlingEnabled = true })

	assert.False(t, before.ThrottlingEnabled, "earlier snapshots must be immutable")
	assert.True(t, flags.Current().ThrottlingEnabled)
	assert.Equal(t, before.Version+1, flags.Current().Version)
}
