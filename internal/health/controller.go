package health

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"typerace/internal/game"
	"typerace/internal/replay"
)

const (
	sampleInterval   = 10 * time.Second
	snapshotLogEvery = 6 // one snapshot log per minute

	memTripPct     = 0.90
	memRecoverPct  = 0.70
	loadTripPct    = 0.80
	loadRecoverPct = 0.60
	gamesTrip      = 100
	gamesRecover   = 80
)

// HostSample is one reading of the signals the controller acts on.
type HostSample struct {
	MemPct      float64
	LoadPerCPU  float64
	ActiveGames int
}

// Sampler produces host samples. Injectable for tests.
type Sampler func() (HostSample, error)

// Controller is the self-healing control loop: it samples host metrics every
// 10 seconds and toggles mitigations with hysteresis so flags latch on trip
// and only release on recovery.
type Controller struct {
	flags    *Flags
	engine   *game.Engine
	replays  *replay.Store
	log      *zap.Logger
	sample   Sampler
	deferred *deferredQueue

	startedAt   time.Time
	sampleCount int
	connCount   func() int
}

// NewController wires the controller. The default sampler reads the Go heap
// for memory pressure and gopsutil for load average and core count.
func NewController(flags *Flags, engine *game.Engine, replays *replay.Store, log *zap.Logger) *Controller {
	c := &Controller{
		flags:     flags,
		engine:    engine,
		replays:   replays,
		log:       log,
		deferred:  newDeferredQueue(flags, log.Named("deferred")),
		startedAt: time.Now(),
		connCount: func() int { return 0 },
	}
	c.sample = c.defaultSample
	return c
}

// SetSampler replaces the host sampler (tests).
func (c *Controller) SetSampler(s Sampler) { c.sample = s }

// SetConnectionCounter wires the fan-out layer's connection count into
// system status reports.
func (c *Controller) SetConnectionCounter(fn func() int) { c.connCount = fn }

// Flags returns the shared flag set.
func (c *Controller) Flags() *Flags { return c.flags }

func (c *Controller) defaultSample() (HostSample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	memPct := 0.0
	if ms.HeapSys > 0 {
		memPct = float64(ms.HeapAlloc) / float64(ms.HeapSys)
	}

	loadPerCPU := 0.0
	if avg, err := load.Avg(); err == nil {
		cores, cerr := cpu.Counts(true)
		if cerr != nil || cores < 1 {
			cores = runtime.NumCPU()
		}
		loadPerCPU = avg.Load1 / float64(cores)
	}

	return HostSample{
		MemPct:      memPct,
		LoadPerCPU:  loadPerCPU,
		ActiveGames: c.engine.ActiveCount(),
	}, nil
}

// Start runs the sampling loop and the deferred-operation server until stop
// closes.
func (c *Controller) Start(stop <-chan struct{}) {
	go c.deferred.run(stop)
	go func() {
		ticker := time.NewTicker(sampleInterval)
		defer ticker.Stop()

		c.log.Info("self-healing controller started")
		for {
			select {
			case <-stop:
				c.log.Info("self-healing controller stopped")
				return
			case <-ticker.C:
				c.Tick()
			}
		}
	}()
}

// Tick performs one sample-and-evaluate cycle. Exported for tests.
func (c *Controller) Tick() {
	s, err := c.sample()
	if err != nil {
		c.log.Warn("host sample failed", zap.Error(err))
		return
	}

	c.sampleCount++
	if c.sampleCount%snapshotLogEvery == 0 {
		c.log.Info("health snapshot",
			zap.Float64("memPct", s.MemPct),
			zap.Float64("loadPerCpu", s.LoadPerCPU),
			zap.Int("activeGames", s.ActiveGames))
	}

	c.evaluateMemory(s)
	c.evaluateLoad(s)
	c.evaluateGameCount(s)
}

func (c *Controller) evaluateMemory(s HostSample) {
	cur := c.flags.Current()
	switch {
	case !cur.MemoryAlert && s.MemPct > memTripPct:
		c.log.Warn("memory alert tripped", zap.Float64("memPct", s.MemPct))
		c.flags.mutate(func(f *Snapshot) {
			f.MemoryAlert = true
			f.AcceptingNewPlayers = false
		})
		runtime.GC()
		c.replays.Compact()

		if after, err := c.sample(); err == nil && after.MemPct > memTripPct {
			n := c.engine.TerminateIdleGames()
			c.log.Warn("memory still high after cache clear", zap.Int("terminatedGames", n))
		}

	case cur.MemoryAlert && s.MemPct < memRecoverPct:
		c.log.Info("memory alert recovered", zap.Float64("memPct", s.MemPct))
		c.flags.mutate(func(f *Snapshot) {
			f.MemoryAlert = false
			f.AcceptingNewPlayers = true
		})
	}
}

func (c *Controller) evaluateLoad(s HostSample) {
	cur := c.flags.Current()
	switch {
	case !cur.LoadAlert && s.LoadPerCPU > loadTripPct:
		c.log.Warn("load alert tripped", zap.Float64("loadPerCpu", s.LoadPerCPU))
		c.flags.mutate(func(f *Snapshot) {
			f.LoadAlert = true
			f.UpdateFrequency = FrequencyLow
			f.ThrottlingEnabled = true
			f.DeferResourceIntensiveOps = true
			f.ReplaySnapshotIntervalMs = LoadSnapshotIntervalMs
		})

	case cur.LoadAlert && s.LoadPerCPU < loadRecoverPct:
		c.log.Info("load alert recovered", zap.Float64("loadPerCpu", s.LoadPerCPU))
		c.flags.mutate(func(f *Snapshot) {
			f.LoadAlert = false
			f.UpdateFrequency = FrequencyNormal
			f.ThrottlingEnabled = false
			f.DeferResourceIntensiveOps = false
			f.ReplaySnapshotIntervalMs = DefaultSnapshotIntervalMs
		})
	}
}

func (c *Controller) evaluateGameCount(s HostSample) {
	cur := c.flags.Current()
	switch {
	case !cur.GameCountAlert && s.ActiveGames > gamesTrip:
		c.log.Warn("game count alert tripped", zap.Int("activeGames", s.ActiveGames))
		c.flags.mutate(func(f *Snapshot) {
			f.GameCountAlert = true
			f.GameCreationQueueEnabled = true
			f.CreationBackoffEnabled = true
			f.MaxPlayersReduction = 1
			f.ReplayRetentionMs = ReducedRetentionMs
		})

	case cur.GameCountAlert && s.ActiveGames < gamesRecover:
		c.log.Info("game count alert recovered", zap.Int("activeGames", s.ActiveGames))
		c.flags.mutate(func(f *Snapshot) {
			f.GameCountAlert = false
			f.GameCreationQueueEnabled = false
			f.CreationBackoffEnabled = false
			f.MaxPlayersReduction = 0
			f.ReplayRetentionMs = DefaultRetentionMs
		})
	}
}

// QueueResourceIntensiveOperation defers a task until the CPU mitigation
// clears. Priority runs 1–10, higher first.
func (c *Controller) QueueResourceIntensiveOperation(name string, priority int, run func() error) {
	c.deferred.push(DeferredOp{Name: name, Priority: priority, Run: run})
}

// HealthStatus summarizes the alert latches: critical under memory pressure,
// warning under load or game-count pressure, ok otherwise.
func (c *Controller) HealthStatus() string {
	s := c.flags.Current()
	switch {
	case s.MemoryAlert:
		return "critical"
	case s.LoadAlert || s.GameCountAlert:
		return "warning"
	default:
		return "ok"
	}
}

// SystemStatus is the get_system_status / admin payload.
type SystemStatus struct {
	Status string   `json:"status"`
	Flags  Snapshot `json:"flags"`
	Stats  struct {
		UptimeSeconds int64      `json:"uptimeSeconds"`
		Goroutines    int        `json:"goroutines"`
		Connections   int        `json:"connections"`
		Replays       int        `json:"replays"`
		DeferredOps   int        `json:"deferredOps"`
		SystemMemUsed float64    `json:"systemMemUsedPct"`
		Engine        game.Stats `json:"engine"`
	} `json:"stats"`
}

// Status builds the full system status report. System memory comes from
// gopsutil and is informational; the mitigation signal is the heap ratio.
func (c *Controller) Status() SystemStatus {
	st := SystemStatus{
		Status: c.HealthStatus(),
		Flags:  c.flags.Current(),
	}
	st.Stats.UptimeSeconds = int64(time.Since(c.startedAt).Seconds())
	st.Stats.Goroutines = runtime.NumGoroutine()
	st.Stats.Connections = c.connCount()
	st.Stats.Replays = c.replays.Count()
	st.Stats.DeferredOps = c.deferred.depth()
	st.Stats.Engine = c.engine.GetStats()
	if vm, err := mem.VirtualMemory(); err == nil {
		st.Stats.SystemMemUsed = vm.UsedPercent
	}
	return st
}

// ConfigUpdate is the subset of tunables exposed to set_system_config and
// the admin API. Nil fields are left unchanged.
type ConfigUpdate struct {
	AcceptingNewPlayers       *bool   `json:"acceptingNewPlayers,omitempty"`
	ThrottlingEnabled         *bool   `json:"throttlingEnabled,omitempty"`
	UpdateFrequency           *string `json:"updateFrequency,omitempty"`
	ReplaySnapshotIntervalMs  *int64  `json:"replaySnapshotIntervalMs,omitempty"`
	ReplayRetentionMs         *int64  `json:"replayRetentionMs,omitempty"`
	GameCreationQueueEnabled  *bool   `json:"gameCreationQueueEnabled,omitempty"`
	CreationBackoffEnabled    *bool   `json:"creationBackoffEnabled,omitempty"`
	DeferResourceIntensiveOps *bool   `json:"deferResourceIntensiveOps,omitempty"`
}

// ApplyConfig applies a manual tunable override.
func (c *Controller) ApplyConfig(u ConfigUpdate) {
	c.flags.mutate(func(f *Snapshot) {
		if u.AcceptingNewPlayers != nil {
			f.AcceptingNewPlayers = *u.AcceptingNewPlayers
		}
		if u.ThrottlingEnabled != nil {
			f.ThrottlingEnabled = *u.ThrottlingEnabled
		}
		if u.UpdateFrequency != nil {
			switch UpdateFrequency(*u.UpdateFrequency) {
			case FrequencyNormal, FrequencyLow:
				f.UpdateFrequency = UpdateFrequency(*u.UpdateFrequency)
			}
		}
		if u.ReplaySnapshotIntervalMs != nil && *u.ReplaySnapshotIntervalMs > 0 {
			f.ReplaySnapshotIntervalMs = *u.ReplaySnapshotIntervalMs
		}
		if u.ReplayRetentionMs != nil && *u.ReplayRetentionMs > 0 {
			f.ReplayRetentionMs = *u.ReplayRetentionMs
		}
		if u.GameCreationQueueEnabled != nil {
			f.GameCreationQueueEnabled = *u.GameCreationQueueEnabled
		}
		if u.CreationBackoffEnabled != nil {
			f.CreationBackoffEnabled = *u.CreationBackoffEnabled
		}
		if u.DeferResourceIntensiveOps != nil {
			f.DeferResourceIntensiveOps = *u.DeferResourceIntensiveOps
		}
	})
	c.log.Info("system config updated", zap.Uint64("version", c.flags.Current().Version))
}
