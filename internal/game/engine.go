package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"typerace/internal/replay"
	"typerace/internal/text"
)

const (
	idleWaitingAge = 5 * time.Minute
	longTextOneIn  = 4
)

// Options are the engine's race-shaping knobs, loaded from configuration.
type Options struct {
	MaxPlayers        int
	MinPlayersToStart int
	CountdownSeconds  int
	MaxRaceTime       time.Duration
	CleanupDelay      time.Duration
}

// Engine owns all session and player state and is the single authoritative
// mutator. Mutations are serialized per session by the race lock; the
// registry lock only guards the maps. Lock order: registry before race.
type Engine struct {
	mu          sync.RWMutex
	races       map[string]*Race
	playerRaces map[string]map[string]struct{}

	texts   *text.Provider
	replays *replay.Store
	gate    Gate
	sink    Sink
	log     *zap.Logger
	opts    Options
	queue   *creationQueue

	now func() time.Time
}

// NewEngine wires the engine's collaborators. The sink may be set later via
// SetSink to break the construction cycle with the fan-out layer.
func NewEngine(texts *text.Provider, replays *replay.Store, gate Gate, opts Options, log *zap.Logger) *Engine {
	e := &Engine{
		races:       make(map[string]*Race),
		playerRaces: make(map[string]map[string]struct{}),
		texts:       texts,
		replays:     replays,
		gate:        gate,
		log:         log,
		opts:        opts,
		now:         time.Now,
	}
	e.queue = newCreationQueue(e, log.Named("queue"))
	return e
}

// SetSink attaches the fan-out layer.
func (e *Engine) SetSink(s Sink) { e.sink = s }

// StartQueue runs the creation-queue drain loop until stop is closed.
func (e *Engine) StartQueue(stop <-chan struct{}) { go e.queue.run(stop) }

// QueueDepth reports pending queued creations.
func (e *Engine) QueueDepth() int { return e.queue.depth() }

func (e *Engine) nowMs() int64 { return e.now().UnixMilli() }

// CreateGame creates a new Waiting session with the caller as first player.
// Under mitigation it either refuses (ServiceUnavailable) or queues (Queued).
func (e *Engine) CreateGame(playerID, playerName string, maxPlayers int) (View, error) {
	if !e.gate.AcceptingNewPlayers() {
		return View{}, ErrServiceUnavailable
	}
	if e.gate.CreationQueueEnabled() {
		e.queue.enqueue(playerID, playerName, maxPlayers, e.now())
		return View{}, ErrQueued
	}
	return e.createNow(playerID, playerName, maxPlayers)
}

// createNow allocates a session unconditionally. Also the queue drain path.
func (e *Engine) createNow(playerID, playerName string, maxPlayers int) (View, error) {
	if maxPlayers <= 0 {
		maxPlayers = e.opts.MaxPlayers
	}
	if d := e.gate.MaxPlayersDelta(); d != 0 {
		maxPlayers += d
		if maxPlayers < 2 {
			maxPlayers = 2
		}
	}

	kind := text.KindShort
	if time.Now().UnixNano()%longTextOneIn == 0 {
		kind = text.KindLong
	}

	r := &Race{
		ID:         uuid.NewString(),
		State:      StateWaiting,
		Text:       e.texts.Random(kind),
		MaxPlayers: maxPlayers,
		CreatedAt:  e.now(),
	}
	p := NewPlayer(playerID, playerName, ColorPalette[0])
	r.Players = append(r.Players, p)

	e.mu.Lock()
	e.races[r.ID] = r
	e.trackPlayer(playerID, r.ID)
	e.mu.Unlock()

	e.log.Info("game created",
		zap.String("gameId", r.ID),
		zap.String("playerId", playerID),
		zap.Int("maxPlayers", maxPlayers))

	r.mu.Lock()
	v := r.view()
	r.mu.Unlock()

	e.sink.Join(r.ID, playerID)
	e.sink.Direct(playerID, Event{Type: EventGameState, Payload: GameStatePayload{GameID: r.ID, GameState: v}})
	e.sink.Broadcast(r.ID, Event{Type: EventPlayerJoined, Payload: PlayerJoinedPayload{GameID: r.ID, Player: p.snapshot()}})
	return v, nil
}

// JoinGame adds a player to a session. With no session id it matchmakes into
// any Waiting session with room, falling back to CreateGame. Reconnecting a
// disconnected player revives their existing slot; joining a session past
// Waiting (or asking for it) makes the player a spectator.
func (e *Engine) JoinGame(playerID, playerName, raceID string, wantSpectator bool) (View, bool, error) {
	if raceID == "" {
		raceID = e.findOpenRace()
		if raceID == "" {
			v, err := e.CreateGame(playerID, playerName, 0)
			return v, false, err
		}
	}

	e.mu.Lock()
	r, ok := e.races[raceID]
	if !ok {
		e.mu.Unlock()
		return View{}, false, ErrGameNotFound
	}
	e.trackPlayer(playerID, raceID)
	e.mu.Unlock()

	r.mu.Lock()
	if existing := r.player(playerID); existing != nil {
		if existing.IsConnected {
			r.mu.Unlock()
			e.untrackIfAbsent(playerID, raceID)
			return View{}, false, ErrPlayerAlreadyExists
		}
		existing.IsConnected = true
		v := r.view()
		snap := existing.snapshot()
		r.mu.Unlock()

		e.log.Info("player reconnected", zap.String("gameId", raceID), zap.String("playerId", playerID))
		e.sink.Join(raceID, playerID)
		e.sink.Direct(playerID, Event{Type: EventGameState, Payload: GameStatePayload{GameID: raceID, GameState: v}})
		e.sink.Broadcast(raceID, Event{Type: EventPlayerJoined, Payload: PlayerJoinedPayload{GameID: raceID, Player: snap}})
		return v, snap.IsSpectator, nil
	}

	var p *Player
	spectator := wantSpectator || r.State != StateWaiting
	if spectator {
		p = NewSpectator(playerID, playerName)
	} else {
		if r.racerCount() >= r.MaxPlayers {
			r.mu.Unlock()
			e.untrackIfAbsent(playerID, raceID)
			return View{}, false, ErrGameFull
		}
		p = NewPlayer(playerID, playerName, ColorPalette[r.racerCount()%len(ColorPalette)])
	}
	r.Players = append(r.Players, p)
	v := r.view()
	snap := p.snapshot()
	r.mu.Unlock()

	e.log.Info("player joined",
		zap.String("gameId", raceID),
		zap.String("playerId", playerID),
		zap.Bool("spectator", spectator))

	e.sink.Join(raceID, playerID)
	e.sink.Direct(playerID, Event{Type: EventGameState, Payload: GameStatePayload{GameID: raceID, GameState: v}})
	e.sink.Broadcast(raceID, Event{Type: EventPlayerJoined, Payload: PlayerJoinedPayload{GameID: raceID, Player: snap}})
	return v, spectator, nil
}

// findOpenRace returns any Waiting session with a free racer slot.
func (e *Engine) findOpenRace() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, r := range e.races {
		r.mu.Lock()
		open := r.State == StateWaiting && r.racerCount() < r.MaxPlayers
		r.mu.Unlock()
		if open {
			return id
		}
	}
	return ""
}

// PlayerReady marks a player ready. Idempotent.
func (e *Engine) PlayerReady(raceID, playerID string) (View, error) {
	r, err := e.race(raceID)
	if err != nil {
		return View{}, err
	}

	r.mu.Lock()
	p := r.player(playerID)
	if p == nil {
		r.mu.Unlock()
		return View{}, ErrPlayerNotFound
	}
	p.IsReady = true
	v := r.view()
	r.mu.Unlock()

	e.sink.Broadcast(raceID, Event{Type: EventGameState, Payload: GameStatePayload{GameID: raceID, GameState: v}})
	return v, nil
}

// CanStartGame reports whether every connected non-spectator is ready and
// enough of them are present. Consulted by the fan-out after each ready.
func (e *Engine) CanStartGame(raceID string) bool {
	r, err := e.race(raceID)
	if err != nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State != StateWaiting {
		return false
	}
	racers := 0
	for _, p := range r.Players {
		if p.IsSpectator || !p.IsConnected {
			continue
		}
		if !p.IsReady {
			return false
		}
		racers++
	}
	return racers >= e.opts.MinPlayersToStart
}

// StartCountdown transitions Waiting → Countdown, creates the replay, and
// arms a 1 Hz ticker that emits game_countdown and hands off to StartRace.
func (e *Engine) StartCountdown(raceID string) error {
	r, err := e.race(raceID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.State != StateWaiting {
		r.mu.Unlock()
		return ErrInvalidState
	}
	r.State = StateCountdown
	r.CountdownRemaining = e.opts.CountdownSeconds
	stop := make(chan struct{})
	r.countdownStop = stop
	remaining := r.CountdownRemaining
	textStr := r.Text
	r.mu.Unlock()

	e.replays.Create(raceID, textStr)
	e.log.Info("countdown started", zap.String("gameId", raceID), zap.Int("seconds", remaining))
	e.sink.Broadcast(raceID, Event{Type: EventCountdown, Payload: CountdownPayload{GameID: raceID, Countdown: remaining}})

	go e.runCountdown(r, stop)
	return nil
}

// runCountdown is the countdown ticker task. Panics are isolated so a failed
// tick cannot take the process down; the session is recovered by cleanup.
func (e *Engine) runCountdown(r *Race, stop <-chan struct{}) {
	defer func() {
		if rec := recover(); rec != nil {
			e.log.Error("countdown tick panicked", zap.String("gameId", r.ID), zap.Any("panic", rec))
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			// countdownStop is nilled under the lock on both cancellation
			// and handoff, so a cancelled countdown never ticks again.
			if r.State != StateCountdown || r.countdownStop == nil {
				r.mu.Unlock()
				return
			}
			r.CountdownRemaining--
			remaining := r.CountdownRemaining
			r.mu.Unlock()

			if remaining > 0 {
				e.sink.Broadcast(r.ID, Event{Type: EventCountdown, Payload: CountdownPayload{GameID: r.ID, Countdown: remaining}})
				continue
			}
			if err := e.StartRace(r.ID); err != nil {
				e.log.Warn("countdown handoff failed", zap.String("gameId", r.ID), zap.Error(err))
			}
			return
		}
	}
}

// StartRace transitions Countdown → Racing: stamps startTime, resets racer
// progress, and arms the max-race-time deadline.
func (e *Engine) StartRace(raceID string) error {
	r, err := e.race(raceID)
	if err != nil {
		return err
	}

	startMs := e.nowMs()
	r.mu.Lock()
	if r.State != StateCountdown {
		r.mu.Unlock()
		return ErrInvalidState
	}
	r.State = StateRacing
	r.StartTime = startMs
	r.CountdownRemaining = 0
	if r.countdownStop != nil {
		close(r.countdownStop)
		r.countdownStop = nil
	}
	for _, p := range r.Players {
		if !p.IsSpectator {
			p.resetProgress()
		}
	}
	r.raceDeadline = time.AfterFunc(e.opts.MaxRaceTime, func() {
		if err := e.EndRace(raceID); err != nil {
			e.log.Warn("race deadline cleanup failed", zap.String("gameId", raceID), zap.Error(err))
		}
	})
	r.mu.Unlock()

	e.replays.SetStartTime(raceID, startMs)
	e.log.Info("race started", zap.String("gameId", raceID))
	e.sink.Broadcast(raceID, Event{Type: EventStarted, Payload: StartedPayload{GameID: raceID, StartTime: startMs}})
	return nil
}

// UpdateProgress ingests a client progress report. Only valid while Racing;
// anything else is dropped with a warning to avoid error-spam loops.
// Spectator reports are ignored entirely.
func (e *Engine) UpdateProgress(raceID, playerID string, currentIndex int, wpm, accuracy float64) {
	r, err := e.race(raceID)
	if err != nil {
		e.log.Warn("progress for unknown game", zap.String("gameId", raceID))
		return
	}

	nowMs := e.nowMs()
	r.mu.Lock()
	if r.State != StateRacing {
		r.mu.Unlock()
		e.log.Warn("progress outside racing state",
			zap.String("gameId", raceID),
			zap.String("playerId", playerID),
			zap.String("state", string(r.State)))
		return
	}
	p := r.player(playerID)
	if p == nil || p.IsSpectator {
		r.mu.Unlock()
		return
	}

	textLen := len(r.Text)
	if currentIndex > textLen {
		currentIndex = textLen
	}
	p.CurrentIndex = currentIndex
	p.WPM = wpm
	p.Accuracy = accuracy
	p.Position = 100
	if textLen > 0 {
		p.Position = float64(currentIndex) / float64(textLen) * 100
		if p.Position > 100 {
			p.Position = 100
		}
	}

	justFinished := false
	finishRank := 0
	if p.Position >= 100 && p.FinishTime == nil {
		ft := nowMs
		p.FinishTime = &ft
		justFinished = true
		for _, q := range r.Players {
			if q.FinishTime != nil {
				finishRank++
			}
		}
	}
	snap := replay.Snapshot{
		Timestamp:    nowMs,
		Position:     p.Position,
		CurrentIndex: p.CurrentIndex,
		WPM:          p.WPM,
		Accuracy:     p.Accuracy,
	}
	name := p.Name
	finishTime := p.FinishTime
	stats := [2]float64{p.WPM, p.Accuracy}
	allDone := r.allConnectedRacersFinished()
	progress := ProgressPayload{
		Kind:         "progress_update",
		GameID:       raceID,
		PlayerID:     playerID,
		Position:     p.Position,
		CurrentIndex: p.CurrentIndex,
		WPM:          p.WPM,
		Accuracy:     p.Accuracy,
	}
	r.mu.Unlock()

	e.replays.Record(raceID, playerID, name, snap, e.gate.SnapshotIntervalMs())
	if justFinished {
		e.replays.Finalize(raceID, playerID, replay.FinalStats{
			WPM:        stats[0],
			Accuracy:   stats[1],
			FinishTime: finishTime,
			Rank:       finishRank,
		})
	}

	e.sink.Broadcast(raceID, Event{Type: EventProgress, Payload: progress})

	if allDone {
		if err := e.EndRace(raceID); err != nil {
			e.log.Warn("end race after final progress failed", zap.String("gameId", raceID), zap.Error(err))
		}
	}
}

// allConnectedRacersFinished reports whether every connected non-spectator
// has a finish time. False when there are none. Caller holds r.mu.
func (r *Race) allConnectedRacersFinished() bool {
	any := false
	for _, p := range r.Players {
		if p.IsSpectator || !p.IsConnected {
			continue
		}
		if p.FinishTime == nil {
			return false
		}
		any = true
	}
	return any
}

// PlayerFinished is the authoritative client-reported finish. It forces
// position to 100 and reports whether the whole field is now done, in which
// case the race is also ended. The second call for a player is a no-op that
// returns false.
func (e *Engine) PlayerFinished(raceID, playerID string, wpm, accuracy float64, finishTime int64) (bool, error) {
	r, err := e.race(raceID)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if r.State != StateRacing {
		r.mu.Unlock()
		return false, nil
	}
	p := r.player(playerID)
	if p == nil {
		r.mu.Unlock()
		return false, ErrPlayerNotFound
	}
	if p.IsSpectator || p.FinishTime != nil {
		r.mu.Unlock()
		return false, nil
	}

	if finishTime <= 0 {
		finishTime = e.nowMs()
	}
	p.Position = 100
	p.CurrentIndex = len(r.Text)
	p.WPM = wpm
	p.Accuracy = accuracy
	p.FinishTime = &finishTime
	rank := 0
	for _, q := range r.Players {
		if q.FinishTime != nil {
			rank++
		}
	}
	name := p.Name
	allDone := r.allConnectedRacersFinished()
	r.mu.Unlock()

	e.replays.Record(raceID, playerID, name, replay.Snapshot{
		Timestamp:    finishTime,
		Position:     100,
		CurrentIndex: len(r.Text),
		WPM:          wpm,
		Accuracy:     accuracy,
	}, e.gate.SnapshotIntervalMs())
	e.replays.Finalize(raceID, playerID, replay.FinalStats{
		WPM:        wpm,
		Accuracy:   accuracy,
		FinishTime: &finishTime,
		Rank:       rank,
	})

	e.log.Info("player finished",
		zap.String("gameId", raceID),
		zap.String("playerId", playerID),
		zap.Int("rank", rank))

	if allDone {
		if err := e.EndRace(raceID); err != nil {
			return true, err
		}
	}
	return allDone, nil
}

// EndRace transitions Racing → Finished: stamps endTime, finalizes stragglers
// in the replay, emits the ranked summary, and schedules cleanup. Idempotent
// once the race has finished.
func (e *Engine) EndRace(raceID string) error {
	r, err := e.race(raceID)
	if err != nil {
		return err
	}

	endMs := e.nowMs()
	r.mu.Lock()
	if r.State == StateFinished {
		r.mu.Unlock()
		return nil
	}
	if r.State != StateRacing {
		r.mu.Unlock()
		return ErrInvalidState
	}
	r.State = StateFinished
	r.EndTime = endMs
	if r.raceDeadline != nil {
		r.raceDeadline.Stop()
		r.raceDeadline = nil
	}

	// Stragglers keep their last observed stats; no finish time, no rank
	// boost. Rank comes from the summary ordering.
	type straggler struct {
		id, name      string
		wpm, accuracy float64
		rank          int
	}
	var unfinished []straggler
	v := r.view()
	for _, rk := range RankPlayers(v.Players) {
		if !rk.Finished {
			unfinished = append(unfinished, straggler{
				id: rk.ID, name: rk.Name, wpm: rk.WPM, accuracy: rk.Accuracy, rank: rk.Rank,
			})
		}
	}
	r.cleanupTimer = time.AfterFunc(e.opts.CleanupDelay, func() {
		e.destroy(raceID)
	})
	r.mu.Unlock()

	e.replays.SetEndTime(raceID, endMs)
	for _, s := range unfinished {
		e.replays.Finalize(raceID, s.id, replay.FinalStats{
			WPM:      s.wpm,
			Accuracy: s.accuracy,
			Rank:     s.rank,
		})
	}

	summary := BuildSummary(v)
	e.log.Info("race finished",
		zap.String("gameId", raceID),
		zap.Int64("totalTimeMs", summary.TotalTime),
		zap.Int("players", len(summary.Rankings)))
	e.sink.Broadcast(raceID, Event{Type: EventFinished, Payload: FinishedPayload{GameState: v, Summary: summary}})
	return nil
}

// PlayerLeft handles departure. While Waiting the player is removed (empty
// sessions are deleted immediately); from Countdown onward the player is
// only marked disconnected so rankings survive. An emptied field ends or
// schedules teardown of the session.
func (e *Engine) PlayerLeft(raceID, playerID string) (View, error) {
	r, err := e.race(raceID)
	if err != nil {
		return View{}, err
	}

	r.mu.Lock()
	p := r.player(playerID)
	if p == nil {
		r.mu.Unlock()
		return View{}, ErrPlayerNotFound
	}

	endRace := false
	destroyNow := false
	if r.State == StateWaiting {
		for i, q := range r.Players {
			if q.ID == playerID {
				r.Players = append(r.Players[:i], r.Players[i+1:]...)
				break
			}
		}
		destroyNow = len(r.Players) == 0
	} else {
		p.IsConnected = false
		if r.connectedRacers() == 0 {
			switch r.State {
			case StateRacing:
				endRace = true
			case StateCountdown:
				// Cancel the countdown so the race never starts for an
				// empty field, then let cleanup collect the session.
				if r.countdownStop != nil {
					close(r.countdownStop)
					r.countdownStop = nil
				}
				if r.cleanupTimer == nil {
					r.cleanupTimer = time.AfterFunc(e.opts.CleanupDelay, func() {
						e.destroy(raceID)
					})
				}
			}
		}
	}
	v := r.view()
	r.mu.Unlock()

	e.mu.Lock()
	e.untrackPlayer(playerID, raceID)
	e.mu.Unlock()
	e.sink.Leave(raceID, playerID)

	e.log.Info("player left",
		zap.String("gameId", raceID),
		zap.String("playerId", playerID),
		zap.String("state", string(v.State)))

	if destroyNow {
		e.destroy(raceID)
		return v, nil
	}

	e.sink.Broadcast(raceID, Event{Type: EventPlayerLeft, Payload: PlayerLeftPayload{GameID: raceID, PlayerID: playerID}})
	if endRace {
		if err := e.EndRace(raceID); err != nil {
			e.log.Warn("end race on empty field failed", zap.String("gameId", raceID), zap.Error(err))
		}
	}
	return v, nil
}

// DisconnectPlayer routes a dropped connection to PlayerLeft for every
// session the player belongs to.
func (e *Engine) DisconnectPlayer(playerID string) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.playerRaces[playerID]))
	for id := range e.playerRaces[playerID] {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		if _, err := e.PlayerLeft(id, playerID); err != nil {
			e.log.Warn("disconnect cleanup failed", zap.String("gameId", id), zap.String("playerId", playerID), zap.Error(err))
		}
	}
}

// destroy removes a session, cancels its timers, tears down its room, and
// arms replay retention.
func (e *Engine) destroy(raceID string) {
	e.mu.Lock()
	r, ok := e.races[raceID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.races, raceID)
	for pid, set := range e.playerRaces {
		delete(set, raceID)
		if len(set) == 0 {
			delete(e.playerRaces, pid)
		}
	}
	e.mu.Unlock()

	r.mu.Lock()
	r.cancelTimers()
	r.mu.Unlock()

	e.sink.DropRoom(raceID)
	e.replays.ScheduleEviction(raceID, time.Duration(e.gate.RetentionMs())*time.Millisecond)
	e.log.Info("game destroyed", zap.String("gameId", raceID))
}

// TerminateIdleGames force-deletes Finished sessions and stale Waiting
// sessions (≤1 connected player, alive ≥5 minutes). Memory-trip mitigation.
func (e *Engine) TerminateIdleGames() int {
	e.mu.RLock()
	candidates := make([]*Race, 0, len(e.races))
	for _, r := range e.races {
		candidates = append(candidates, r)
	}
	e.mu.RUnlock()

	now := e.now()
	terminated := 0
	for _, r := range candidates {
		r.mu.Lock()
		idle := r.State == StateFinished ||
			(r.State == StateWaiting && r.connectedRacers() <= 1 && r.age(now) >= idleWaitingAge)
		id := r.ID
		r.mu.Unlock()
		if !idle {
			continue
		}
		e.sink.Broadcast(id, Event{Type: EventTerminated, Payload: TerminatedPayload{GameID: id, Reason: "idle"}})
		e.destroy(id)
		terminated++
	}
	if terminated > 0 {
		e.log.Info("idle games terminated", zap.Int("count", terminated))
	}
	return terminated
}

// ClearCaches compacts replay snapshot buffers. Memory-trip mitigation.
func (e *Engine) ClearCaches() int { return e.replays.Compact() }

// GetView returns a consistent snapshot of one session.
func (e *Engine) GetView(raceID string) (View, error) {
	r, err := e.race(raceID)
	if err != nil {
		return View{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view(), nil
}

// List returns the compact session list for get_all_games and the admin API.
func (e *Engine) List() []ListItem {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ListItem, 0, len(e.races))
	for _, r := range e.races {
		r.mu.Lock()
		out = append(out, ListItem{ID: r.ID, PlayerCount: len(r.Players), State: r.State})
		r.mu.Unlock()
	}
	return out
}

// ActiveCount reports the number of live sessions.
func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.races)
}

// Stats summarizes engine state for monitoring.
type Stats struct {
	ActiveGames  int           `json:"activeGames"`
	TotalPlayers int           `json:"totalPlayers"`
	ByState      map[State]int `json:"byState"`
	QueueDepth   int           `json:"queueDepth"`
}

// GetStats builds a monitoring snapshot.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Stats{ByState: make(map[State]int), QueueDepth: e.queue.depth()}
	for _, r := range e.races {
		r.mu.Lock()
		s.ActiveGames++
		s.TotalPlayers += len(r.Players)
		s.ByState[r.State]++
		r.mu.Unlock()
	}
	return s
}

// Shutdown cancels all session timers. Used on process exit.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.races {
		r.mu.Lock()
		r.cancelTimers()
		r.mu.Unlock()
	}
}

func (e *Engine) race(raceID string) (*Race, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.races[raceID]
	if !ok {
		return nil, ErrGameNotFound
	}
	return r, nil
}

// trackPlayer records session membership. Caller holds e.mu.
func (e *Engine) trackPlayer(playerID, raceID string) {
	set, ok := e.playerRaces[playerID]
	if !ok {
		set = make(map[string]struct{})
		e.playerRaces[playerID] = set
	}
	set[raceID] = struct{}{}
}

// untrackPlayer drops session membership. Caller holds e.mu.
func (e *Engine) untrackPlayer(playerID, raceID string) {
	if set, ok := e.playerRaces[playerID]; ok {
		delete(set, raceID)
		if len(set) == 0 {
			delete(e.playerRaces, playerID)
		}
	}
}

// untrackIfAbsent undoes speculative tracking after a failed join.
func (e *Engine) untrackIfAbsent(playerID, raceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.races[raceID]; ok {
		r.mu.Lock()
		present := r.player(playerID) != nil
		r.mu.Unlock()
		if present {
			return
		}
	}
	e.untrackPlayer(playerID, raceID)
}
