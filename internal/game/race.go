package game

import (
	"sync"
	"time"
)

// State is the race session state machine. Transitions are totally ordered:
// Waiting → Countdown → Racing → Finished.
type State string

const (
	StateWaiting   State = "waiting"
	StateCountdown State = "countdown"
	StateRacing    State = "racing"
	StateFinished  State = "finished"
)

// Race is one race session. All fields are guarded by mu; every mutation
// goes through the Engine, which is the single authoritative writer.
type Race struct {
	mu sync.Mutex

	ID         string
	State      State
	Players    []*Player // ordered by join
	Text       string
	MaxPlayers int

	CreatedAt          time.Time
	StartTime          int64 // ms, set on Racing entry
	EndTime            int64 // ms, set on Finished entry
	CountdownRemaining int   // seconds, meaningful only in Countdown

	// Timers owned by the session, cancelled on terminal transitions.
	countdownStop chan struct{}
	raceDeadline  *time.Timer
	cleanupTimer  *time.Timer
}

// player returns the player by id, or nil. Caller holds mu.
func (r *Race) player(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// connectedRacers counts connected non-spectator players. Caller holds mu.
func (r *Race) connectedRacers() int {
	n := 0
	for _, p := range r.Players {
		if p.IsConnected && !p.IsSpectator {
			n++
		}
	}
	return n
}

// racerCount counts non-spectator players regardless of connection.
// Caller holds mu.
func (r *Race) racerCount() int {
	n := 0
	for _, p := range r.Players {
		if !p.IsSpectator {
			n++
		}
	}
	return n
}

// cancelTimers stops every pending timer. Caller holds mu.
func (r *Race) cancelTimers() {
	if r.countdownStop != nil {
		close(r.countdownStop)
		r.countdownStop = nil
	}
	if r.raceDeadline != nil {
		r.raceDeadline.Stop()
		r.raceDeadline = nil
	}
	if r.cleanupTimer != nil {
		r.cleanupTimer.Stop()
		r.cleanupTimer = nil
	}
}

// age reports how long the race has been alive: time since start when the
// race has started, otherwise time since creation.
func (r *Race) age(now time.Time) time.Duration {
	if r.StartTime > 0 {
		return now.Sub(time.UnixMilli(r.StartTime))
	}
	return now.Sub(r.CreatedAt)
}

// View is a consistent snapshot of a race, safe to marshal and broadcast.
type View struct {
	ID                 string   `json:"id"`
	State              State    `json:"state"`
	Players            []Player `json:"players"`
	Text               string   `json:"text"`
	MaxPlayers         int      `json:"maxPlayers"`
	StartTime          int64    `json:"startTime,omitempty"`
	EndTime            int64    `json:"endTime,omitempty"`
	CountdownRemaining int      `json:"countdownRemaining,omitempty"`
}

// view builds a snapshot. Caller holds mu.
func (r *Race) view() View {
	players := make([]Player, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, p.snapshot())
	}
	return View{
		ID:                 r.ID,
		State:              r.State,
		Players:            players,
		Text:               r.Text,
		MaxPlayers:         r.MaxPlayers,
		StartTime:          r.StartTime,
		EndTime:            r.EndTime,
		CountdownRemaining: r.CountdownRemaining,
	}
}

// ListItem is the compact form used by get_all_games and the admin API.
type ListItem struct {
	ID          string `json:"id"`
	PlayerCount int    `json:"playerCount"`
	State       State  `json:"state"`
}
