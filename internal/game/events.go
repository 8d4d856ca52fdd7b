package game

// EventType tags an outbound engine event. The fan-out layer maps these onto
// wire event names; progress updates are a distinct variant so the fan-out
// can throttle them without inspecting payloads.
type EventType string

const (
	EventGameState    EventType = "game_state_update"
	EventProgress     EventType = "progress_update"
	EventPlayerJoined EventType = "player_joined"
	EventPlayerLeft   EventType = "player_left"
	EventCountdown    EventType = "game_countdown"
	EventStarted      EventType = "game_started"
	EventFinished     EventType = "game_finished"
	EventTerminated   EventType = "game_terminated"
)

// Event is an outbound engine event with a typed payload.
type Event struct {
	Type    EventType
	Payload any
}

// Sink is the fan-out layer as seen by the engine: room membership plus
// room-scoped broadcast and per-player direct delivery. Implementations must
// not block; slow peers are isolated behind bounded per-connection queues.
type Sink interface {
	Join(raceID, playerID string)
	Leave(raceID, playerID string)
	DropRoom(raceID string)
	Broadcast(raceID string, ev Event)
	Direct(playerID string, ev Event)
}

// Gate exposes the self-healing tunables the engine consults on hot paths.
// Implemented by health.Flags as a lock-free snapshot read.
type Gate interface {
	AcceptingNewPlayers() bool
	CreationQueueEnabled() bool
	CreationBackoffEnabled() bool
	SnapshotIntervalMs() int64
	RetentionMs() int64
	MaxPlayersDelta() int
}

// GameStatePayload carries a full session snapshot.
type GameStatePayload struct {
	GameID    string `json:"gameId"`
	GameState View   `json:"gameState"`
}

// ProgressPayload is the throttleable per-player progress broadcast,
// delivered on the wire as game_state_update{type:progress_update}.
type ProgressPayload struct {
	Kind         string  `json:"type"`
	GameID       string  `json:"gameId"`
	PlayerID     string  `json:"playerId"`
	Position     float64 `json:"position"`
	CurrentIndex int     `json:"currentIndex"`
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
}

// PlayerJoinedPayload announces a new participant to the room.
type PlayerJoinedPayload struct {
	GameID string `json:"gameId"`
	Player Player `json:"player"`
}

// PlayerLeftPayload announces a departure to the room.
type PlayerLeftPayload struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

// CountdownPayload is one countdown tick.
type CountdownPayload struct {
	GameID    string `json:"gameId"`
	Countdown int    `json:"countdown"`
}

// StartedPayload marks the Racing transition.
type StartedPayload struct {
	GameID    string `json:"gameId"`
	StartTime int64  `json:"startTime"`
}

// FinishedPayload carries the terminal state and ranked summary.
type FinishedPayload struct {
	GameState View    `json:"gameState"`
	Summary   Summary `json:"summary"`
}

// TerminatedPayload announces a forced teardown.
type TerminatedPayload struct {
	GameID string `json:"gameId"`
	Reason string `json:"reason"`
}
