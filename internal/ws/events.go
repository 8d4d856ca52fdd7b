package ws

import (
	"encoding/json"
	"fmt"

	"typerace/internal/game"
)

// Inbound event names (client → server).
const (
	MsgCreateGame      = "create_game"
	MsgJoinGame        = "join_game"
	MsgPlayerReady     = "player_ready"
	MsgUpdateProgress  = "update_progress"
	MsgPlayerFinished  = "player_finished"
	MsgLeaveGame       = "leave_game"
	MsgGetReplay       = "get_replay"
	MsgGetGameState    = "get_game_state"
	MsgGetAllGames     = "get_all_games"
	MsgGetSystemStatus = "get_system_status"
	MsgSetSystemConfig = "set_system_config"
)

// Outbound event names (server → room/connection).
const (
	MsgGameStateUpdate = "game_state_update"
	MsgPlayerJoined    = "player_joined"
	MsgPlayerLeft      = "player_left"
	MsgGameCountdown   = "game_countdown"
	MsgGameStarted     = "game_started"
	MsgGameFinished    = "game_finished"
	MsgGameTerminated  = "game_terminated"
	MsgReplayData      = "replay_data"
	MsgAllGames        = "all_games"
	MsgError           = "error"
)

// Envelope is the wire frame: a tagged event with a JSON payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads.

type CreateGamePayload struct {
	PlayerName string `json:"playerName"`
	MaxPlayers int    `json:"maxPlayers,omitempty"`
}

type JoinGamePayload struct {
	PlayerName  string `json:"playerName"`
	GameID      string `json:"gameId,omitempty"`
	IsSpectator bool   `json:"isSpectator,omitempty"`
}

type PlayerReadyPayload struct {
	GameID string `json:"gameId"`
}

type UpdateProgressPayload struct {
	GameID       string  `json:"gameId"`
	CurrentIndex int     `json:"currentIndex"`
	WPM          float64 `json:"wpm"`
	Accuracy     float64 `json:"accuracy"`
}

type PlayerFinishedPayload struct {
	GameID     string  `json:"gameId"`
	WPM        float64 `json:"wpm"`
	Accuracy   float64 `json:"accuracy"`
	FinishTime int64   `json:"finishTime"`
}

type LeaveGamePayload struct {
	GameID string `json:"gameId"`
}

type GetReplayPayload struct {
	GameID string `json:"gameId"`
}

type GetGameStatePayload struct {
	GameID string `json:"gameId"`
}

// Outbound payloads not owned by the engine.

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ReplayDataPayload struct {
	Replay any `json:"replay"`
}

type AllGamesPayload struct {
	Games []game.ListItem `json:"games"`
}

// SystemStatusPayload rides on game_state_update with a type discriminator,
// mirroring progress updates.
type SystemStatusPayload struct {
	Kind   string `json:"type"`
	Status string `json:"status"`
	Flags  any    `json:"flags"`
	Stats  any    `json:"stats"`
}

// wireName maps an engine event onto its outbound wire name. Progress
// updates share the game_state_update name; the payload discriminator
// distinguishes them.
func wireName(t game.EventType) string {
	switch t {
	case game.EventGameState, game.EventProgress:
		return MsgGameStateUpdate
	case game.EventPlayerJoined:
		return MsgPlayerJoined
	case game.EventPlayerLeft:
		return MsgPlayerLeft
	case game.EventCountdown:
		return MsgGameCountdown
	case game.EventStarted:
		return MsgGameStarted
	case game.EventFinished:
		return MsgGameFinished
	case game.EventTerminated:
		return MsgGameTerminated
	default:
		return string(t)
	}
}

// isCritical reports whether an event must never be dropped from a
// connection's outbound queue.
func isCritical(t game.EventType) bool {
	switch t {
	case game.EventCountdown, game.EventStarted, game.EventFinished, game.EventTerminated:
		return true
	default:
		return false
	}
}

// encodeFrame marshals a complete outbound frame.
func encodeFrame(eventName string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventName, err)
	}
	return json.Marshal(Envelope{Type: eventName, Payload: raw})
}
