package game

import "net/http"

// Code identifies a class of engine failure. Codes travel over the wire in
// error events and map onto HTTP status codes on the admin surface.
type Code string

const (
	CodeGameNotFound        Code = "GAME_NOT_FOUND"
	CodeGameFull            Code = "GAME_FULL"
	CodePlayerNotFound      Code = "PLAYER_NOT_FOUND"
	CodePlayerAlreadyExists Code = "PLAYER_ALREADY_EXISTS"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeQueued              Code = "QUEUED"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeReplayNotFound      Code = "REPLAY_NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// Error is a typed engine error carrying a wire code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// HTTPStatus maps the error code to an HTTP status for the admin API.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeGameNotFound, CodePlayerNotFound, CodeReplayNotFound:
		return http.StatusNotFound
	case CodeGameFull, CodePlayerAlreadyExists:
		return http.StatusConflict
	case CodeInvalidState:
		return http.StatusUnprocessableEntity
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeQueued:
		return http.StatusAccepted
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrGameNotFound        = &Error{Code: CodeGameNotFound, Message: "game not found"}
	ErrGameFull            = &Error{Code: CodeGameFull, Message: "game is full"}
	ErrPlayerNotFound      = &Error{Code: CodePlayerNotFound, Message: "player not found"}
	ErrPlayerAlreadyExists = &Error{Code: CodePlayerAlreadyExists, Message: "player already in game"}
	ErrInvalidState        = &Error{Code: CodeInvalidState, Message: "game is not in the required state"}
	ErrServiceUnavailable  = &Error{Code: CodeServiceUnavailable, Message: "server is not accepting new players"}
	ErrQueued              = &Error{Code: CodeQueued, Message: "game creation queued"}
	ErrReplayNotFound      = &Error{Code: CodeReplayNotFound, Message: "replay not found"}
)
