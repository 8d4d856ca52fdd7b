package ws

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"typerace/internal/game"
	"typerace/internal/health"
	"typerace/internal/replay"
)

// Dispatcher routes inbound websocket events to the engine, replay store, and
// controller. Errors are reported to the originating connection only; success
// events flow back through the hub from the engine itself.
type Dispatcher struct {
	engine     *game.Engine
	hub        *Hub
	replays    *replay.Store
	controller *health.Controller
	log        *zap.Logger
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(engine *game.Engine, hub *Hub, replays *replay.Store, controller *health.Controller, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		engine:     engine,
		hub:        hub,
		replays:    replays,
		controller: controller,
		log:        log,
	}
}

// HandleConn owns one upgraded socket: register, pump, tear down. Blocks
// until the peer disconnects.
func (d *Dispatcher) HandleConn(sock *websocket.Conn) {
	c := newConn(sock, d.log)
	d.hub.Register(c)
	d.log.Info("client connected", zap.String("connId", c.ID))

	go c.writePump()
	c.readPump(d.handle)

	d.hub.Unregister(c)
	d.engine.DisconnectPlayer(c.ID)
	d.log.Info("client disconnected", zap.String("connId", c.ID))
}

func (d *Dispatcher) handle(c *Conn, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed message"})
		return
	}

	switch env.Type {
	case MsgCreateGame:
		d.onCreateGame(c, env.Payload)
	case MsgJoinGame:
		d.onJoinGame(c, env.Payload)
	case MsgPlayerReady:
		d.onPlayerReady(c, env.Payload)
	case MsgUpdateProgress:
		d.onUpdateProgress(c, env.Payload)
	case MsgPlayerFinished:
		d.onPlayerFinished(c, env.Payload)
	case MsgLeaveGame:
		d.onLeaveGame(c, env.Payload)
	case MsgGetReplay:
		d.onGetReplay(c, env.Payload)
	case MsgGetGameState:
		d.onGetGameState(c, env.Payload)
	case MsgGetAllGames:
		d.send(c, MsgAllGames, AllGamesPayload{Games: d.engine.List()})
	case MsgGetSystemStatus:
		d.sendSystemStatus(c)
	case MsgSetSystemConfig:
		d.onSetSystemConfig(c, env.Payload)
	default:
		d.log.Debug("unknown event type", zap.String("connId", c.ID), zap.String("type", env.Type))
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "unknown event type: " + env.Type})
	}
}

func (d *Dispatcher) onCreateGame(c *Conn, raw json.RawMessage) {
	var p CreateGamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed create_game payload"})
		return
	}
	if _, err := d.engine.CreateGame(c.ID, p.PlayerName, p.MaxPlayers); err != nil {
		d.sendError(c, err)
	}
}

func (d *Dispatcher) onJoinGame(c *Conn, raw json.RawMessage) {
	var p JoinGamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed join_game payload"})
		return
	}
	if _, _, err := d.engine.JoinGame(c.ID, p.PlayerName, p.GameID, p.IsSpectator); err != nil {
		d.sendError(c, err)
	}
}

// onPlayerReady marks the player ready and, when that completes the field,
// kicks off the countdown.
func (d *Dispatcher) onPlayerReady(c *Conn, raw json.RawMessage) {
	var p PlayerReadyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed player_ready payload"})
		return
	}
	if _, err := d.engine.PlayerReady(p.GameID, c.ID); err != nil {
		d.sendError(c, err)
		return
	}
	if d.engine.CanStartGame(p.GameID) {
		if err := d.engine.StartCountdown(p.GameID); err != nil {
			d.log.Warn("countdown start failed", zap.String("gameId", p.GameID), zap.Error(err))
		}
	}
}

func (d *Dispatcher) onUpdateProgress(c *Conn, raw json.RawMessage) {
	var p UpdateProgressPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	d.engine.UpdateProgress(p.GameID, c.ID, p.CurrentIndex, p.WPM, p.Accuracy)
}

func (d *Dispatcher) onPlayerFinished(c *Conn, raw json.RawMessage) {
	var p PlayerFinishedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed player_finished payload"})
		return
	}
	if _, err := d.engine.PlayerFinished(p.GameID, c.ID, p.WPM, p.Accuracy, p.FinishTime); err != nil {
		d.sendError(c, err)
	}
}

func (d *Dispatcher) onLeaveGame(c *Conn, raw json.RawMessage) {
	var p LeaveGamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed leave_game payload"})
		return
	}
	if _, err := d.engine.PlayerLeft(p.GameID, c.ID); err != nil {
		d.sendError(c, err)
	}
}

func (d *Dispatcher) onGetReplay(c *Conn, raw json.RawMessage) {
	var p GetReplayPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed get_replay payload"})
		return
	}
	r, ok := d.replays.Get(p.GameID)
	if !ok {
		d.sendError(c, game.ErrReplayNotFound)
		return
	}
	d.send(c, MsgReplayData, ReplayDataPayload{Replay: r})
}

func (d *Dispatcher) onGetGameState(c *Conn, raw json.RawMessage) {
	var p GetGameStatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed get_game_state payload"})
		return
	}
	v, err := d.engine.GetView(p.GameID)
	if err != nil {
		d.sendError(c, err)
		return
	}
	d.send(c, MsgGameStateUpdate, game.GameStatePayload{GameID: p.GameID, GameState: v})
}

func (d *Dispatcher) onSetSystemConfig(c *Conn, raw json.RawMessage) {
	var u health.ConfigUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		d.sendError(c, &game.Error{Code: game.CodeInternal, Message: "malformed set_system_config payload"})
		return
	}
	d.controller.ApplyConfig(u)

	st := d.controller.Status()
	d.hub.BroadcastAll(MsgGameStateUpdate, SystemStatusPayload{
		Kind:   "system_status",
		Status: st.Status,
		Flags:  st.Flags,
		Stats:  st.Stats,
	})
}

func (d *Dispatcher) sendSystemStatus(c *Conn) {
	st := d.controller.Status()
	d.send(c, MsgGameStateUpdate, SystemStatusPayload{
		Kind:   "system_status",
		Status: st.Status,
		Flags:  st.Flags,
		Stats:  st.Stats,
	})
}

func (d *Dispatcher) send(c *Conn, eventName string, payload any) {
	data, err := encodeFrame(eventName, payload)
	if err != nil {
		d.log.Error("frame encode failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	c.enqueue(data)
}

// sendError maps any error to the wire error event, sent only to the caller.
// Unknown errors collapse to INTERNAL.
func (d *Dispatcher) sendError(c *Conn, err error) {
	var ge *game.Error
	if !errors.As(err, &ge) {
		ge = &game.Error{Code: game.CodeInternal, Message: err.Error()}
	}
	data, encErr := encodeFrame(MsgError, ErrorPayload{Message: ge.Message, Code: string(ge.Code)})
	if encErr != nil {
		return
	}
	c.enqueueCritical(data)
}
