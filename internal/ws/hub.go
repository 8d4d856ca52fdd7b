package ws

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"typerace/internal/game"
	"typerace/internal/health"
)

// progressKeepOneIn is the pass rate for progress broadcasts while the load
// mitigation is active: one frame in five goes out, the rest are shed.
const progressKeepOneIn = 5

// Hub tracks live connections and their room membership, and fans engine
// events out to them. It implements game.Sink; the engine decides who belongs
// to which room, the hub only delivers.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	rooms map[string]map[string]*Conn

	flags *health.Flags
	log   *zap.Logger

	progressSeq atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(flags *health.Flags, log *zap.Logger) *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
		flags: flags,
		log:   log,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID] = c
}

// Unregister drops a connection and scrubs it from every room.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.ID)
	for raceID, room := range h.rooms {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, raceID)
		}
	}
}

// Count reports live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Join implements game.Sink.
func (h *Hub) Join(raceID, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[playerID]
	if !ok {
		return
	}
	room, ok := h.rooms[raceID]
	if !ok {
		room = make(map[string]*Conn)
		h.rooms[raceID] = room
	}
	room[playerID] = c
}

// Leave implements game.Sink.
func (h *Hub) Leave(raceID, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[raceID]
	if !ok {
		return
	}
	delete(room, playerID)
	if len(room) == 0 {
		delete(h.rooms, raceID)
	}
}

// DropRoom implements game.Sink.
func (h *Hub) DropRoom(raceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, raceID)
}

// Broadcast implements game.Sink: it fans an engine event out to a room.
// Progress events are shed four-in-five while the load mitigation is active;
// lifecycle events take the critical path and are never shed.
func (h *Hub) Broadcast(raceID string, ev game.Event) {
	if ev.Type == game.EventProgress && h.flags.ThrottleProgress() {
		if h.progressSeq.Add(1)%progressKeepOneIn != 0 {
			return
		}
	}

	data, err := encodeFrame(wireName(ev.Type), ev.Payload)
	if err != nil {
		h.log.Error("broadcast encode failed", zap.String("gameId", raceID), zap.Error(err))
		return
	}
	critical := isCritical(ev.Type)

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[raceID]))
	for _, c := range h.rooms[raceID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if critical {
			c.enqueueCritical(data)
		} else {
			c.enqueue(data)
		}
	}
}

// Direct implements game.Sink: single-connection delivery.
func (h *Hub) Direct(playerID string, ev game.Event) {
	data, err := encodeFrame(wireName(ev.Type), ev.Payload)
	if err != nil {
		h.log.Error("direct encode failed", zap.String("playerId", playerID), zap.Error(err))
		return
	}

	h.mu.RLock()
	c, ok := h.conns[playerID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if isCritical(ev.Type) {
		c.enqueueCritical(data)
	} else {
		c.enqueue(data)
	}
}

// BroadcastAll sends a frame to every live connection, room membership aside.
// Used for system status pushes after config changes.
func (h *Hub) BroadcastAll(eventName string, payload any) {
	data, err := encodeFrame(eventName, payload)
	if err != nil {
		h.log.Error("broadcast-all encode failed", zap.String("event", eventName), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}
