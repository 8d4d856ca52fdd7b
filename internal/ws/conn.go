package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096

	sendQueueSize     = 256
	criticalQueueSize = 32
)

// Conn wraps one websocket peer. The connection id doubles as the player id
// for the lifetime of the socket. Outbound frames go through two bounded
// queues: the regular queue sheds load under backpressure, the critical queue
// never drops — a peer too slow even for that is disconnected instead.
type Conn struct {
	ID string

	sock      *websocket.Conn
	send      chan []byte
	critical  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	log       *zap.Logger
}

func newConn(sock *websocket.Conn, log *zap.Logger) *Conn {
	return &Conn{
		ID:       uuid.NewString(),
		sock:     sock,
		send:     make(chan []byte, sendQueueSize),
		critical: make(chan []byte, criticalQueueSize),
		done:     make(chan struct{}),
		log:      log,
	}
}

// Close tears the socket down. Safe to call from any goroutine, any number
// of times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.sock != nil {
			c.sock.Close()
		}
	})
}

// enqueue queues a droppable frame. When the queue is full the oldest queued
// frame is shed so the freshest state keeps flowing.
func (c *Conn) enqueue(data []byte) {
	select {
	case c.send <- data:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("outbound queue overrun, frame dropped", zap.String("connId", c.ID))
	}
}

// enqueueCritical queues a frame that must reach the peer. A peer that can't
// keep up with the critical queue is beyond saving; disconnect it rather than
// lose a lifecycle event.
func (c *Conn) enqueueCritical(data []byte) {
	select {
	case c.critical <- data:
	case <-c.done:
	default:
		c.log.Warn("critical queue overrun, disconnecting peer", zap.String("connId", c.ID))
		c.Close()
	}
}

// readPump consumes inbound frames until the socket dies, feeding each one to
// handle. Runs on the connection's HTTP handler goroutine.
func (c *Conn) readPump(handle func(*Conn, []byte)) {
	defer c.Close()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", zap.String("connId", c.ID), zap.Error(err))
			}
			return
		}
		handle(c, data)
	}
}

// writePump is the sole writer on the socket. Critical frames jump the queue.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.critical:
			if !c.write(websocket.TextMessage, data) {
				return
			}
			continue
		default:
		}

		select {
		case <-c.done:
			return
		case data := <-c.critical:
			if !c.write(websocket.TextMessage, data) {
				return
			}
		case data := <-c.send:
			if !c.write(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Conn) write(messageType int, data []byte) bool {
	c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.sock.WriteMessage(messageType, data); err != nil {
		c.log.Debug("websocket write failed", zap.String("connId", c.ID), zap.Error(err))
		return false
	}
	return true
}
