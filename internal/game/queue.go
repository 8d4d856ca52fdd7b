package game

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	queueDrainInterval   = 2 * time.Second
	queueBackoffInterval = 5 * time.Second
	queueEntryTTL        = 30 * time.Second
)

type queuedCreation struct {
	playerID    string
	playerName  string
	maxPlayers  int
	submittedAt time.Time
}

// creationQueue backlogs game creation while the game-count mitigation is
// active. A background task drains it at 2 s cadence (5 s under backoff);
// entries older than 30 s are discarded.
type creationQueue struct {
	mu      sync.Mutex
	entries []queuedCreation
	engine  *Engine
	log     *zap.Logger
}

func newCreationQueue(e *Engine, log *zap.Logger) *creationQueue {
	return &creationQueue{engine: e, log: log}
}

func (q *creationQueue) enqueue(playerID, playerName string, maxPlayers int, at time.Time) {
	q.mu.Lock()
	q.entries = append(q.entries, queuedCreation{
		playerID:    playerID,
		playerName:  playerName,
		maxPlayers:  maxPlayers,
		submittedAt: at,
	})
	depth := len(q.entries)
	q.mu.Unlock()
	q.log.Info("creation queued", zap.String("playerId", playerID), zap.Int("depth", depth))
}

func (q *creationQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// run drains the queue until stop closes. The cadence follows the backoff
// flag on every iteration so mitigation changes take effect immediately.
func (q *creationQueue) run(stop <-chan struct{}) {
	timer := time.NewTimer(queueDrainInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			q.drain()
			interval := queueDrainInterval
			if q.engine.gate.CreationBackoffEnabled() {
				interval = queueBackoffInterval
			}
			timer.Reset(interval)
		}
	}
}

// drain processes every eligible entry. Entries stay queued while the server
// is not accepting players; expired entries are dropped.
func (q *creationQueue) drain() {
	now := q.engine.now()

	q.mu.Lock()
	pending := q.entries
	q.entries = nil
	q.mu.Unlock()

	var kept []queuedCreation
	for _, entry := range pending {
		if now.Sub(entry.submittedAt) > queueEntryTTL {
			q.log.Warn("queued creation expired", zap.String("playerId", entry.playerID))
			continue
		}
		if !q.engine.gate.AcceptingNewPlayers() {
			kept = append(kept, entry)
			continue
		}
		if _, err := q.engine.createNow(entry.playerID, entry.playerName, entry.maxPlayers); err != nil {
			q.log.Warn("queued creation failed",
				zap.String("playerId", entry.playerID),
				zap.Error(err))
		}
	}

	if len(kept) > 0 {
		q.mu.Lock()
		q.entries = append(kept, q.entries...)
		q.mu.Unlock()
	}
}
