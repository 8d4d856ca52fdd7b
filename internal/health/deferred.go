package health

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const deferredTaskGap = 100 * time.Millisecond

// DeferredOp is a resource-intensive task postponed while the CPU
// mitigation is active.
type DeferredOp struct {
	Name     string
	Priority int // 1–10, higher first
	Run      func() error

	seq uint64
}

// deferredQueue serves queued operations in descending priority, FIFO for
// ties, with a fixed gap between tasks. A failing task never blocks the
// queue.
type deferredQueue struct {
	mu      sync.Mutex
	ops     []DeferredOp
	nextSeq uint64
	flags   *Flags
	log     *zap.Logger
}

func newDeferredQueue(flags *Flags, log *zap.Logger) *deferredQueue {
	return &deferredQueue{flags: flags, log: log}
}

func (q *deferredQueue) push(op DeferredOp) {
	if op.Priority < 1 {
		op.Priority = 1
	}
	if op.Priority > 10 {
		op.Priority = 10
	}
	q.mu.Lock()
	op.seq = q.nextSeq
	q.nextSeq++
	q.ops = append(q.ops, op)
	sort.SliceStable(q.ops, func(i, j int) bool {
		if q.ops[i].Priority != q.ops[j].Priority {
			return q.ops[i].Priority > q.ops[j].Priority
		}
		return q.ops[i].seq < q.ops[j].seq
	})
	depth := len(q.ops)
	q.mu.Unlock()
	q.log.Debug("operation deferred", zap.String("op", op.Name), zap.Int("priority", op.Priority), zap.Int("depth", depth))
}

func (q *deferredQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// pop removes the highest-priority operation, or returns false when the
// queue is empty or serving is deferred.
func (q *deferredQueue) pop() (DeferredOp, bool) {
	if q.flags.Current().DeferResourceIntensiveOps {
		return DeferredOp{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return DeferredOp{}, false
	}
	op := q.ops[0]
	q.ops = q.ops[1:]
	return op, true
}

// run serves the queue until stop closes.
func (q *deferredQueue) run(stop <-chan struct{}) {
	ticker := time.NewTicker(deferredTaskGap)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			op, ok := q.pop()
			if !ok {
				continue
			}
			if err := op.Run(); err != nil {
				q.log.Warn("deferred operation failed", zap.String("op", op.Name), zap.Error(err))
			}
		}
	}
}
