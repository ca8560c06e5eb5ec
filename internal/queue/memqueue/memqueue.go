// Package memqueue is the single-process FIFO implementation of the
// work-item update queue and scheduler wake-up queue (§4.2: "an in-memory
// FIFO (single-process)"). It is the default for standalone/dev
// deployments; multi-replica deployments use queue/redisqueue and
// queue/pgwakeup instead.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nasa/harmony-workflow-core/internal/queue"
)

type pending struct {
	receipt string
	payload []byte
	inFlight bool
}

// UpdateQueue is an in-process, mutex-guarded FIFO per severity. Each
// message is handed out once; an unacked message is never redelivered, and
// a crash loses both queued and in-flight messages.
type UpdateQueue struct {
	mu       sync.Mutex
	small    []*pending
	large    []*pending
	inFlight map[string]*pending
}

func NewUpdateQueue() *UpdateQueue {
	return &UpdateQueue{inFlight: make(map[string]*pending)}
}

func (q *UpdateQueue) Enqueue(_ context.Context, sev queue.Severity, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := &pending{receipt: uuid.NewString(), payload: payload}
	if sev == queue.Large {
		q.large = append(q.large, p)
	} else {
		q.small = append(q.small, p)
	}
	return nil
}

func (q *UpdateQueue) Dequeue(_ context.Context, sev queue.Severity, maxBatch int) ([]queue.UpdateMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	src := &q.small
	if sev == queue.Large {
		src = &q.large
		maxBatch = 1 // §4.2: large payloads drained one at a time
	}
	if maxBatch <= 0 || len(*src) == 0 {
		return nil, nil
	}
	n := maxBatch
	if n > len(*src) {
		n = len(*src)
	}
	batch := (*src)[:n]
	*src = (*src)[n:]

	out := make([]queue.UpdateMessage, 0, n)
	for _, p := range batch {
		p.inFlight = true
		q.inFlight[p.receipt] = p
		out = append(out, queue.UpdateMessage{Receipt: p.receipt, Payload: p.payload})
	}
	return out, nil
}

func (q *UpdateQueue) Ack(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, receipt)
	return nil
}

// WakeupQueue coalesces per-serviceID wake-up signals into a set; multiple
// Notify calls for the same serviceID before it is consumed collapse into
// one pending signal (§4.2: "Coalescing is acceptable").
type WakeupQueue struct {
	mu      sync.Mutex
	pending map[string]struct{}
	order   []string
	signal  chan struct{}
}

func NewWakeupQueue() *WakeupQueue {
	return &WakeupQueue{
		pending: make(map[string]struct{}),
		signal:  make(chan struct{}, 1),
	}
}

func (w *WakeupQueue) Notify(_ context.Context, serviceID string) error {
	w.mu.Lock()
	if _, ok := w.pending[serviceID]; !ok {
		w.pending[serviceID] = struct{}{}
		w.order = append(w.order, serviceID)
	}
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
	return nil
}

func (w *WakeupQueue) Consume(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if serviceID, ok := w.popOne(); ok {
			return serviceID, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", nil
		case <-w.signal:
			// loop: re-check for a pending entry
		}
	}
}

func (w *WakeupQueue) popOne() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return "", false
	}
	serviceID := w.order[0]
	w.order = w.order[1:]
	delete(w.pending, serviceID)
	return serviceID, true
}
