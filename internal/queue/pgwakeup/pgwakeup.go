// Package pgwakeup implements the scheduler wake-up queue (§4.2) on top of
// Postgres LISTEN/NOTIFY using a dedicated pgx connection, without an extra
// broker. Unlike the memqueue and redisqueue wake-up queues it does not
// coalesce: each NOTIFY is delivered as its own notification (see Consume).
package pgwakeup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nasa/harmony-workflow-core/internal/logger"
)

const channel = "harmony_wakeup"

// WakeupQueue owns one dedicated listener connection (LISTEN requires a
// connection held open, so it cannot share the pool used for normal
// queries) plus a notify pool connection for NOTIFY.
type WakeupQueue struct {
	pool *pgxpool.Pool
	log  *logger.Logger

	mu       sync.Mutex
	listener *pgxpool.Conn
}

func New(pool *pgxpool.Pool, baseLog *logger.Logger) *WakeupQueue {
	return &WakeupQueue{pool: pool, log: baseLog.With("queue", "PgWakeupQueue")}
}

func (w *WakeupQueue) Notify(ctx context.Context, serviceID string) error {
	_, err := w.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, serviceID)
	return err
}

// Consume blocks until a notification arrives on the shared listener
// connection or timeout elapses. Coalescing duplicate serviceID
// notifications (e.g. the scheduler checks once per wakeup, and a stale
// duplicate is harmless because the next scheduling pass simply finds
// nothing new) is the caller's concern, not this queue's: Postgres itself
// may have queued several notifications while we were processing the
// last one, and we return the first one pending.
func (w *WakeupQueue) Consume(ctx context.Context, timeout time.Duration) (string, error) {
	conn, err := w.ensureListener(ctx)
	if err != nil {
		return "", err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	notification, err := conn.Conn().WaitForNotification(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return "", nil // timed out, not canceled
		}
		// The connection may have gone bad; drop it so the next call
		// reconnects instead of spinning on the same broken conn.
		w.mu.Lock()
		if w.listener == conn {
			w.listener = nil
		}
		w.mu.Unlock()
		conn.Release()
		return "", err
	}
	return notification.Payload, nil
}

func (w *WakeupQueue) ensureListener(ctx context.Context) (*pgxpool.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener != nil {
		return w.listener, nil
	}
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}
	w.listener = conn
	return conn, nil
}

func (w *WakeupQueue) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener != nil {
		w.listener.Release()
		w.listener = nil
	}
}
