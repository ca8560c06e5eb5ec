// Package redisqueue is the fleet-mode ("managed") implementation of the
// work-item update queue and scheduler wake-up queue from §4.2, backed by
// Redis. Client bootstrap (address from env, dial timeout, startup Ping)
// follows the teacher's realtime/bus.NewRedisBus.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/google/uuid"

	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/queue"
)

const (
	smallList      = "harmony:updates:small"
	largeList      = "harmony:updates:large"
	processingList = "harmony:updates:processing"
	itemKeyPrefix  = "harmony:updates:item:"

	wakeupSet    = "harmony:wakeup:pending"
	wakeupSignal = "harmony:wakeup:signal"

	// itemTTL bounds how long an unacked payload survives; nothing moves
	// it back onto a severity list, so after itemTTL it is gone rather
	// than leaking forever.
	itemTTL = 24 * time.Hour
)

func NewClient(addr string) (*goredis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// UpdateQueue implements queue.UpdateQueue as a Redis-list reliable queue:
// Dequeue atomically moves a receipt from the severity list into a
// processing list (LMOVE), and Ack deletes both the payload key and the
// processing-list entry. A message never acked stays in the processing
// list and its payload key simply expires after itemTTL.
type UpdateQueue struct {
	rdb *goredis.Client
	log *logger.Logger
}

func NewUpdateQueue(rdb *goredis.Client, baseLog *logger.Logger) *UpdateQueue {
	return &UpdateQueue{rdb: rdb, log: baseLog.With("queue", "RedisUpdateQueue")}
}

func (q *UpdateQueue) Enqueue(ctx context.Context, sev queue.Severity, payload []byte) error {
	receipt := uuid.NewString()
	key := itemKeyPrefix + receipt
	if err := q.rdb.Set(ctx, key, payload, itemTTL).Err(); err != nil {
		return err
	}
	list := listFor(sev)
	return q.rdb.LPush(ctx, list, receipt).Err()
}

func (q *UpdateQueue) Dequeue(ctx context.Context, sev queue.Severity, maxBatch int) ([]queue.UpdateMessage, error) {
	if sev == queue.Large {
		maxBatch = 1 // §4.2: large payloads drained one at a time
	}
	if maxBatch <= 0 {
		return nil, nil
	}
	list := listFor(sev)
	out := make([]queue.UpdateMessage, 0, maxBatch)
	for i := 0; i < maxBatch; i++ {
		receipt, err := q.rdb.LMove(ctx, list, processingList, "RIGHT", "LEFT").Result()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return out, err
		}
		payload, err := q.rdb.Get(ctx, itemKeyPrefix+receipt).Bytes()
		if errors.Is(err, goredis.Nil) {
			// Payload already expired/acked elsewhere; drop the orphaned
			// receipt from the processing list and continue.
			_ = q.rdb.LRem(ctx, processingList, 1, receipt).Err()
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, queue.UpdateMessage{Receipt: receipt, Payload: payload})
	}
	return out, nil
}

func (q *UpdateQueue) Ack(ctx context.Context, receipt string) error {
	if err := q.rdb.Del(ctx, itemKeyPrefix+receipt).Err(); err != nil {
		return err
	}
	return q.rdb.LRem(ctx, processingList, 1, receipt).Err()
}

func listFor(sev queue.Severity) string {
	if sev == queue.Large {
		return largeList
	}
	return smallList
}

// WakeupQueue implements queue.WakeupQueue with a Redis set for
// coalescing (SADD is a no-op if the serviceID is already pending) plus a
// pub/sub channel to wake idle consumers, mirroring the subscribe/forward
// pattern in the teacher's realtime/bus.redisBus.
type WakeupQueue struct {
	rdb *goredis.Client
	log *logger.Logger
}

func NewWakeupQueue(rdb *goredis.Client, baseLog *logger.Logger) *WakeupQueue {
	return &WakeupQueue{rdb: rdb, log: baseLog.With("queue", "RedisWakeupQueue")}
}

func (w *WakeupQueue) Notify(ctx context.Context, serviceID string) error {
	if err := w.rdb.SAdd(ctx, wakeupSet, serviceID).Err(); err != nil {
		return err
	}
	return w.rdb.Publish(ctx, wakeupSignal, serviceID).Err()
}

func (w *WakeupQueue) Consume(ctx context.Context, timeout time.Duration) (string, error) {
	if serviceID, ok, err := w.popOne(ctx); err != nil {
		return "", err
	} else if ok {
		return serviceID, nil
	}

	sub := w.rdb.Subscribe(ctx, wakeupSignal)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return "", fmt.Errorf("redis subscribe: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", nil
		case _, ok := <-ch:
			if !ok {
				return "", nil
			}
			if serviceID, popped, err := w.popOne(ctx); err != nil {
				return "", err
			} else if popped {
				return serviceID, nil
			}
			// False wake (another consumer already popped it); keep waiting.
		}
	}
}

func (w *WakeupQueue) popOne(ctx context.Context) (string, bool, error) {
	serviceID, err := w.rdb.SPop(ctx, wakeupSet).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return serviceID, true, nil
}
