package redisqueue

import (
	"context"
	"os"
	"testing"

	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/queue"
)

func TestUpdateQueueEnqueueDequeueAck(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis queue integration tests")
	}
	rdb, err := NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer rdb.Close()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	ctx := context.Background()
	defer rdb.FlushDB(ctx)

	q := NewUpdateQueue(rdb, log)
	if err := q.Enqueue(ctx, queue.Small, []byte("payload-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	batch, err := q.Dequeue(ctx, queue.Small, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(batch) != 1 || string(batch[0].Payload) != "payload-1" {
		t.Fatalf("unexpected batch: %+v", batch)
	}
	if err := q.Ack(ctx, batch[0].Receipt); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestWakeupQueueNotifyConsume(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis queue integration tests")
	}
	rdb, err := NewClient(addr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer rdb.Close()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	ctx := context.Background()
	defer rdb.FlushDB(ctx)

	w := NewWakeupQueue(rdb, log)
	if err := w.Notify(ctx, "svc-a"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	serviceID, err := w.Consume(ctx, 0)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if serviceID != "svc-a" {
		t.Fatalf("expected svc-a, got %q", serviceID)
	}
}
