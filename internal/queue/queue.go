// Package queue defines the two logical queues from §4.2: the work-item
// update queue (small/large severity, receipt-acked) and
// the scheduler wake-up queue (coalescing, per-serviceID).
package queue

import (
	"context"
	"time"
)

// Severity distinguishes short update payloads, drained in larger batches,
// from fat payloads (full STAC results), drained one at a time (§4.2).
type Severity int

const (
	Small Severity = iota
	Large
)

// UpdateMessage is the opaque envelope the work-item update queue carries.
// Payload is the caller-supplied, queue-agnostic update body (typically a
// JSON-encoded work-item update); the queue never interprets it.
type UpdateMessage struct {
	Receipt string
	Payload []byte
}

// UpdateQueue is the work-item update queue contract. Neither
// implementation (memqueue, redisqueue) redelivers a message whose receipt
// is never acknowledged.
type UpdateQueue interface {
	Enqueue(ctx context.Context, sev Severity, payload []byte) error

	// Dequeue drains up to maxBatch messages of the given severity.
	// Implementations cap maxBatch internally for Large (§4.2: "drained one
	// at a time").
	Dequeue(ctx context.Context, sev Severity, maxBatch int) ([]UpdateMessage, error)

	// Ack deletes the message backing receipt. Callers must ack even on
	// processing error (§4.2): the update stream is state-advance only, so
	// losing a bad message is preferable to blocking the stream on it.
	Ack(ctx context.Context, receipt string) error
}

// WakeupQueue is the scheduler wake-up queue: one coalesced signal per
// serviceID meaning "more work may be ready" (§4.2).
type WakeupQueue interface {
	Notify(ctx context.Context, serviceID string) error

	// Consume blocks up to timeout for the next distinct serviceID signal,
	// coalescing any signals that arrived while idle. Returns ("", nil) on
	// timeout with nothing pending.
	Consume(ctx context.Context, timeout time.Duration) (string, error)
}
