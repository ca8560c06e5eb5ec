package updateprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nasa/harmony-workflow-core/internal/apierr"
	"github.com/nasa/harmony-workflow-core/internal/config"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/queue"
)

// DrainLoop runs the §5 polling loop: one tick reads up to 10 Small
// messages plus up to 1 Large message (fat STAC-result payloads, "drained
// one at a time" per §4.2), and processes each serially. It never returns
// until ctx is canceled.
func DrainLoop(ctx context.Context, q queue.UpdateQueue, proc *Processor, cfg config.Config, log *logger.Logger) {
	delay := time.Duration(cfg.WorkItemUpdateQueueProcessorDelayAfterErrorSec) * time.Second
	if delay <= 0 {
		delay = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("update queue drain loop stopped")
			return
		default:
		}

		didWork := false
		if drainBatch(ctx, q, proc, queue.Large, 1, log) {
			didWork = true
		}
		if drainBatch(ctx, q, proc, queue.Small, 10, log) {
			didWork = true
		}
		if !didWork {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// drainBatch dequeues up to maxBatch messages of sev and applies each
// serially, retrying only apierr-classified Transient failures with a
// bounded exponential backoff before giving up and acking anyway (§4.2:
// the update stream is state-advance only — losing a bad message beats
// blocking the stream on it).
func drainBatch(ctx context.Context, q queue.UpdateQueue, proc *Processor, sev queue.Severity, maxBatch int, log *logger.Logger) bool {
	msgs, err := q.Dequeue(ctx, sev, maxBatch)
	if err != nil {
		log.Warn("update queue dequeue failed", "severity", sev, "error", err)
		return false
	}
	if len(msgs) == 0 {
		return false
	}

	for _, msg := range msgs {
		var u Update
		if err := json.Unmarshal(msg.Payload, &u); err != nil {
			log.Error("malformed update message, dropping", "error", err)
			_ = q.Ack(ctx, msg.Receipt)
			continue
		}

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			applyErr := proc.ApplyUpdate(ctx, u)
			if applyErr == nil {
				return struct{}{}, nil
			}
			var ce *apierr.ClassifiedError
			if errors.As(applyErr, &ce) && ce.Class == apierr.ClassTransient {
				return struct{}{}, applyErr
			}
			return struct{}{}, backoff.Permanent(applyErr)
		}, backoff.WithMaxTries(5))
		if err != nil {
			log.Warn("update processing failed, acking anyway", "workItemID", u.WorkItemID, "error", err)
		}

		if err := q.Ack(ctx, msg.Receipt); err != nil {
			log.Warn("update queue ack failed", "receipt", msg.Receipt, "error", err)
		}
	}
	return true
}
