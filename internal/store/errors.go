package store

import "errors"

// ErrStaleUpdate is returned by UpdateWorkItemStatus when the current row
// status does not allow the requested transition (§4.1, §4.4 state
// machine).
var ErrStaleUpdate = errors.New("stale update: work item status transition not allowed")

// ErrCounterUnderflow is returned by DecrementReady/DecrementRunning when
// the requested delta would push a user_work counter below zero (§4.1).
var ErrCounterUnderflow = errors.New("counter underflow: user_work count cannot go negative")

// ErrJobNotFound / ErrWorkItemNotFound are returned by lookups against
// nonexistent rows.
var ErrJobNotFound = errors.New("job not found")
var ErrWorkItemNotFound = errors.New("work item not found")
