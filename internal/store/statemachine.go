package store

import "github.com/nasa/harmony-workflow-core/internal/domain"

// CanTransition implements the work-item state machine from §4.4:
//
//	READY → QUEUED → RUNNING → {SUCCESSFUL, FAILED, WARNING, CANCELED}
//	                 RUNNING → READY   (only via retry)
//
// A terminal current status never allows any transition (§3 Work item
// invariant: once terminal, never mutated).
func CanTransition(from, to domain.WorkItemStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case domain.ItemReady:
		return to == domain.ItemQueued || to == domain.ItemRunning || to == domain.ItemCanceled
	case domain.ItemQueued:
		return to == domain.ItemRunning || to == domain.ItemCanceled
	case domain.ItemRunning:
		switch to {
		case domain.ItemReady, domain.ItemSuccessful, domain.ItemFailed, domain.ItemWarning, domain.ItemCanceled:
			return true
		default:
			return false
		}
	default:
		return false
	}
}
