package syncer

import (
	"fmt"

	apperrors "github.com/alexjbarnes/checklist-sync/internal/errors"
	"github.com/alexjbarnes/checklist-sync/internal/models"
)

// Event is an input to the sync state machine.
type Event int

const (
	// EventTokenAcquired means a usable credential is now cached.
	EventTokenAcquired Event = iota

	// EventSyncInvoked starts a pass, from a tick or an explicit call.
	EventSyncInvoked

	// EventLocalChange reports that a local document changed.
	EventLocalChange

	// EventSucceeded ends a pass with every transfer complete.
	EventSucceeded

	// EventAuthRetry ends a pass on an authorization failure that still
	// has retries left. The engine re-authenticates next.
	EventAuthRetry

	// EventAuthExhausted ends a pass on an authorization failure with no
	// retries left.
	EventAuthExhausted

	// EventFailed ends a pass, or an authentication attempt, on any
	// other error.
	EventFailed

	// EventDisconnect drops to DISCONNECTED outside a pass, e.g. when no
	// token is cached or the user logged out.
	EventDisconnect
)

func (e Event) String() string {
	switch e {
	case EventTokenAcquired:
		return "token_acquired"
	case EventSyncInvoked:
		return "sync_invoked"
	case EventLocalChange:
		return "local_change"
	case EventSucceeded:
		return "succeeded"
	case EventAuthRetry:
		return "auth_retry"
	case EventAuthExhausted:
		return "auth_exhausted"
	case EventFailed:
		return "failed"
	case EventDisconnect:
		return "disconnect"
	}

	return fmt.Sprintf("event(%d)", int(e))
}

// Transition returns the state that follows from applying ev in state
// from. It is defined for every pair: combinations the machine does not
// allow return from unchanged together with ErrInvalidTransition.
func Transition(from models.SyncState, ev Event) (models.SyncState, error) {
	switch ev {
	case EventTokenAcquired:
		if from == models.Disconnected {
			return models.NeedsSync, nil
		}

	case EventSyncInvoked:
		switch from {
		case models.NeedsSync, models.InSync, models.Failed:
			return models.Syncing, nil
		}

	case EventLocalChange:
		// Only IN_SYNC reacts; the pending flag carries the change
		// into the next pass for every other state.
		if from == models.InSync {
			return models.NeedsSync, nil
		}

		return from, nil

	case EventSucceeded:
		if from == models.Syncing {
			return models.InSync, nil
		}

	case EventAuthRetry:
		if from == models.Syncing {
			return models.Disconnected, nil
		}

	case EventAuthExhausted:
		if from == models.Syncing {
			return models.Failed, nil
		}

	case EventFailed:
		switch from {
		case models.Syncing, models.Disconnected:
			return models.Failed, nil
		}

	case EventDisconnect:
		if from != models.Syncing {
			return models.Disconnected, nil
		}
	}

	return from, fmt.Errorf("%w: %s on %s", apperrors.ErrInvalidTransition, ev, from)
}
