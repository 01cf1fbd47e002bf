// Package engine implements the advancement engine: it validates actions
// against a request's current position in its chain, records them, and
// advances or forks the request across section boundaries.
package engine

import (
	"errors"
	"fmt"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

// Validation errors. These are expected, recoverable-by-caller conditions
// returned as typed results so the calling layer can present a precise
// message.
var (
	// ErrUnauthorized indicates the actor is not in the resolved approver
	// set for any unsatisfied step of the current section.
	ErrUnauthorized = errors.New("actor is not an eligible approver for the current step")

	// ErrOutOfOrderApproval indicates the actor is eligible for a later
	// step whose predecessor is still unsatisfied. Approvals apply strictly
	// in step order.
	ErrOutOfOrderApproval = errors.New("approval is out of step order")

	// ErrInvalidTransition indicates the action is not permitted from the
	// request's current state.
	ErrInvalidTransition = errors.New("invalid transition for current request state")

	// ErrUnknownAction indicates an action kind outside the closed action set.
	ErrUnknownAction = errors.New("unknown action kind")

	// ErrNotInitiator indicates an actor other than the request's initiator
	// attempted an initiator-only action.
	ErrNotInitiator = errors.New("actor is not the request initiator")
)

// ErrConflictRetryExhausted is the transient error surfaced after the engine
// exhausts its internal retries on version conflicts. Callers should retry
// the whole user action, not just the write.
var ErrConflictRetryExhausted = errors.New("request update conflicted repeatedly, retry the action")

// ActionError wraps a rejected action with its context.
type ActionError struct {
	RequestID string
	ActorID   string
	Kind      models.ActionKind
	Err       error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s by %s on request %s rejected: %v", e.Kind, e.ActorID, e.RequestID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

func (e *ActionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newActionError(requestID, actorID string, kind models.ActionKind, err error) *ActionError {
	return &ActionError{RequestID: requestID, ActorID: actorID, Kind: kind, Err: err}
}

// IsValidationError checks if an error is a validation error that should be
// reported to the acting user rather than retried.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrOutOfOrderApproval) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrNotInitiator)
}

// IsConflictError checks if an error is a transient concurrency conflict.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflictRetryExhausted)
}

// IsNotFound checks if an error indicates a missing request.
func IsNotFound(err error) bool {
	return errors.Is(err, persistence.ErrRequestNotFound)
}
