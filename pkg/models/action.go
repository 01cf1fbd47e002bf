package models

// ActionKind is the closed set of actions an actor can take on a request.
// The engine switches exhaustively over this type; adding a kind requires
// touching every switch, which is the point.
type ActionKind string

const (
	ActionApprove         ActionKind = "approve"
	ActionReject          ActionKind = "reject"
	ActionRequestRevision ActionKind = "request_revision"
	ActionCancel          ActionKind = "cancel"
)

// Valid reports whether the kind is one of the known actions.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionApprove, ActionReject, ActionRequestRevision, ActionCancel:
		return true
	default:
		return false
	}
}

// HistoryAction maps the action kind to its history record form.
func (k ActionKind) HistoryAction() HistoryAction {
	switch k {
	case ActionApprove:
		return HistoryActionApprove
	case ActionReject:
		return HistoryActionReject
	case ActionRequestRevision:
		return HistoryActionRequestRevision
	case ActionCancel:
		return HistoryActionCancel
	default:
		return HistoryAction(k)
	}
}

// Action is an actor-bound action submitted against a request.
type Action struct {
	Kind    ActionKind `json:"kind"     validate:"required,oneof=approve reject request_revision cancel"`
	ActorID string     `json:"actor_id" validate:"required"`
	Comment string     `json:"comment,omitempty"`
}
