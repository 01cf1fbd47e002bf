package models

import "time"

// HistoryAction enumerates the recordable actions against a request.
type HistoryAction string

const (
	HistoryActionSubmit          HistoryAction = "submit"
	HistoryActionApprove         HistoryAction = "approve"
	HistoryActionReject          HistoryAction = "reject"
	HistoryActionRequestRevision HistoryAction = "request_revision"
	HistoryActionCancel          HistoryAction = "cancel"
	HistoryActionAdvanceSection  HistoryAction = "advance_section"
	HistoryActionFork            HistoryAction = "fork"
)

// HistoryEntry is an immutable append-only record of an action taken against
// a request. Entries are never mutated or deleted, including across revision
// cycles.
type HistoryEntry struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	ActorID   string        `json:"actor_id"`
	Action    HistoryAction `json:"action"`

	// SectionOrder and StepNumber locate the action within the chain.
	// StepNumber is zero for actions not bound to a step.
	SectionOrder int `json:"section_order"`
	StepNumber   int `json:"step_number,omitempty"`

	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
