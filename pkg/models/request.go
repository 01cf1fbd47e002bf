package models

import "time"

// RequestStatus represents the lifecycle state of a request.
type RequestStatus string

const (
	RequestStatusDraft         RequestStatus = "draft"          // Editable by the initiator, not yet submitted
	RequestStatusSubmitted     RequestStatus = "submitted"      // Submitted, waiting to enter review
	RequestStatusInReview      RequestStatus = "in_review"      // Approval steps pending
	RequestStatusNeedsRevision RequestStatus = "needs_revision" // Returned to the initiator for changes
	RequestStatusApproved      RequestStatus = "approved"       // Terminal
	RequestStatusRejected      RequestStatus = "rejected"       // Terminal
	RequestStatusCancelled     RequestStatus = "cancelled"      // Terminal, withdrawn by the initiator
)

// IsTerminal reports whether the status permits no further mutation.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled:
		return true
	default:
		return false
	}
}

// Request is one instance of a document moving through a chain.
type Request struct {
	ID             string        `json:"id"`
	ChainID        string        `json:"chain_id"        validate:"required"`
	ChainVersion   int           `json:"chain_version"   validate:"min=1"`
	BusinessUnitID string        `json:"business_unit_id" validate:"required"`
	InitiatorID    string        `json:"initiator_id"`
	Status         RequestStatus `json:"status"`

	// CurrentSectionOrder indexes a valid section of the pinned chain version.
	CurrentSectionOrder int `json:"current_section_order"`

	// Data is the document payload. The engine never interprets it.
	Data map[string]any `json:"data,omitempty"`

	// ParentRequestID links to the request in the previous section that
	// spawned this one. RootRequestID equals the request's own ID for the
	// first request of a logical chain.
	ParentRequestID *string `json:"parent_request_id,omitempty"`
	RootRequestID   string  `json:"root_request_id"`

	// SectionLedger holds the history entry IDs of the valid approvals for
	// the current section, in step order. Cleared on section advancement and
	// on resubmission after revision.
	SectionLedger []string `json:"section_ledger,omitempty"`

	// Version is the optimistic concurrency token. Every successful update
	// increments it; conditional writes fail when it has moved.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SatisfiedSteps returns the number of approvals recorded for the current
// section. Step N is satisfied exactly when len(SectionLedger) >= N.
func (r *Request) SatisfiedSteps() int {
	return len(r.SectionLedger)
}

// NextStepNumber returns the lowest not-yet-satisfied 1-based step number for
// the current section.
func (r *Request) NextStepNumber() int {
	return len(r.SectionLedger) + 1
}

// IsUnassigned reports whether the request is waiting for an eligible
// initiator to claim it after a fork.
func (r *Request) IsUnassigned() bool {
	return r.InitiatorID == ""
}

// Clone returns a deep copy safe to mutate independently.
func (r *Request) Clone() *Request {
	out := *r

	if r.ParentRequestID != nil {
		parent := *r.ParentRequestID
		out.ParentRequestID = &parent
	}

	if r.SectionLedger != nil {
		out.SectionLedger = make([]string, len(r.SectionLedger))
		copy(out.SectionLedger, r.SectionLedger)
	}

	if r.Data != nil {
		out.Data = make(map[string]any, len(r.Data))
		for k, v := range r.Data {
			out.Data[k] = v
		}
	}

	return &out
}
