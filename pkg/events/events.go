// Package events defines event types and structures for request lifecycle
// notifications.
package events

import (
	"time"

	"github.com/approvia/approvia/pkg/models"
)

type EventType string

// Topic carries every request transition event.
const Topic = "approvia.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// RequestTransitionedEvent fires on every status transition, including
	// in_review -> in_review step approvals.
	RequestTransitionedEvent EventType = "request.transitioned"

	// SectionAdvancedEvent fires when a completed section advances the same
	// request to its next section.
	SectionAdvancedEvent EventType = "request.section.advanced"

	// RequestForkedEvent fires when section completion spawns a linked child
	// request with a different initiator.
	RequestForkedEvent EventType = "request.forked"

	// RequestStalledEvent fires when a request enters a step whose approver
	// set resolved empty; operators must intervene.
	RequestStalledEvent EventType = "request.stalled"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RequestTransitioned is the notification/audit sink contract: one event per
// applied transition. Delivery is best effort and never rolls back state.
type RequestTransitioned struct {
	BaseEvent

	FromStatus models.RequestStatus `json:"from_status"`
	ToStatus   models.RequestStatus `json:"to_status"`
	Action     models.HistoryAction `json:"action"`
	ActorID    string               `json:"actor_id"`

	SectionOrder int `json:"section_order"`
	StepNumber   int `json:"step_number,omitempty"`
}

func (e RequestTransitioned) GetType() EventType {
	return RequestTransitionedEvent
}

type SectionAdvanced struct {
	BaseEvent

	FromSectionOrder int `json:"from_section_order"`
	ToSectionOrder   int `json:"to_section_order"`
}

func (e SectionAdvanced) GetType() EventType {
	return SectionAdvancedEvent
}

// RequestForked notifies eligible initiators of the next section. When the
// child request is unassigned, EligibleInitiators lists everyone who may
// claim it.
type RequestForked struct {
	BaseEvent

	ChildRequestID     string   `json:"child_request_id"`
	ChildSectionOrder  int      `json:"child_section_order"`
	ChildInitiatorID   string   `json:"child_initiator_id,omitempty"`
	EligibleInitiators []string `json:"eligible_initiators,omitempty"`
}

func (e RequestForked) GetType() EventType {
	return RequestForkedEvent
}

type RequestStalled struct {
	BaseEvent

	SectionOrder int    `json:"section_order"`
	StepNumber   int    `json:"step_number"`
	RoleName     string `json:"role_name"`
}

func (e RequestStalled) GetType() EventType {
	return RequestStalledEvent
}
