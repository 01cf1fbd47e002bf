// Package web provides HTTP request and response types for the request API.
package web

// CreateRequestBody is the request body for opening a new request.
type CreateRequestBody struct {
	ChainID        string         `json:"chain_id"         validate:"required"`
	BusinessUnitID string         `json:"business_unit_id" validate:"required"`
	InitiatorID    string         `json:"initiator_id"     validate:"required"`
	Data           map[string]any `json:"data,omitempty"`
}

// SubmitRequestBody identifies the actor submitting a draft.
type SubmitRequestBody struct {
	ActorID string `json:"actor_id" validate:"required"`
}

// ActionBody is the request body for approvals, rejections, revision
// requests and cancellations.
type ActionBody struct {
	Kind    string `json:"kind"     validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
	Comment string `json:"comment,omitempty" validate:"max=2000"`
}

// UpdateDataBody replaces a draft request's payload.
type UpdateDataBody struct {
	ActorID string         `json:"actor_id" validate:"required"`
	Data    map[string]any `json:"data"     validate:"required"`
}
