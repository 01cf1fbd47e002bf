package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/approvia/approvia/pkg/config"
	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/otelhelper"
	"github.com/approvia/approvia/pkg/persistence"
)

// maxConflictRetries bounds how often an action is re-validated and re-written
// after losing a version race before the conflict is surfaced to the caller.
const maxConflictRetries = 3

// Engine applies actor actions to requests and advances them through their
// chains. All request mutation in the system goes through its entry points;
// progress and chain views are read-only projections.
type Engine struct {
	chains    config.ChainStore
	requests  persistence.RequestRepository
	history   persistence.HistoryRepository
	resolver  directory.Resolver
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates an advancement engine on top of the given collaborators.
func New(
	chains config.ChainStore,
	store persistence.Persistence,
	resolver directory.Resolver,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		chains:    chains,
		requests:  store.RequestRepository(),
		history:   store.HistoryRepository(),
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("approvia/engine"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest opens a new draft request at the first section of the chain's
// latest version.
func (e *Engine) CreateRequest(
	ctx context.Context,
	chainID, businessUnitID, initiatorID string,
	data map[string]any,
) (*models.Request, error) {
	chain, err := e.chains.Chain(ctx, chainID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	id := uuid.NewString()

	request := &models.Request{
		ID:                  id,
		ChainID:             chain.ID,
		ChainVersion:        chain.Version,
		BusinessUnitID:      businessUnitID,
		InitiatorID:         initiatorID,
		Status:              models.RequestStatusDraft,
		CurrentSectionOrder: 0,
		Data:                data,
		RootRequestID:       id,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := e.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Request created",
		"request_id", request.ID,
		"chain_id", chain.ID,
		"chain_version", chain.Version,
		"initiator_id", initiatorID)

	return request, nil
}

// GetRequest returns a request by id.
func (e *Engine) GetRequest(ctx context.Context, requestID string) (*models.Request, error) {
	return e.requests.GetByID(ctx, requestID)
}

// ListRequests returns requests matching the filter.
func (e *Engine) ListRequests(ctx context.Context, filter persistence.RequestFilter) ([]*models.Request, error) {
	return e.requests.List(ctx, filter)
}

// History returns the full append-only action log of a request.
func (e *Engine) History(ctx context.Context, requestID string) ([]*models.HistoryEntry, error) {
	if _, err := e.requests.GetByID(ctx, requestID); err != nil {
		return nil, err
	}

	return e.history.ByRequestID(ctx, requestID)
}

// UpdateRequestData replaces the draft payload. Permitted only for the
// initiator while the request is editable.
func (e *Engine) UpdateRequestData(ctx context.Context, requestID, actorID string, data map[string]any) (*models.Request, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		request, err := e.requests.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}

		if request.Status != models.RequestStatusDraft && request.Status != models.RequestStatusNeedsRevision {
			return nil, fmt.Errorf("request %s is not editable: %w", requestID, ErrInvalidTransition)
		}

		if request.InitiatorID != actorID {
			return nil, fmt.Errorf("request %s belongs to another initiator: %w", requestID, ErrNotInitiator)
		}

		request.Data = data
		request.UpdatedAt = e.now()

		err = e.requests.Update(ctx, request, request.Version)
		if errors.Is(err, persistence.ErrVersionConflict) {
			continue
		}

		if err != nil {
			return nil, err
		}

		return e.requests.GetByID(ctx, requestID)
	}

	return nil, fmt.Errorf("request %s: %w", requestID, ErrConflictRetryExhausted)
}

// SubmitRequest moves a draft or revision-returned request forward: form
// sections complete on submission, approval sections enter review. The actor
// must be the initiator; unassigned forked requests are claimed by an
// eligible initiator on first submission.
func (e *Engine) SubmitRequest(ctx context.Context, requestID, actorID string) (*models.Request, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SubmitRequest", trace.WithAttributes(
		attribute.String(otelhelper.RequestIDKey, requestID),
		attribute.String(otelhelper.ActorIDKey, actorID),
	))
	defer span.End()

	request, err := e.submitWithRetry(ctx, requestID, actorID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return request, nil
}

func (e *Engine) submitWithRetry(ctx context.Context, requestID, actorID string) (*models.Request, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		request, err := e.requests.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}

		result, err := e.applySubmit(ctx, request, actorID)
		if errors.Is(err, persistence.ErrVersionConflict) {
			continue
		}

		return result, err
	}

	return nil, fmt.Errorf("request %s: %w", requestID, ErrConflictRetryExhausted)
}

func (e *Engine) applySubmit(ctx context.Context, request *models.Request, actorID string) (*models.Request, error) {
	if request.Status != models.RequestStatusDraft && request.Status != models.RequestStatusNeedsRevision {
		return nil, fmt.Errorf("request %s cannot be submitted from %s: %w",
			request.ID, request.Status, ErrInvalidTransition)
	}

	chain, err := e.chains.ChainVersion(ctx, request.ChainID, request.ChainVersion)
	if err != nil {
		return nil, err
	}

	section := chain.SectionAt(request.CurrentSectionOrder)
	if section == nil {
		return nil, &config.ConfigurationError{
			ChainID: chain.ID,
			Detail:  fmt.Sprintf("request %s points at missing section %d", request.ID, request.CurrentSectionOrder),
		}
	}

	if err := e.authorizeSubmit(ctx, request, section, actorID); err != nil {
		return nil, err
	}

	expectedVersion := request.Version
	fromStatus := request.Status

	// Resubmission after revision restarts the current section's approvals.
	// History from prior sections and prior rounds is never touched.
	if request.Status == models.RequestStatusNeedsRevision {
		request.SectionLedger = nil
	}

	request.Status = models.RequestStatusSubmitted
	request.UpdatedAt = e.now()

	tx := newTransition(e, request)
	tx.recordHistory(actorID, models.HistoryActionSubmit, "", 0)
	tx.recordStatusEvent(fromStatus, models.RequestStatusSubmitted, models.HistoryActionSubmit, actorID, 0)

	switch section.Kind {
	case models.SectionKindApproval:
		// First entry into an approval section starts review immediately.
		request.Status = models.RequestStatusInReview
		tx.recordStatusEvent(models.RequestStatusSubmitted, models.RequestStatusInReview, models.HistoryActionSubmit, actorID, 0)
		e.checkStalled(ctx, tx, request, section)
	case models.SectionKindForm:
		// Submitting a form section completes it.
		if err := e.planAdvance(ctx, tx, request, chain, actorID); err != nil {
			return nil, err
		}
	}

	return tx.commit(ctx, expectedVersion)
}

// mayCancelUnassigned reports whether the actor may withdraw a forked
// request that no initiator has claimed yet. The same users who could claim
// it by submitting may cancel it.
func (e *Engine) mayCancelUnassigned(ctx context.Context, request *models.Request, actorID string) (bool, error) {
	if !request.IsUnassigned() {
		return false, nil
	}

	chain, err := e.chains.ChainVersion(ctx, request.ChainID, request.ChainVersion)
	if err != nil {
		return false, err
	}

	section := chain.SectionAt(request.CurrentSectionOrder)
	if section == nil {
		return false, nil
	}

	eligible, err := e.eligibleInitiators(ctx, section, request.BusinessUnitID)
	if err != nil {
		return false, err
	}

	return directory.Contains(eligible, actorID), nil
}

// authorizeSubmit enforces initiator ownership and implements claiming of
// unassigned forked requests: the first eligible initiator to submit takes
// ownership.
func (e *Engine) authorizeSubmit(ctx context.Context, request *models.Request, section *models.Section, actorID string) error {
	if !request.IsUnassigned() {
		if request.InitiatorID != actorID {
			return fmt.Errorf("request %s belongs to another initiator: %w", request.ID, ErrNotInitiator)
		}

		return nil
	}

	eligible, err := e.eligibleInitiators(ctx, section, request.BusinessUnitID)
	if err != nil {
		return err
	}

	if !directory.Contains(eligible, actorID) {
		return fmt.Errorf("actor %s may not claim request %s: %w", actorID, request.ID, ErrNotInitiator)
	}

	request.InitiatorID = actorID
	e.logger.InfoContext(ctx, "Unassigned request claimed",
		"request_id", request.ID,
		"initiator_id", actorID)

	return nil
}

// Act validates and applies an actor action against a request. The whole
// validate-then-write cycle retries on version conflicts; a concurrent
// duplicate of a section-completing approval observes the section already
// advanced and no-ops instead of advancing twice.
func (e *Engine) Act(ctx context.Context, requestID string, action models.Action) (*models.Request, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Act", trace.WithAttributes(
		attribute.String(otelhelper.RequestIDKey, requestID),
		attribute.String(otelhelper.ActorIDKey, action.ActorID),
		attribute.String(otelhelper.ActionKindKey, string(action.Kind)),
	))
	defer span.End()

	request, err := e.actWithRetry(ctx, requestID, action)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return request, nil
}

func (e *Engine) actWithRetry(ctx context.Context, requestID string, action models.Action) (*models.Request, error) {
	if !action.Kind.Valid() {
		return nil, newActionError(requestID, action.ActorID, action.Kind, ErrUnknownAction)
	}

	firstSeenSection := -1

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		request, err := e.requests.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}

		// A lost race on the final approval of a section means another
		// writer already advanced it; the duplicate approval no-ops.
		if attempt > 0 && action.Kind == models.ActionApprove && sectionAdvancedSince(request, firstSeenSection) {
			return request, nil
		}

		if firstSeenSection == -1 {
			firstSeenSection = request.CurrentSectionOrder
		}

		result, err := e.applyAction(ctx, request, action)
		if errors.Is(err, persistence.ErrVersionConflict) {
			continue
		}

		return result, err
	}

	return nil, newActionError(requestID, action.ActorID, action.Kind, ErrConflictRetryExhausted)
}

func sectionAdvancedSince(request *models.Request, firstSeenSection int) bool {
	return request.CurrentSectionOrder > firstSeenSection ||
		request.Status == models.RequestStatusApproved
}

func (e *Engine) applyAction(ctx context.Context, request *models.Request, action models.Action) (*models.Request, error) {
	if request.Status.IsTerminal() {
		return nil, newActionError(request.ID, action.ActorID, action.Kind,
			fmt.Errorf("request is %s: %w", request.Status, ErrInvalidTransition))
	}

	switch action.Kind {
	case models.ActionCancel:
		return e.applyCancel(ctx, request, action)
	case models.ActionApprove, models.ActionReject, models.ActionRequestRevision:
		return e.applyReviewAction(ctx, request, action)
	default:
		return nil, newActionError(request.ID, action.ActorID, action.Kind, ErrUnknownAction)
	}
}

// applyCancel withdraws a request. The initiator may cancel from any
// non-terminal state; an unclaimed forked request may be cancelled by any
// user eligible to claim it. Every pending approval dies with it.
func (e *Engine) applyCancel(ctx context.Context, request *models.Request, action models.Action) (*models.Request, error) {
	if request.InitiatorID != action.ActorID {
		allowed, err := e.mayCancelUnassigned(ctx, request, action.ActorID)
		if err != nil {
			return nil, err
		}

		if !allowed {
			return nil, newActionError(request.ID, action.ActorID, action.Kind, ErrNotInitiator)
		}
	}

	expectedVersion := request.Version
	fromStatus := request.Status

	request.Status = models.RequestStatusCancelled
	request.UpdatedAt = e.now()

	tx := newTransition(e, request)
	tx.recordHistory(action.ActorID, models.HistoryActionCancel, action.Comment, 0)
	tx.recordStatusEvent(fromStatus, models.RequestStatusCancelled, models.HistoryActionCancel, action.ActorID, 0)

	return tx.commit(ctx, expectedVersion)
}

func (e *Engine) applyReviewAction(ctx context.Context, request *models.Request, action models.Action) (*models.Request, error) {
	if request.Status != models.RequestStatusInReview {
		return nil, newActionError(request.ID, action.ActorID, action.Kind,
			fmt.Errorf("request is %s, not in review: %w", request.Status, ErrInvalidTransition))
	}

	chain, err := e.chains.ChainVersion(ctx, request.ChainID, request.ChainVersion)
	if err != nil {
		return nil, err
	}

	section := chain.SectionAt(request.CurrentSectionOrder)
	if section == nil || section.Kind != models.SectionKindApproval {
		return nil, &config.ConfigurationError{
			ChainID: chain.ID,
			Detail:  fmt.Sprintf("request %s is in review outside an approval section (order %d)", request.ID, request.CurrentSectionOrder),
		}
	}

	stepNumber := request.NextStepNumber()

	step := section.StepAt(stepNumber)
	if step == nil {
		return nil, &config.ConfigurationError{
			ChainID: chain.ID,
			Detail:  fmt.Sprintf("section %d has no step %d despite pending review", section.Order, stepNumber),
		}
	}

	if err := e.authorizeStep(ctx, request, section, stepNumber, action); err != nil {
		return nil, err
	}

	expectedVersion := request.Version
	tx := newTransition(e, request)

	switch action.Kind {
	case models.ActionApprove:
		entry := tx.recordHistory(action.ActorID, models.HistoryActionApprove, action.Comment, stepNumber)
		request.SectionLedger = append(request.SectionLedger, entry.ID)
		request.UpdatedAt = e.now()
		tx.recordStatusEvent(models.RequestStatusInReview, models.RequestStatusInReview, models.HistoryActionApprove, action.ActorID, stepNumber)

		if request.SatisfiedSteps() == len(section.Steps) {
			if err := e.planAdvance(ctx, tx, request, chain, action.ActorID); err != nil {
				return nil, err
			}
		} else {
			e.checkStalled(ctx, tx, request, section)
		}
	case models.ActionReject:
		request.Status = models.RequestStatusRejected
		request.UpdatedAt = e.now()
		tx.recordHistory(action.ActorID, models.HistoryActionReject, action.Comment, stepNumber)
		tx.recordStatusEvent(models.RequestStatusInReview, models.RequestStatusRejected, models.HistoryActionReject, action.ActorID, stepNumber)
	case models.ActionRequestRevision:
		// The request returns to its initiator; the section position is
		// kept so resubmission restarts the same section.
		request.Status = models.RequestStatusNeedsRevision
		request.UpdatedAt = e.now()
		tx.recordHistory(action.ActorID, models.HistoryActionRequestRevision, action.Comment, stepNumber)
		tx.recordStatusEvent(models.RequestStatusInReview, models.RequestStatusNeedsRevision, models.HistoryActionRequestRevision, action.ActorID, stepNumber)
	default:
		return nil, newActionError(request.ID, action.ActorID, action.Kind, ErrUnknownAction)
	}

	return tx.commit(ctx, expectedVersion)
}

// authorizeStep checks the actor against the resolved approver set of the
// pending step. Eligibility for a later unsatisfied step is reported as an
// ordering violation rather than a plain authorization failure.
func (e *Engine) authorizeStep(
	ctx context.Context,
	request *models.Request,
	section *models.Section,
	stepNumber int,
	action models.Action,
) error {
	step := section.StepAt(stepNumber)

	approvers, err := e.resolver.ResolveApprovers(ctx, step.ApproverRole, request.BusinessUnitID)
	if err != nil {
		return fmt.Errorf("failed to resolve approvers for step %d: %w", stepNumber, err)
	}

	if directory.Contains(approvers, action.ActorID) {
		return nil
	}

	for _, later := range section.Steps {
		if later.StepNumber <= stepNumber {
			continue
		}

		laterApprovers, err := e.resolver.ResolveApprovers(ctx, later.ApproverRole, request.BusinessUnitID)
		if err != nil {
			return fmt.Errorf("failed to resolve approvers for step %d: %w", later.StepNumber, err)
		}

		if directory.Contains(laterApprovers, action.ActorID) {
			return newActionError(request.ID, action.ActorID, action.Kind,
				fmt.Errorf("step %d is pending before step %d: %w", stepNumber, later.StepNumber, ErrOutOfOrderApproval))
		}
	}

	return newActionError(request.ID, action.ActorID, action.Kind, ErrUnauthorized)
}

// checkStalled emits an operator alert when the pending step resolves to an
// empty approver set. The request stays valid; nobody can currently act.
func (e *Engine) checkStalled(ctx context.Context, tx *transition, request *models.Request, section *models.Section) {
	step := section.StepAt(request.NextStepNumber())
	if step == nil {
		return
	}

	approvers, err := e.resolver.ResolveApprovers(ctx, step.ApproverRole, request.BusinessUnitID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to resolve approvers for stall check",
			"request_id", request.ID,
			"role", step.ApproverRole.Role,
			"error", err)

		return
	}

	if len(approvers) > 0 {
		return
	}

	e.logger.WarnContext(ctx, "Request stalled: no eligible approver",
		"request_id", request.ID,
		"section_order", section.Order,
		"step_number", step.StepNumber,
		"role", step.ApproverRole.Role)

	tx.recordEvent(events.RequestStalled{
		BaseEvent:    tx.baseEventFor(request.ID, events.RequestStalledEvent),
		SectionOrder: section.Order,
		StepNumber:   step.StepNumber,
		RoleName:     step.ApproverRole.Role,
	})
}
