package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/approvia/approvia/pkg/config"
	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

// transition accumulates everything a single engine operation wants to
// persist and announce, then commits it in a fixed order: the conditional
// request write decides the outcome, the child creation is idempotent, and
// history plus events are applied best effort after the state is durable.
type transition struct {
	engine  *Engine
	request *models.Request
	child   *models.Request
	entries []*models.HistoryEntry
	events  []eventbus.Event
}

func newTransition(e *Engine, request *models.Request) *transition {
	return &transition{engine: e, request: request}
}

func (tx *transition) baseEvent(eventType events.EventType) events.BaseEvent {
	return tx.baseEventFor(tx.request.ID, eventType)
}

// baseEventFor stamps an event for a request other than the transition's
// own, such as a forked child created alongside the parent's write.
func (tx *transition) baseEventFor(requestID string, eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: tx.engine.now(),
		RequestID: requestID,
	}
}

func (tx *transition) recordHistory(actorID string, action models.HistoryAction, comment string, stepNumber int) *models.HistoryEntry {
	entry := &models.HistoryEntry{
		ID:           uuid.NewString(),
		RequestID:    tx.request.ID,
		ActorID:      actorID,
		Action:       action,
		SectionOrder: tx.request.CurrentSectionOrder,
		StepNumber:   stepNumber,
		Comment:      comment,
		CreatedAt:    tx.engine.now(),
	}
	tx.entries = append(tx.entries, entry)

	return entry
}

func (tx *transition) recordStatusEvent(
	from, to models.RequestStatus,
	action models.HistoryAction,
	actorID string,
	stepNumber int,
) {
	tx.events = append(tx.events, events.RequestTransitioned{
		BaseEvent:    tx.baseEvent(events.RequestTransitionedEvent),
		FromStatus:   from,
		ToStatus:     to,
		Action:       action,
		ActorID:      actorID,
		SectionOrder: tx.request.CurrentSectionOrder,
		StepNumber:   stepNumber,
	})
}

func (tx *transition) recordEvent(event eventbus.Event) {
	tx.events = append(tx.events, event)
}

// commit writes the request conditionally, then materializes the side
// effects. The conditional write is the only step that can reject the
// transition; after it succeeds the request state is authoritative and
// failures to append history or deliver events are logged, not rolled back.
func (tx *transition) commit(ctx context.Context, expectedVersion int64) (*models.Request, error) {
	if err := tx.engine.requests.Update(ctx, tx.request, expectedVersion); err != nil {
		return nil, err
	}

	if tx.child != nil {
		err := tx.engine.requests.Create(ctx, tx.child)
		if err != nil && !errors.Is(err, persistence.ErrRequestAlreadyExists) {
			return nil, fmt.Errorf("failed to create forked request %s: %w", tx.child.ID, err)
		}
	}

	for _, entry := range tx.entries {
		err := tx.engine.history.Append(ctx, entry)
		if err != nil && !errors.Is(err, persistence.ErrHistoryEntryExists) {
			tx.engine.logger.ErrorContext(ctx, "Failed to append history entry",
				"request_id", entry.RequestID,
				"action", entry.Action,
				"error", err)
		}
	}

	for _, event := range tx.events {
		if err := tx.engine.publisher.Publish(ctx, events.Topic, event); err != nil {
			tx.engine.logger.ErrorContext(ctx, "Event delivery failed after applied transition",
				"request_id", tx.request.ID,
				"event_type", event.GetType(),
				"error", err)
		}
	}

	return tx.engine.requests.GetByID(ctx, tx.request.ID)
}

// planAdvance handles completion of the request's current section: terminal
// approval on the last section, in-place advancement when the same initiator
// continues, or a fork into a linked child request otherwise. The request is
// mutated in place; nothing is persisted until the transition commits.
func (e *Engine) planAdvance(
	ctx context.Context,
	tx *transition,
	request *models.Request,
	chain *models.Chain,
	actorID string,
) error {
	fromStatus := request.Status
	fromOrder := request.CurrentSectionOrder

	if chain.IsLastSection(fromOrder) {
		request.Status = models.RequestStatusApproved
		request.UpdatedAt = e.now()
		tx.recordStatusEvent(fromStatus, models.RequestStatusApproved, models.HistoryActionAdvanceSection, actorID, 0)

		return nil
	}

	next := chain.SectionAt(fromOrder + 1)
	if next == nil {
		return &config.ConfigurationError{
			ChainID: chain.ID,
			Detail:  fmt.Sprintf("section %d missing despite not being last", fromOrder+1),
		}
	}

	fork := next.HardFork

	var eligible []string

	if next.Kind == models.SectionKindForm || len(next.InitiatorRoles) > 0 {
		var err error

		eligible, err = e.eligibleInitiators(ctx, next, request.BusinessUnitID)
		if err != nil {
			return err
		}

		// A form section whose initiator roles exclude the current
		// initiator always forks, hard fork flag or not.
		if !fork && next.Kind == models.SectionKindForm &&
			len(next.InitiatorRoles) > 0 && !directory.Contains(eligible, request.InitiatorID) {
			fork = true
		}
	}

	if !fork {
		request.CurrentSectionOrder = next.Order
		request.SectionLedger = nil

		if next.Kind == models.SectionKindApproval {
			request.Status = models.RequestStatusInReview
		} else {
			request.Status = models.RequestStatusDraft
		}

		request.UpdatedAt = e.now()

		tx.recordHistory(actorID, models.HistoryActionAdvanceSection, "", 0)
		tx.recordEvent(events.SectionAdvanced{
			BaseEvent:        tx.baseEvent(events.SectionAdvancedEvent),
			FromSectionOrder: fromOrder,
			ToSectionOrder:   next.Order,
		})
		tx.recordStatusEvent(fromStatus, request.Status, models.HistoryActionAdvanceSection, actorID, 0)

		if next.Kind == models.SectionKindApproval {
			e.checkStalled(ctx, tx, request, next)
		}

		e.logger.InfoContext(ctx, "Request advanced to next section",
			"request_id", request.ID,
			"from_section", fromOrder,
			"to_section", next.Order)

		return nil
	}

	child := e.buildChild(request, next, eligible)

	// The parent's own journey ends here; the child carries the chain
	// forward under the shared root.
	request.Status = models.RequestStatusApproved
	request.UpdatedAt = e.now()

	tx.child = child
	tx.recordHistory(actorID, models.HistoryActionFork, "", 0)
	tx.recordStatusEvent(fromStatus, models.RequestStatusApproved, models.HistoryActionFork, actorID, 0)
	tx.recordEvent(events.RequestForked{
		BaseEvent:          tx.baseEvent(events.RequestForkedEvent),
		ChildRequestID:     child.ID,
		ChildSectionOrder:  child.CurrentSectionOrder,
		ChildInitiatorID:   child.InitiatorID,
		EligibleInitiators: eligible,
	})

	if next.Kind == models.SectionKindApproval {
		e.checkStalled(ctx, tx, child, next)
	}

	e.logger.InfoContext(ctx, "Request forked into next section",
		"request_id", request.ID,
		"child_request_id", child.ID,
		"child_section", next.Order,
		"eligible_initiators", len(eligible))

	return nil
}

// buildChild constructs the forked request for the next section. The child
// ID is derived deterministically from the logical chain position so that a
// replayed fork converges on the same child instead of minting a second one.
func (e *Engine) buildChild(parent *models.Request, next *models.Section, eligible []string) *models.Request {
	seed := fmt.Sprintf("%s/%s/%d", parent.ChainID, parent.RootRequestID, next.Order)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()

	initiatorID := ""

	switch {
	case len(eligible) == 1:
		initiatorID = eligible[0]
	case next.Kind == models.SectionKindApproval && len(next.InitiatorRoles) == 0:
		// A hard fork into an approval section keeps the parent's
		// initiator as owner; approvers come from the step roles.
		initiatorID = parent.InitiatorID
	}

	status := models.RequestStatusDraft
	if next.Kind == models.SectionKindApproval {
		status = models.RequestStatusInReview
	}

	now := e.now()
	parentID := parent.ID

	return &models.Request{
		ID:                  id,
		ChainID:             parent.ChainID,
		ChainVersion:        parent.ChainVersion,
		BusinessUnitID:      parent.BusinessUnitID,
		InitiatorID:         initiatorID,
		Status:              status,
		CurrentSectionOrder: next.Order,
		Data:                parent.Clone().Data,
		ParentRequestID:     &parentID,
		RootRequestID:       parent.RootRequestID,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// eligibleInitiators resolves the union of a section's initiator roles into
// a sorted, deduplicated user set.
func (e *Engine) eligibleInitiators(ctx context.Context, section *models.Section, businessUnitID string) ([]string, error) {
	seen := make(map[string]struct{})

	for _, role := range section.InitiatorRoles {
		users, err := e.resolver.ResolveApprovers(ctx, role, businessUnitID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve initiator role %s: %w", role.Role, err)
		}

		for _, user := range users {
			seen[user] = struct{}{}
		}
	}

	eligible := make([]string, 0, len(seen))
	for user := range seen {
		eligible = append(eligible, user)
	}

	sort.Strings(eligible)

	return eligible, nil
}
