package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvia/approvia/pkg/config"
	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
	"github.com/approvia/approvia/pkg/persistence/memory"
)

type capturePublisher struct {
	mu       sync.Mutex
	captured []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.captured = append(p.captured, event)

	return nil
}

func (p *capturePublisher) ofType(eventType events.EventType) []eventbus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var matched []eventbus.Event

	for _, event := range p.captured {
		if event.GetType() == eventType {
			matched = append(matched, event)
		}
	}

	return matched
}

type engineFixture struct {
	engine    *Engine
	chains    *config.MemoryStore
	store     *memory.Persistence
	directory *directory.StaticDirectory
	publisher *capturePublisher
}

func orgRole(role string) models.RoleRef {
	return models.RoleRef{Role: role, Scope: models.RoleScopeOrg}
}

// purchaseChain is the standard fixture: a form section initiated by
// requesters followed by a three step approval section.
func purchaseChain() *models.Chain {
	return &models.Chain{
		ID:   "purchase",
		Name: "Purchase Approval",
		Sections: []models.Section{
			{
				Order:          0,
				Kind:           models.SectionKindForm,
				Name:           "Request Details",
				TemplateRef:    "purchase-form",
				InitiatorRoles: []models.RoleRef{orgRole("requester")},
			},
			{
				Order: 1,
				Kind:  models.SectionKindApproval,
				Name:  "Finance Review",
				Steps: []models.Step{
					{StepNumber: 1, ApproverRole: orgRole("reviewer")},
					{StepNumber: 2, ApproverRole: orgRole("controller")},
					{StepNumber: 3, ApproverRole: orgRole("director")},
				},
			},
		},
	}
}

func newFixture(t *testing.T, chains ...*models.Chain) *engineFixture {
	t.Helper()

	chainStore := config.NewMemoryStore()

	if len(chains) == 0 {
		chains = []*models.Chain{purchaseChain()}
	}

	for _, chain := range chains {
		_, err := chainStore.PutChain(t.Context(), chain)
		require.NoError(t, err)
	}

	dir := directory.NewStaticDirectory()
	dir.AddMember("alice", "requester", "bu-east")
	dir.AddMember("bob", "reviewer", "bu-east")
	dir.AddMember("carol", "controller", "bu-east")
	dir.AddMember("dave", "director", "bu-east")

	store := memory.NewPersistence()
	publisher := &capturePublisher{}

	return &engineFixture{
		engine:    New(chainStore, store, dir, publisher, slog.New(slog.DiscardHandler)),
		chains:    chainStore,
		store:     store,
		directory: dir,
		publisher: publisher,
	}
}

// startedRequest creates and submits a request so it sits in review at the
// approval section.
func (f *engineFixture) startedRequest(t *testing.T) *models.Request {
	t.Helper()

	request, err := f.engine.CreateRequest(t.Context(), "purchase", "bu-east", "alice",
		map[string]any{"amount": 1200})
	require.NoError(t, err)

	request, err = f.engine.SubmitRequest(t.Context(), request.ID, "alice")
	require.NoError(t, err)

	return request
}

func approve(actorID string) models.Action {
	return models.Action{Kind: models.ActionApprove, ActorID: actorID}
}

func TestCreateRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	request, err := f.engine.CreateRequest(t.Context(), "purchase", "bu-east", "alice", nil)
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusDraft, request.Status)
	assert.Equal(t, 0, request.CurrentSectionOrder)
	assert.Equal(t, request.ID, request.RootRequestID)
	assert.Equal(t, 1, request.ChainVersion)
	assert.Equal(t, int64(1), request.Version)
}

func TestCreateRequestUnknownChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.engine.CreateRequest(t.Context(), "nope", "bu-east", "alice", nil)
	require.ErrorIs(t, err, config.ErrChainNotFound)
}

func TestSubmitFormSectionAdvancesIntoReview(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	assert.Equal(t, models.RequestStatusInReview, request.Status)
	assert.Equal(t, 1, request.CurrentSectionOrder)
	assert.Empty(t, request.SectionLedger)

	history, err := f.engine.History(t.Context(), request.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.HistoryActionSubmit, history[0].Action)
	assert.Equal(t, models.HistoryActionAdvanceSection, history[1].Action)

	advanced := f.publisher.ofType(events.SectionAdvancedEvent)
	require.Len(t, advanced, 1)

	event, ok := advanced[0].(events.SectionAdvanced)
	require.True(t, ok)
	assert.Equal(t, 0, event.FromSectionOrder)
	assert.Equal(t, 1, event.ToSectionOrder)
}

func TestSubmitRejectsNonInitiator(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	request, err := f.engine.CreateRequest(t.Context(), "purchase", "bu-east", "alice", nil)
	require.NoError(t, err)

	_, err = f.engine.SubmitRequest(t.Context(), request.ID, "mallory")
	require.ErrorIs(t, err, ErrNotInitiator)
}

func TestSubmitRejectsNonSubmittableState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.SubmitRequest(t.Context(), request.ID, "alice")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveStepsInOrderUntilApproved(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	request, err := f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusInReview, request.Status)
	assert.Equal(t, 2, request.NextStepNumber())

	request, err = f.engine.Act(t.Context(), request.ID, approve("carol"))
	require.NoError(t, err)
	assert.Equal(t, 3, request.NextStepNumber())

	request, err = f.engine.Act(t.Context(), request.ID, approve("dave"))
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, request.Status)

	history, err := f.engine.History(t.Context(), request.ID)
	require.NoError(t, err)

	var approvals int

	for _, entry := range history {
		if entry.Action == models.HistoryActionApprove {
			approvals++
		}
	}

	assert.Equal(t, 3, approvals)
}

func TestApproveOutOfOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.Act(t.Context(), request.ID, approve("carol"))
	require.ErrorIs(t, err, ErrOutOfOrderApproval)

	_, err = f.engine.Act(t.Context(), request.ID, approve("dave"))
	require.ErrorIs(t, err, ErrOutOfOrderApproval)

	// The rejected attempts left no trace on the request.
	current, err := f.engine.GetRequest(t.Context(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, current.NextStepNumber())
}

func TestApproveUnauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.Act(t.Context(), request.ID, approve("mallory"))
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsValidationError(err))
}

func TestSameActorCannotSatisfyStepTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.NoError(t, err)

	// bob holds no role for steps 2 or 3, so the second approval is plain
	// unauthorized rather than out of order.
	_, err = f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRejectIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	request, err := f.engine.Act(t.Context(), request.ID, models.Action{
		Kind:    models.ActionReject,
		ActorID: "bob",
		Comment: "over budget",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, request.Status)

	_, err = f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.engine.SubmitRequest(t.Context(), request.ID, "alice")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRevisionRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	request, err := f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.NoError(t, err)

	request, err = f.engine.Act(t.Context(), request.ID, models.Action{
		Kind:    models.ActionRequestRevision,
		ActorID: "carol",
		Comment: "missing quote",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusNeedsRevision, request.Status)

	request, err = f.engine.UpdateRequestData(t.Context(), request.ID, "alice",
		map[string]any{"amount": 900, "quote": "q-1"})
	require.NoError(t, err)

	request, err = f.engine.SubmitRequest(t.Context(), request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusInReview, request.Status)

	// Resubmission restarts the section: bob's approval must be given again.
	assert.Equal(t, 1, request.NextStepNumber())
	assert.Equal(t, 1, request.CurrentSectionOrder)

	// The prior round stays in history untouched.
	history, err := f.engine.History(t.Context(), request.ID)
	require.NoError(t, err)

	actions := make([]models.HistoryAction, 0, len(history))
	for _, entry := range history {
		actions = append(actions, entry.Action)
	}

	assert.Equal(t, []models.HistoryAction{
		models.HistoryActionSubmit,
		models.HistoryActionAdvanceSection,
		models.HistoryActionApprove,
		models.HistoryActionRequestRevision,
		models.HistoryActionSubmit,
	}, actions)
}

func TestUpdateDataRejectedInReview(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.UpdateRequestData(t.Context(), request.ID, "alice", map[string]any{"amount": 1})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.Act(t.Context(), request.ID, models.Action{Kind: models.ActionCancel, ActorID: "bob"})
	require.ErrorIs(t, err, ErrNotInitiator)

	request, err = f.engine.Act(t.Context(), request.ID, models.Action{Kind: models.ActionCancel, ActorID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, request.Status)

	_, err = f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnknownActionKind(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.Act(t.Context(), request.ID, models.Action{Kind: "escalate", ActorID: "bob"})
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestActUnknownRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.engine.Act(t.Context(), "missing", approve("bob"))
	require.ErrorIs(t, err, persistence.ErrRequestNotFound)
	assert.True(t, IsNotFound(err))
}

func TestStalledStepEmitsEvent(t *testing.T) {
	t.Parallel()

	chain := purchaseChain()
	chain.Sections[1].Steps = []models.Step{
		{StepNumber: 1, ApproverRole: orgRole("auditor")}, // no members
	}

	f := newFixture(t, chain)
	request := f.startedRequest(t)

	assert.Equal(t, models.RequestStatusInReview, request.Status)

	stalled := f.publisher.ofType(events.RequestStalledEvent)
	require.Len(t, stalled, 1)

	event, ok := stalled[0].(events.RequestStalled)
	require.True(t, ok)
	assert.Equal(t, "auditor", event.RoleName)
	assert.Equal(t, 1, event.StepNumber)

	progress, err := f.engine.Progress(t.Context(), request.ID)
	require.NoError(t, err)
	assert.True(t, progress.Stalled)
	require.NotNil(t, progress.WaitingOn)
	assert.Equal(t, "auditor", *progress.WaitingOn)
}

func TestProgressProjection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.NoError(t, err)

	progress, err := f.engine.Progress(t.Context(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, "Purchase Approval", progress.ChainName)
	assert.Equal(t, 2, progress.TotalSections)
	assert.Equal(t, 1, progress.CurrentSection)
	assert.Equal(t, 2, progress.CurrentStep)
	require.NotNil(t, progress.WaitingOn)
	assert.Equal(t, "controller", *progress.WaitingOn)
	assert.False(t, progress.Stalled)

	require.Len(t, progress.Sections, 2)
	assert.True(t, progress.Sections[0].IsCompleted)
	assert.True(t, progress.Sections[1].IsCurrent)

	steps := progress.Sections[1].Steps
	require.Len(t, steps, 3)
	assert.True(t, steps[0].IsCompleted)
	assert.True(t, steps[1].IsCurrent)
	assert.False(t, steps[2].IsCompleted)
}

func TestProgressAfterApproval(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	for _, actor := range []string{"bob", "carol", "dave"} {
		var err error

		request, err = f.engine.Act(t.Context(), request.ID, approve(actor))
		require.NoError(t, err)
	}

	progress, err := f.engine.Progress(t.Context(), request.ID)
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusApproved, progress.Status)
	assert.Nil(t, progress.WaitingOn)

	for _, section := range progress.Sections {
		assert.True(t, section.IsCompleted)
		assert.False(t, section.IsCurrent)
	}
}

func TestProgressOfForkedParentStopsAtOwnSection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fulfillmentChain())
	f.directory.AddMember("frank", "fulfiller", "bu-east")

	request := f.throughApproval(t, "fulfillment")
	require.Equal(t, models.RequestStatusApproved, request.Status)

	progress, err := f.engine.Progress(t.Context(), request.ID)
	require.NoError(t, err)

	require.Len(t, progress.Sections, 3)
	assert.True(t, progress.Sections[0].IsCompleted)
	assert.True(t, progress.Sections[1].IsCompleted)
	assert.False(t, progress.Sections[2].IsCompleted,
		"the fulfillment section belongs to the forked child")
}

func TestPendingFor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	pending, err := f.engine.PendingFor(t.Context(), "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, request.ID, pending[0].ID)

	pending, err = f.engine.PendingFor(t.Context(), "carol")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.NoError(t, err)

	pending, err = f.engine.PendingFor(t.Context(), "bob")
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = f.engine.PendingFor(t.Context(), "carol")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

// fulfillmentChain adds a second form section owned by a different role, so
// completing the approval section forks a child request.
func fulfillmentChain() *models.Chain {
	chain := purchaseChain()
	chain.ID = "fulfillment"
	chain.Name = "Purchase With Fulfillment"
	chain.Sections = append(chain.Sections, models.Section{
		Order:          2,
		Kind:           models.SectionKindForm,
		Name:           "Fulfillment",
		TemplateRef:    "fulfillment-form",
		InitiatorRoles: []models.RoleRef{orgRole("fulfiller")},
	})

	return chain
}

func (f *engineFixture) throughApproval(t *testing.T, chainID string) *models.Request {
	t.Helper()

	request, err := f.engine.CreateRequest(t.Context(), chainID, "bu-east", "alice",
		map[string]any{"amount": 50})
	require.NoError(t, err)

	_, err = f.engine.SubmitRequest(t.Context(), request.ID, "alice")
	require.NoError(t, err)

	for _, actor := range []string{"bob", "carol", "dave"} {
		request, err = f.engine.Act(t.Context(), request.ID, approve(actor))
		require.NoError(t, err)
	}

	return request
}

func TestForkOnForeignFormSection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fulfillmentChain())
	f.directory.AddMember("frank", "fulfiller", "bu-east")
	f.directory.AddMember("grace", "fulfiller", "bu-east")

	parent := f.throughApproval(t, "fulfillment")
	assert.Equal(t, models.RequestStatusApproved, parent.Status)

	forked := f.publisher.ofType(events.RequestForkedEvent)
	require.Len(t, forked, 1)

	event, ok := forked[0].(events.RequestForked)
	require.True(t, ok)
	assert.Equal(t, 2, event.ChildSectionOrder)
	assert.Empty(t, event.ChildInitiatorID)
	assert.Equal(t, []string{"frank", "grace"}, event.EligibleInitiators)

	child, err := f.engine.GetRequest(t.Context(), event.ChildRequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusDraft, child.Status)
	assert.True(t, child.IsUnassigned())
	assert.Equal(t, parent.RootRequestID, child.RootRequestID)
	require.NotNil(t, child.ParentRequestID)
	assert.Equal(t, parent.ID, *child.ParentRequestID)

	// First eligible submitter claims the unassigned child.
	child, err = f.engine.SubmitRequest(t.Context(), child.ID, "frank")
	require.NoError(t, err)
	assert.Equal(t, "frank", child.InitiatorID)

	// Once claimed, other eligible initiators are locked out.
	_, err = f.engine.SubmitRequest(t.Context(), child.ID, "grace")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnassignedForkCancellableByEligibleInitiator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fulfillmentChain())
	f.directory.AddMember("frank", "fulfiller", "bu-east")
	f.directory.AddMember("grace", "fulfiller", "bu-east")

	f.throughApproval(t, "fulfillment")

	forked := f.publisher.ofType(events.RequestForkedEvent)
	require.Len(t, forked, 1)

	childID := forked[0].(events.RequestForked).ChildRequestID

	// Outsiders still cannot withdraw it.
	_, err := f.engine.Act(t.Context(), childID, models.Action{
		Kind: models.ActionCancel, ActorID: "bob",
	})
	require.ErrorIs(t, err, ErrNotInitiator)

	child, err := f.engine.Act(t.Context(), childID, models.Action{
		Kind: models.ActionCancel, ActorID: "grace",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, child.Status)
}

func TestForkAutoAssignsSingleEligibleInitiator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fulfillmentChain())
	f.directory.AddMember("frank", "fulfiller", "bu-east")

	f.throughApproval(t, "fulfillment")

	forked := f.publisher.ofType(events.RequestForkedEvent)
	require.Len(t, forked, 1)

	event := forked[0].(events.RequestForked)
	assert.Equal(t, "frank", event.ChildInitiatorID)

	child, err := f.engine.GetRequest(t.Context(), event.ChildRequestID)
	require.NoError(t, err)
	assert.Equal(t, "frank", child.InitiatorID)
}

func TestNoForkWhenInitiatorEligibleForNextForm(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fulfillmentChain())
	f.directory.AddMember("alice", "fulfiller", "bu-east")

	request := f.throughApproval(t, "fulfillment")

	// Same initiator continues in place: no fork, new draft at section 2.
	assert.Equal(t, models.RequestStatusDraft, request.Status)
	assert.Equal(t, 2, request.CurrentSectionOrder)
	assert.Empty(t, f.publisher.ofType(events.RequestForkedEvent))
}

func TestHardForkOverridesEligibility(t *testing.T) {
	t.Parallel()

	chain := fulfillmentChain()
	chain.Sections[2].HardFork = true

	f := newFixture(t, chain)
	f.directory.AddMember("alice", "fulfiller", "bu-east")

	request := f.throughApproval(t, "fulfillment")

	assert.Equal(t, models.RequestStatusApproved, request.Status)
	require.Len(t, f.publisher.ofType(events.RequestForkedEvent), 1)
}

func TestForkIntoStalledApprovalSectionFlagsChild(t *testing.T) {
	t.Parallel()

	chain := purchaseChain()
	chain.Sections = append(chain.Sections, models.Section{
		Order:    2,
		Kind:     models.SectionKindApproval,
		Name:     "Compliance Audit",
		HardFork: true,
		Steps: []models.Step{
			{StepNumber: 1, ApproverRole: orgRole("auditor")}, // no members
		},
	})

	f := newFixture(t, chain)
	request := f.startedRequest(t)

	for _, actor := range []string{"bob", "carol", "dave"} {
		_, err := f.engine.Act(t.Context(), request.ID, approve(actor))
		require.NoError(t, err)
	}

	forked := f.publisher.ofType(events.RequestForkedEvent)
	require.Len(t, forked, 1)

	forkEvent, ok := forked[0].(events.RequestForked)
	require.True(t, ok)

	stalled := f.publisher.ofType(events.RequestStalledEvent)
	require.Len(t, stalled, 1)

	stallEvent, ok := stalled[0].(events.RequestStalled)
	require.True(t, ok)
	assert.Equal(t, forkEvent.ChildRequestID, stallEvent.RequestID)
	assert.NotEqual(t, request.ID, stallEvent.RequestID)
	assert.Equal(t, "auditor", stallEvent.RoleName)
	assert.Equal(t, 2, stallEvent.SectionOrder)

	progress, err := f.engine.Progress(t.Context(), forkEvent.ChildRequestID)
	require.NoError(t, err)
	assert.True(t, progress.Stalled)
}

func TestForkedChildIDIsDeterministic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fulfillmentChain())

	parent := &models.Request{
		ID:            "req-1",
		ChainID:       "fulfillment",
		ChainVersion:  1,
		RootRequestID: "req-1",
		InitiatorID:   "alice",
	}

	next := &models.Section{Order: 2, Kind: models.SectionKindForm}

	first := f.engine.buildChild(parent, next, nil)
	second := f.engine.buildChild(parent, next, nil)

	assert.Equal(t, first.ID, second.ID)
}

func TestConcurrentFinalApprovalForksOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fulfillmentChain())
	f.directory.AddMember("frank", "fulfiller", "bu-east")
	f.directory.AddMember("dave2", "director", "bu-east")

	request, err := f.engine.CreateRequest(t.Context(), "fulfillment", "bu-east", "alice", nil)
	require.NoError(t, err)

	_, err = f.engine.SubmitRequest(t.Context(), request.ID, "alice")
	require.NoError(t, err)

	for _, actor := range []string{"bob", "carol"} {
		_, err = f.engine.Act(t.Context(), request.ID, approve(actor))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup

	results := make([]error, 2)

	for i, actor := range []string{"dave", "dave2"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, results[i] = f.engine.Act(t.Context(), request.ID, approve(actor))
		}()
	}

	wg.Wait()

	// One writer wins; the other either no-ops after observing the advance
	// or is told the request already completed. Never a second fork.
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, ErrInvalidTransition)
		}
	}

	siblings, err := f.engine.ListRequests(t.Context(), persistence.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, siblings, 2)

	require.Len(t, f.publisher.ofType(events.RequestForkedEvent), 1)

	parent, err := f.engine.GetRequest(t.Context(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, parent.Status)
}

func TestRequestChainView(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fulfillmentChain())
	f.directory.AddMember("frank", "fulfiller", "bu-east")

	parent := f.throughApproval(t, "fulfillment")

	entries, err := f.engine.RequestChain(t.Context(), parent.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, parent.ID, entries[0].RequestID)
	assert.True(t, entries[0].IsCurrent)
	assert.Equal(t, models.RequestStatusApproved, entries[0].Status)

	assert.Equal(t, 2, entries[1].SectionOrder)
	assert.Equal(t, "Fulfillment", entries[1].SectionName)
	assert.False(t, entries[1].IsCurrent)

	// The same view from the child's perspective flips the current marker.
	fromChild, err := f.engine.RequestChain(t.Context(), entries[1].RequestID)
	require.NoError(t, err)
	require.Len(t, fromChild, 2)
	assert.False(t, fromChild[0].IsCurrent)
	assert.True(t, fromChild[1].IsCurrent)
}

func TestRequestChainToleratesCorruptLinks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	idA, idB := "req-a", "req-b"

	a := &models.Request{
		ID: idA, ChainID: "purchase", ChainVersion: 1, BusinessUnitID: "bu-east",
		InitiatorID: "alice", Status: models.RequestStatusInReview,
		RootRequestID: idA, ParentRequestID: &idB, Version: 1,
	}
	b := &models.Request{
		ID: idB, ChainID: "purchase", ChainVersion: 1, BusinessUnitID: "bu-east",
		InitiatorID: "alice", Status: models.RequestStatusApproved,
		RootRequestID: idA, ParentRequestID: &idA, Version: 1,
	}

	repo := f.store.RequestRepository()
	require.NoError(t, repo.Create(t.Context(), a))
	require.NoError(t, repo.Create(t.Context(), b))

	entries, err := f.engine.RequestChain(t.Context(), idA)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	assert.LessOrEqual(t, len(entries), 2)
}

func TestEventStreamCoversEveryTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.startedRequest(t)

	_, err := f.engine.Act(t.Context(), request.ID, approve("bob"))
	require.NoError(t, err)

	transitions := f.publisher.ofType(events.RequestTransitionedEvent)
	require.NotEmpty(t, transitions)

	// draft->submitted, submitted->in_review, advance, step approval.
	var sawStepApproval bool

	for _, raw := range transitions {
		event, ok := raw.(events.RequestTransitioned)
		require.True(t, ok)
		assert.Equal(t, request.ID, event.RequestID)

		if event.Action == models.HistoryActionApprove && event.StepNumber == 1 {
			sawStepApproval = true
			assert.Equal(t, models.RequestStatusInReview, event.FromStatus)
			assert.Equal(t, models.RequestStatusInReview, event.ToStatus)
		}
	}

	assert.True(t, sawStepApproval)
}

func TestEventPublishFailureDoesNotRollBack(t *testing.T) {
	t.Parallel()

	chainStore := config.NewMemoryStore()
	_, err := chainStore.PutChain(context.Background(), purchaseChain())
	require.NoError(t, err)

	dir := directory.NewStaticDirectory()
	dir.AddMember("alice", "requester", "bu-east")

	failing := failingPublisher{}
	eng := New(chainStore, memory.NewPersistence(), dir, failing, slog.New(slog.DiscardHandler))

	request, err := eng.CreateRequest(t.Context(), "purchase", "bu-east", "alice", nil)
	require.NoError(t, err)

	request, err = eng.SubmitRequest(t.Context(), request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusInReview, request.Status)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, eventbus.Event) error {
	return errors.New("broker unavailable")
}
