// Package main provides the Approvia notification consumer: it turns request
// transition events into operator and user facing notifications. Delivery is
// a log line here; a deployment replaces the sink with mail or chat.
package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/approvia/approvia/pkg/eventbus"
	"github.com/approvia/approvia/pkg/events"
)

type Notifier struct {
	logger *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Register binds a handler for every event type the engine emits.
func (n *Notifier) Register(bus eventbus.EventSubscriber) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.RequestTransitionedEvent: n.handleTransitioned,
		events.SectionAdvancedEvent:     n.handleSectionAdvanced,
		events.RequestForkedEvent:       n.handleForked,
		events.RequestStalledEvent:      n.handleStalled,
	}

	for eventType, handler := range handlers {
		if err := bus.Handle(eventType, handler); err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}

func (n *Notifier) handleTransitioned(ctx context.Context, raw any) error {
	event, ok := raw.(*events.RequestTransitioned)
	if !ok {
		return fmt.Errorf("unexpected payload for %s: %T", events.RequestTransitionedEvent, raw)
	}

	n.logger.InfoContext(ctx, "Request transitioned",
		"request_id", event.RequestID,
		"from_status", event.FromStatus,
		"to_status", event.ToStatus,
		"action", event.Action,
		"actor_id", event.ActorID,
		"section_order", event.SectionOrder,
		"step_number", event.StepNumber)

	return nil
}

func (n *Notifier) handleSectionAdvanced(ctx context.Context, raw any) error {
	event, ok := raw.(*events.SectionAdvanced)
	if !ok {
		return fmt.Errorf("unexpected payload for %s: %T", events.SectionAdvancedEvent, raw)
	}

	n.logger.InfoContext(ctx, "Request advanced to next section",
		"request_id", event.RequestID,
		"from_section", event.FromSectionOrder,
		"to_section", event.ToSectionOrder)

	return nil
}

// handleForked notifies every eligible initiator of an unassigned child
// request so any of them can claim it.
func (n *Notifier) handleForked(ctx context.Context, raw any) error {
	event, ok := raw.(*events.RequestForked)
	if !ok {
		return fmt.Errorf("unexpected payload for %s: %T", events.RequestForkedEvent, raw)
	}

	if event.ChildInitiatorID != "" {
		n.logger.InfoContext(ctx, "Forked request assigned",
			"request_id", event.RequestID,
			"child_request_id", event.ChildRequestID,
			"initiator_id", event.ChildInitiatorID)

		return nil
	}

	for _, userID := range event.EligibleInitiators {
		n.logger.InfoContext(ctx, "Forked request awaiting claim",
			"request_id", event.RequestID,
			"child_request_id", event.ChildRequestID,
			"notify_user", userID)
	}

	return nil
}

func (n *Notifier) handleStalled(ctx context.Context, raw any) error {
	event, ok := raw.(*events.RequestStalled)
	if !ok {
		return fmt.Errorf("unexpected payload for %s: %T", events.RequestStalledEvent, raw)
	}

	n.logger.WarnContext(ctx, "Request stalled, operator attention required",
		"request_id", event.RequestID,
		"section_order", event.SectionOrder,
		"step_number", event.StepNumber,
		"role", event.RoleName)

	return nil
}
