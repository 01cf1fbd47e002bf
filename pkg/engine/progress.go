package engine

import (
	"context"
	"fmt"

	"github.com/approvia/approvia/pkg/config"
	"github.com/approvia/approvia/pkg/directory"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

// StepProgress is one approval step in the progress view.
type StepProgress struct {
	StepNumber       int    `json:"step_number"`
	ApproverRoleName string `json:"approver_role_name"`
	IsCompleted      bool   `json:"is_completed"`
	IsCurrent        bool   `json:"is_current"`
}

// SectionProgress is one section of the chain in the progress view.
type SectionProgress struct {
	Order       int                `json:"order"`
	Name        string             `json:"name"`
	Kind        models.SectionKind `json:"kind"`
	IsCompleted bool               `json:"is_completed"`
	IsCurrent   bool               `json:"is_current"`
	Steps       []StepProgress     `json:"steps,omitempty"`
}

// WorkflowProgress is the read-only projection of where a request stands in
// its chain. WaitingOn names the role whose approval is pending, when any;
// Stalled signals that the pending role resolved to nobody.
type WorkflowProgress struct {
	RequestID     string               `json:"request_id"`
	ChainName     string               `json:"chain_name"`
	Status        models.RequestStatus `json:"status"`
	TotalSections int                  `json:"total_sections"`

	CurrentSection int `json:"current_section"`
	CurrentStep    int `json:"current_step,omitempty"`

	Sections  []SectionProgress `json:"sections"`
	WaitingOn *string           `json:"waiting_on,omitempty"`
	Stalled   bool              `json:"stalled"`
}

// Progress computes the progress projection for a request against its pinned
// chain version. It never mutates state.
func (e *Engine) Progress(ctx context.Context, requestID string) (*WorkflowProgress, error) {
	request, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	chain, err := e.chains.ChainVersion(ctx, request.ChainID, request.ChainVersion)
	if err != nil {
		return nil, err
	}

	if chain.SectionAt(request.CurrentSectionOrder) == nil {
		return nil, &config.ConfigurationError{
			ChainID: chain.ID,
			Detail:  fmt.Sprintf("request %s points at missing section %d", request.ID, request.CurrentSectionOrder),
		}
	}

	progress := &WorkflowProgress{
		RequestID:      request.ID,
		ChainName:      chain.Name,
		Status:         request.Status,
		TotalSections:  chain.SectionCount(),
		CurrentSection: request.CurrentSectionOrder,
		Sections:       make([]SectionProgress, 0, chain.SectionCount()),
	}

	pendingStep := request.NextStepNumber()
	inReview := request.Status == models.RequestStatusInReview
	requestDone := request.Status == models.RequestStatusApproved

	for i := range chain.Sections {
		section := &chain.Sections[i]
		isCurrent := section.Order == request.CurrentSectionOrder && !requestDone
		// An approved parent that forked is done with its own section only;
		// the forked child owns progress through the rest of the chain.
		isCompleted := section.Order < request.CurrentSectionOrder ||
			(requestDone && section.Order == request.CurrentSectionOrder)

		sp := SectionProgress{
			Order:       section.Order,
			Name:        section.Name,
			Kind:        section.Kind,
			IsCompleted: isCompleted,
			IsCurrent:   isCurrent,
		}

		for _, step := range section.Steps {
			stepCompleted := isCompleted || (isCurrent && step.StepNumber < pendingStep)
			stepCurrent := isCurrent && inReview && step.StepNumber == pendingStep

			sp.Steps = append(sp.Steps, StepProgress{
				StepNumber:       step.StepNumber,
				ApproverRoleName: step.ApproverRole.Role,
				IsCompleted:      stepCompleted,
				IsCurrent:        stepCurrent,
			})

			if stepCurrent {
				progress.CurrentStep = step.StepNumber

				role := step.ApproverRole.Role
				progress.WaitingOn = &role

				approvers, err := e.resolver.ResolveApprovers(ctx, step.ApproverRole, request.BusinessUnitID)
				if err != nil {
					return nil, fmt.Errorf("failed to resolve approvers for step %d: %w", step.StepNumber, err)
				}

				progress.Stalled = len(approvers) == 0
			}
		}

		progress.Sections = append(progress.Sections, sp)
	}

	return progress, nil
}

// PendingFor lists the in-review requests whose pending step the given user
// can currently approve. The scan is over open requests only; resolution of
// each pending step against the directory decides membership.
func (e *Engine) PendingFor(ctx context.Context, userID string) ([]*models.Request, error) {
	inReview := models.RequestStatusInReview

	candidates, err := e.requests.List(ctx, persistence.RequestFilter{Status: &inReview})
	if err != nil {
		return nil, err
	}

	var pending []*models.Request

	for _, request := range candidates {
		chain, err := e.chains.ChainVersion(ctx, request.ChainID, request.ChainVersion)
		if err != nil {
			e.logger.WarnContext(ctx, "Skipping request with unresolvable chain",
				"request_id", request.ID,
				"chain_id", request.ChainID,
				"error", err)

			continue
		}

		section := chain.SectionAt(request.CurrentSectionOrder)
		if section == nil || section.Kind != models.SectionKindApproval {
			continue
		}

		step := section.StepAt(request.NextStepNumber())
		if step == nil {
			continue
		}

		approvers, err := e.resolver.ResolveApprovers(ctx, step.ApproverRole, request.BusinessUnitID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve approvers for request %s: %w", request.ID, err)
		}

		if directory.Contains(approvers, userID) {
			pending = append(pending, request)
		}
	}

	return pending, nil
}
