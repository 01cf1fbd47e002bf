package engine

import (
	"context"
	"fmt"

	"github.com/approvia/approvia/pkg/models"
)

// ChainEntry is one request in the linked sequence sharing a root.
type ChainEntry struct {
	RequestID    string               `json:"request_id"`
	SectionOrder int                  `json:"section_order"`
	SectionName  string               `json:"section_name"`
	Status       models.RequestStatus `json:"status"`
	InitiatorID  string               `json:"initiator_id,omitempty"`
	IsCurrent    bool                 `json:"is_current"`
}

// RequestChain returns the ordered sequence of linked requests the given
// request belongs to, from the root onward. Traversal follows parent links
// with a visited guard, so a corrupted link graph degrades to a partial view
// instead of looping.
func (e *Engine) RequestChain(ctx context.Context, requestID string) ([]ChainEntry, error) {
	request, err := e.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	siblings, err := e.requests.ByRoot(ctx, request.RootRequestID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Request, len(siblings))
	childOf := make(map[string]*models.Request, len(siblings))

	for _, sibling := range siblings {
		byID[sibling.ID] = sibling

		if sibling.ParentRequestID != nil {
			childOf[*sibling.ParentRequestID] = sibling
		}
	}

	// Walk up to the earliest reachable ancestor.
	head := request
	visited := map[string]bool{head.ID: true}

	for head.ParentRequestID != nil {
		parent, ok := byID[*head.ParentRequestID]
		if !ok || visited[parent.ID] {
			break
		}

		visited[parent.ID] = true
		head = parent
	}

	// Walk down through the child links.
	entries := make([]ChainEntry, 0, len(siblings))
	seen := make(map[string]bool, len(siblings))

	chain, err := e.chains.ChainVersion(ctx, request.ChainID, request.ChainVersion)
	if err != nil {
		return nil, err
	}

	for current := head; current != nil && !seen[current.ID]; current = childOf[current.ID] {
		seen[current.ID] = true

		sectionName := ""
		if section := chain.SectionAt(current.CurrentSectionOrder); section != nil {
			sectionName = section.Name
		}

		entries = append(entries, ChainEntry{
			RequestID:    current.ID,
			SectionOrder: current.CurrentSectionOrder,
			SectionName:  sectionName,
			Status:       current.Status,
			InitiatorID:  current.InitiatorID,
			IsCurrent:    current.ID == request.ID,
		})
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("request %s produced an empty chain view", requestID)
	}

	return entries, nil
}
