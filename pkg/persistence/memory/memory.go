// Package memory provides an in-memory persistence implementation used by
// tests and single-node development deployments. It honors the same version
// semantics as the SQL backends, so engine concurrency behavior is identical
// across backends.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

// Persistence implements persistence.Persistence with process-local maps.
type Persistence struct {
	requestRepo *RequestRepository
	historyRepo *HistoryRepository
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		requestRepo: NewRequestRepository(),
		historyRepo: NewHistoryRepository(),
	}
}

func (p *Persistence) RequestRepository() persistence.RequestRepository {
	return p.requestRepo
}

func (p *Persistence) HistoryRepository() persistence.HistoryRepository {
	return p.historyRepo
}

// HealthCheck always succeeds for in-memory persistence.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for in-memory persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// RequestRepository is the in-memory request store.
type RequestRepository struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
}

// NewRequestRepository creates an empty request repository.
func NewRequestRepository() *RequestRepository {
	return &RequestRepository{requests: make(map[string]*models.Request)}
}

// Create stores a new request, failing when the id is already taken.
func (r *RequestRepository) Create(_ context.Context, request *models.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[request.ID]; exists {
		return persistence.NewRequestError("Create", request.ID, persistence.ErrRequestAlreadyExists)
	}

	r.requests[request.ID] = request.Clone()

	return nil
}

// GetByID returns a copy of the stored request.
func (r *RequestRepository) GetByID(_ context.Context, id string) (*models.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, exists := r.requests[id]
	if !exists {
		return nil, persistence.NewRequestError("GetByID", id, persistence.ErrRequestNotFound)
	}

	return request.Clone(), nil
}

// Update performs a compare-and-set write keyed on the request version.
func (r *RequestRepository) Update(_ context.Context, request *models.Request, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.requests[request.ID]
	if !exists {
		return persistence.NewRequestError("Update", request.ID, persistence.ErrRequestNotFound)
	}

	if stored.Version != expectedVersion {
		return persistence.NewRequestError("Update", request.ID, persistence.ErrVersionConflict)
	}

	updated := request.Clone()
	updated.Version = expectedVersion + 1
	r.requests[request.ID] = updated

	return nil
}

// List returns requests matching the filter, newest first.
func (r *RequestRepository) List(_ context.Context, filter persistence.RequestFilter) ([]*models.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.Request, 0)

	for _, request := range r.requests {
		if filter.ChainID != "" && request.ChainID != filter.ChainID {
			continue
		}

		if filter.BusinessUnitID != "" && request.BusinessUnitID != filter.BusinessUnitID {
			continue
		}

		if filter.Status != nil && request.Status != *filter.Status {
			continue
		}

		matched = append(matched, request.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}

		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return paginate(matched, filter.Offset, filter.Limit), nil
}

// ByRoot returns every request sharing the root request id, ordered by
// section order.
func (r *RequestRepository) ByRoot(_ context.Context, rootRequestID string) ([]*models.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.Request, 0)

	for _, request := range r.requests {
		if request.RootRequestID == rootRequestID {
			matched = append(matched, request.Clone())
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CurrentSectionOrder < matched[j].CurrentSectionOrder
	})

	return matched, nil
}

func paginate(requests []*models.Request, offset, limit int) []*models.Request {
	if offset >= len(requests) {
		return []*models.Request{}
	}

	requests = requests[offset:]

	if limit > 0 && limit < len(requests) {
		requests = requests[:limit]
	}

	return requests
}

// HistoryRepository is the in-memory append-only history store.
type HistoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]*models.HistoryEntry // request id -> entries in append order
	ids     map[string]struct{}
}

// NewHistoryRepository creates an empty history repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{
		entries: make(map[string][]*models.HistoryEntry),
		ids:     make(map[string]struct{}),
	}
}

// Append records a history entry. Entries are immutable once written.
func (r *HistoryRepository) Append(_ context.Context, entry *models.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[entry.ID]; exists {
		return &persistence.HistoryError{
			Op:        "Append",
			RequestID: entry.RequestID,
			EntryID:   entry.ID,
			Err:       persistence.ErrHistoryEntryExists,
		}
	}

	copied := *entry
	r.ids[entry.ID] = struct{}{}
	r.entries[entry.RequestID] = append(r.entries[entry.RequestID], &copied)

	return nil
}

// ByRequestID returns the entries for a request in append order.
func (r *HistoryRepository) ByRequestID(_ context.Context, requestID string) ([]*models.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.entries[requestID]
	out := make([]*models.HistoryEntry, len(stored))

	for i, entry := range stored {
		copied := *entry
		out[i] = &copied
	}

	return out, nil
}
