// Package persistence provides the storage abstraction for requests and
// their history.
package persistence

import (
	"context"

	"github.com/approvia/approvia/pkg/models"
)

// RequestFilter narrows request listings.
type RequestFilter struct {
	ChainID        string
	BusinessUnitID string
	Status         *models.RequestStatus
	Limit          int
	Offset         int
}

// RequestRepository owns request records. Updates are conditional on the
// request's version so concurrent writers conflict instead of clobbering
// each other.
type RequestRepository interface {
	// Create stores a new request. Fails with ErrRequestAlreadyExists when
	// the id is taken; callers creating deterministic child ids rely on this
	// for idempotent forks.
	Create(ctx context.Context, request *models.Request) error

	GetByID(ctx context.Context, id string) (*models.Request, error)

	// Update writes the request conditionally on expectedVersion matching
	// the stored version, failing with ErrVersionConflict otherwise. On
	// success the stored version is expectedVersion+1.
	Update(ctx context.Context, request *models.Request, expectedVersion int64) error

	List(ctx context.Context, filter RequestFilter) ([]*models.Request, error)

	// ByRoot returns every request sharing the given root request id.
	ByRoot(ctx context.Context, rootRequestID string) ([]*models.Request, error)
}

// HistoryRepository owns the append-only action log. Entries are never
// updated or deleted.
type HistoryRepository interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	ByRequestID(ctx context.Context, requestID string) ([]*models.HistoryEntry, error)
}

// Persistence bundles the repositories behind a single backend handle.
type Persistence interface {
	RequestRepository() RequestRepository
	HistoryRepository() HistoryRepository
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
