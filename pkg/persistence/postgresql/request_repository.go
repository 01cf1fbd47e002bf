package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

const uniqueViolationCode = "23505"

// RequestRepository handles request-related database operations.
type RequestRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(db *sql.DB, logger *slog.Logger) *RequestRepository {
	return &RequestRepository{db: db, logger: logger}
}

const requestColumns = `
	id
  , chain_id
  , chain_version
  , business_unit_id
  , initiator_id
  , status
  , current_section_order
  , data
  , parent_request_id
  , root_request_id
  , section_ledger
  , version
  , created_at
  , updated_at
`

// Create inserts a new request. A primary key collision maps to
// ErrRequestAlreadyExists so idempotent fork creation can treat it as
// success.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	data, ledger, err := marshalPayloads(request)
	if err != nil {
		return persistence.NewRequestError("Create", request.ID, err)
	}

	query := `
		INSERT INTO requests (
			id, chain_id, chain_version, business_unit_id, initiator_id, status,
			current_section_order, data, parent_request_id, root_request_id,
			section_ledger, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		request.ID, request.ChainID, request.ChainVersion, request.BusinessUnitID,
		request.InitiatorID, request.Status, request.CurrentSectionOrder, data,
		request.ParentRequestID, request.RootRequestID, ledger, request.Version,
		request.CreatedAt, request.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return persistence.NewRequestError("Create", request.ID, persistence.ErrRequestAlreadyExists)
		}

		return persistence.NewRequestError("Create", request.ID, fmt.Errorf("failed to insert request: %w", err))
	}

	return nil
}

// GetByID returns a request by its identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	request, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRequestError("GetByID", id, persistence.ErrRequestNotFound)
		}

		return nil, persistence.NewRequestError("GetByID", id, err)
	}

	return request, nil
}

// Update writes the request conditionally on the stored version matching
// expectedVersion.
func (r *RequestRepository) Update(ctx context.Context, request *models.Request, expectedVersion int64) error {
	data, ledger, err := marshalPayloads(request)
	if err != nil {
		return persistence.NewRequestError("Update", request.ID, err)
	}

	query := `
		UPDATE requests SET
			status = $1
		  , current_section_order = $2
		  , initiator_id = $3
		  , data = $4
		  , section_ledger = $5
		  , version = version + 1
		  , updated_at = NOW()
		WHERE id = $6 AND version = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		request.Status, request.CurrentSectionOrder, request.InitiatorID,
		data, ledger, request.ID, expectedVersion,
	)
	if err != nil {
		return persistence.NewRequestError("Update", request.ID, fmt.Errorf("failed to update request: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRequestError("Update", request.ID, fmt.Errorf("failed to read rows affected: %w", err))
	}

	if affected == 0 {
		// Distinguish a lost race from a missing row.
		var exists bool

		err = r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)", request.ID).Scan(&exists)
		if err != nil {
			return persistence.NewRequestError("Update", request.ID, fmt.Errorf("failed to check request existence: %w", err))
		}

		if !exists {
			return persistence.NewRequestError("Update", request.ID, persistence.ErrRequestNotFound)
		}

		return persistence.NewRequestError("Update", request.ID, persistence.ErrVersionConflict)
	}

	return nil
}

// List returns requests matching the filter, newest first.
func (r *RequestRepository) List(ctx context.Context, filter persistence.RequestFilter) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	args := make([]any, 0, 5)

	if filter.ChainID != "" {
		args = append(args, filter.ChainID)
		query += fmt.Sprintf(" AND chain_id = $%d", len(args))
	}

	if filter.BusinessUnitID != "" {
		args = append(args, filter.BusinessUnitID)
		query += fmt.Sprintf(" AND business_unit_id = $%d", len(args))
	}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC, id ASC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.queryRequests(ctx, "List", query, args...)
}

// ByRoot returns every request sharing the root request id, ordered by
// section order.
func (r *RequestRepository) ByRoot(ctx context.Context, rootRequestID string) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE root_request_id = $1 ORDER BY current_section_order ASC`

	return r.queryRequests(ctx, "ByRoot", query, rootRequestID)
}

func (r *RequestRepository) queryRequests(ctx context.Context, op, query string, args ...any) ([]*models.Request, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence.NewRequestError(op, "", fmt.Errorf("failed to query requests: %w", err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	requests := make([]*models.Request, 0)

	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, persistence.NewRequestError(op, "", fmt.Errorf("failed to scan request: %w", err))
		}

		requests = append(requests, request)
	}

	if err := rows.Err(); err != nil {
		return nil, persistence.NewRequestError(op, "", fmt.Errorf("error iterating requests: %w", err))
	}

	return requests, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var (
		request models.Request
		data    []byte
		ledger  []byte
	)

	err := row.Scan(
		&request.ID, &request.ChainID, &request.ChainVersion, &request.BusinessUnitID,
		&request.InitiatorID, &request.Status, &request.CurrentSectionOrder, &data,
		&request.ParentRequestID, &request.RootRequestID, &ledger, &request.Version,
		&request.CreatedAt, &request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &request.Data); err != nil {
			return nil, fmt.Errorf("failed to decode request data: %w", err)
		}
	}

	if len(ledger) > 0 {
		if err := json.Unmarshal(ledger, &request.SectionLedger); err != nil {
			return nil, fmt.Errorf("failed to decode section ledger: %w", err)
		}
	}

	return &request, nil
}

func marshalPayloads(request *models.Request) (data, ledger []byte, err error) {
	data, err = json.Marshal(request.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request data: %w", err)
	}

	if request.SectionLedger == nil {
		ledger = []byte("[]")
	} else {
		ledger, err = json.Marshal(request.SectionLedger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode section ledger: %w", err)
		}
	}

	return data, ledger, nil
}
