package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

// HistoryRepository handles the append-only request history log.
type HistoryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *sql.DB, logger *slog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Append records a history entry. Existing entries are never rewritten.
func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	query := `
		INSERT INTO request_history (
			id, request_id, actor_id, action, section_order, step_number, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.RequestID, entry.ActorID, entry.Action,
		entry.SectionOrder, entry.StepNumber, entry.Comment, entry.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return &persistence.HistoryError{
				Op:        "Append",
				RequestID: entry.RequestID,
				EntryID:   entry.ID,
				Err:       persistence.ErrHistoryEntryExists,
			}
		}

		return &persistence.HistoryError{
			Op:        "Append",
			RequestID: entry.RequestID,
			EntryID:   entry.ID,
			Err:       fmt.Errorf("failed to insert history entry: %w", err),
		}
	}

	return nil
}

// ByRequestID returns the entries for a request in append order.
func (r *HistoryRepository) ByRequestID(ctx context.Context, requestID string) ([]*models.HistoryEntry, error) {
	query := `
		SELECT
			id
		  , request_id
		  , actor_id
		  , action
		  , section_order
		  , step_number
		  , comment
		  , created_at
		FROM request_history
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, &persistence.HistoryError{
			Op:        "ByRequestID",
			RequestID: requestID,
			Err:       fmt.Errorf("failed to query history: %w", err),
		}
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.HistoryEntry, 0)

	for rows.Next() {
		var entry models.HistoryEntry

		err := rows.Scan(
			&entry.ID, &entry.RequestID, &entry.ActorID, &entry.Action,
			&entry.SectionOrder, &entry.StepNumber, &entry.Comment, &entry.CreatedAt,
		)
		if err != nil {
			return nil, &persistence.HistoryError{
				Op:        "ByRequestID",
				RequestID: requestID,
				Err:       fmt.Errorf("failed to scan history entry: %w", err),
			}
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, &persistence.HistoryError{
			Op:        "ByRequestID",
			RequestID: requestID,
			Err:       fmt.Errorf("error iterating history: %w", err),
		}
	}

	return entries, nil
}
