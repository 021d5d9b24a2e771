package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/halcyon-labs/entitycore/internal/repositories"
)

// PostgresCommitRepository implements CommitRepository using PostgreSQL
type PostgresCommitRepository struct {
	db *sql.DB
}

// NewPostgresCommitRepository creates a new PostgreSQL commit repository
func NewPostgresCommitRepository(db *sql.DB) repositories.CommitRepository {
	return &PostgresCommitRepository{db: db}
}

// Allocate returns the next commit id for the (account, obj_type)
// pair. The upsert keeps the sequence monotonic under concurrent
// allocations because the row update takes a row lock.
func (r *PostgresCommitRepository) Allocate(ctx context.Context, accountID, objType string) (int64, error) {
	var head int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO entity_commit_heads (account_id, obj_type, head)
		VALUES ($1, $2, 1)
		ON CONFLICT (account_id, obj_type)
		DO UPDATE SET head = entity_commit_heads.head + 1
		RETURNING head
	`, accountID, objType).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate commit id: %w", err)
	}
	return head, nil
}

// Head returns the last allocated commit id, 0 if none
func (r *PostgresCommitRepository) Head(ctx context.Context, accountID, objType string) (int64, error) {
	var head int64
	err := r.db.QueryRowContext(ctx,
		"SELECT head FROM entity_commit_heads WHERE account_id = $1 AND obj_type = $2",
		accountID, objType,
	).Scan(&head)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get commit head: %w", err)
	}
	return head, nil
}

// MarkStale records a previously exported commit as stale. Idempotent.
func (r *PostgresCommitRepository) MarkStale(ctx context.Context, accountID, objType string, commitID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_sync_stale (account_id, obj_type, commit_id, marked_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT DO NOTHING
	`, accountID, objType, commitID)
	if err != nil {
		return fmt.Errorf("failed to mark commit stale: %w", err)
	}
	return nil
}
