package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/repositories"
)

// PostgresGroupingRepository implements GroupingRepository using PostgreSQL
type PostgresGroupingRepository struct {
	db *sql.DB
}

// NewPostgresGroupingRepository creates a new PostgreSQL grouping repository
func NewPostgresGroupingRepository(db *sql.DB) repositories.GroupingRepository {
	return &PostgresGroupingRepository{db: db}
}

// GetGroup returns one group by id
func (r *PostgresGroupingRepository) GetGroup(ctx context.Context, accountID string, groupID int64) (*entities.Group, error) {
	group := &entities.Group{AccountID: accountID}
	var parentID sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		"SELECT id, grouping, name, parent_id, sort_order FROM entity_groups WHERE account_id = $1 AND id = $2",
		accountID, groupID,
	).Scan(&group.ID, &group.Grouping, &group.Name, &parentID, &group.SortOrder)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: group %d", repositories.ErrNotFound, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	if parentID.Valid {
		group.ParentID = parentID.Int64
	}
	return group, nil
}

// GetDescendants returns the group id plus the ids of all transitive
// children, using a recursive traversal
func (r *PostgresGroupingRepository) GetDescendants(ctx context.Context, accountID string, groupID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH RECURSIVE grp AS (
			SELECT id FROM entity_groups WHERE account_id = $1 AND id = $2
			UNION ALL
			SELECT g.id FROM entity_groups g
				JOIN grp ON g.parent_id = grp.id
				WHERE g.account_id = $1
		)
		SELECT id FROM grp ORDER BY id
	`, accountID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group descendants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group ids: %w", err)
	}
	return ids, nil
}
