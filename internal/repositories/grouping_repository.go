package repositories

import (
	"context"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// GroupingRepository reads tenant-defined lookup lists and their
// hierarchy. Write paths for groupings live outside this core.
type GroupingRepository interface {
	// GetGroup returns one group by id. Returns ErrNotFound if absent.
	GetGroup(ctx context.Context, accountID string, groupID int64) (*entities.Group, error)

	// GetDescendants returns the group id plus the ids of all
	// transitive children.
	GetDescendants(ctx context.Context, accountID string, groupID int64) ([]int64, error)
}
