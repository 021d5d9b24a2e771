package repositories

import (
	"context"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// RecurrenceRepository persists recurrence patterns. Pattern ids are
// reserved by the persistence engine before the first save, so Save is
// always an upsert by id.
type RecurrenceRepository interface {
	Save(ctx context.Context, pattern *entities.RecurrencePattern) error

	// Get returns one pattern by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, accountID, patternID string) (*entities.RecurrencePattern, error)

	Delete(ctx context.Context, accountID, patternID string) error
}
