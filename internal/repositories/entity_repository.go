package repositories

import (
	"context"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// EntityRepository is the backend-specific persistence surface for
// entity state. It writes exactly what the persistence engine hands it
// and never mutates bookkeeping fields itself.
type EntityRepository interface {
	// Save upserts the entity's current field state and synchronizes
	// the association rows derived from its multi-valued reference
	// fields. The entity must already carry its id, revision and
	// commit id.
	Save(ctx context.Context, ent *entities.Entity) error

	// Get loads one entity by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, def *entities.Definition, entityID string) (*entities.Entity, error)

	// Delete removes the entity row and its association rows.
	// Returns ErrNotFound if the row did not exist.
	Delete(ctx context.Context, ent *entities.Entity) error

	// SaveRevision stores an immutable snapshot of the entity's
	// persisted state keyed by its current revision number.
	SaveRevision(ctx context.Context, ent *entities.Entity) error

	// GetRevisions returns all historical snapshots ordered by
	// ascending revision.
	GetRevisions(ctx context.Context, def *entities.Definition, entityID string) ([]*entities.Entity, error)

	// SetMovedTo records that oldID was redirected to newID (e.g.,
	// after a merge).
	SetMovedTo(ctx context.Context, accountID, objType, oldID, newID string) error

	// GetMovedTo returns the redirect target for an id, or "" when the
	// entity has not moved.
	GetMovedTo(ctx context.Context, accountID, objType, entityID string) (string, error)

	// NextUnameNumber allocates the next opaque per-(account, obj_type)
	// unique-name sequence number.
	NextUnameNumber(ctx context.Context, accountID, objType string) (int64, error)

	// DeleteAssociationsTo removes multi-value association rows
	// pointing at the given targets, used when a target is
	// hard-deleted.
	DeleteAssociationsTo(ctx context.Context, accountID, targetType string, targetIDs []string) error
}
