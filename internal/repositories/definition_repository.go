package repositories

import (
	"context"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// DefinitionRepository loads schema metadata per (account, obj_type).
// Definitions are read-only at runtime; the definition service caches
// them for the process lifetime.
type DefinitionRepository interface {
	// GetDefinition returns the definition with its field list.
	// Returns ErrNoDefinition if the account has no such entity type.
	GetDefinition(ctx context.Context, accountID, objType string) (*entities.Definition, error)
}
