package entity

import (
	"context"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// Hook is the lifecycle extension point around save and delete. A
// BeforeSave or BeforeDelete error aborts the operation; After errors
// are logged and never undo the persisted state.
type Hook interface {
	BeforeSave(ctx context.Context, ent *entities.Entity) error
	AfterSave(ctx context.Context, ent *entities.Entity) error
	BeforeDelete(ctx context.Context, ent *entities.Entity) error
	AfterDelete(ctx context.Context, ent *entities.Entity) error
}

// Aggregator recomputes cross-entity aggregates that depend on fields
// just changed. Failures are logged, never fatal to the save.
type Aggregator interface {
	Recompute(ctx context.Context, ent *entities.Entity, changed map[string]entities.ValueChange) error
}
