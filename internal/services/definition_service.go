package services

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/repositories"
	"github.com/halcyon-labs/entitycore/pkg/cache"
)

// DefinitionServiceInterface defines the interface for schema metadata access
type DefinitionServiceInterface interface {
	Get(ctx context.Context, accountID, objType string) (*entities.Definition, error)
}

// DefinitionService loads entity definitions lazily and caches them
// for the process lifetime. Definitions are read-only at runtime.
type DefinitionService struct {
	repo     repositories.DefinitionRepository
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewDefinitionService creates a new DefinitionService. The cache is
// optional; without one every Get hits the repository.
func NewDefinitionService(repo repositories.DefinitionRepository, c cache.Cache, ttl time.Duration) *DefinitionService {
	return &DefinitionService{repo: repo, cache: c, cacheTTL: ttl}
}

// Get returns the definition for (account, obj_type) with system
// fields injected. A missing definition is a caller error.
func (s *DefinitionService) Get(ctx context.Context, accountID, objType string) (*entities.Definition, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID is required")
	}
	if objType == "" {
		return nil, fmt.Errorf("obj type is required")
	}

	key := "definition:" + accountID + ":" + objType
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			return cached.(*entities.Definition), nil
		}
	}

	def, err := s.repo.GetDefinition(ctx, accountID, objType)
	if err != nil {
		return nil, err
	}
	injectSystemFields(def)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, def, s.cacheTTL)
	}
	return def, nil
}

// systemFields are injected into every definition so callers and the
// query compiler can rely on them for every obj_type. Ids are negative
// to stay clear of schema-defined field ids.
var systemFields = []*entities.Field{
	{ID: -1, Name: entities.FieldEntityID, Title: "Entity ID", Type: entities.FieldTypeText, ExactMatch: true, ReadOnly: true},
	{ID: -2, Name: entities.FieldUniqueName, Title: "Unique Name", Type: entities.FieldTypeText, ExactMatch: true},
	{ID: -3, Name: entities.FieldRevision, Title: "Revision", Type: entities.FieldTypeNumber, ReadOnly: true},
	{ID: -4, Name: entities.FieldCommitID, Title: "Commit", Type: entities.FieldTypeNumber, ReadOnly: true},
	{ID: -5, Name: entities.FieldDeleted, Title: "Deleted", Type: entities.FieldTypeBool},
	{ID: -6, Name: entities.FieldTsEntered, Title: "Created", Type: entities.FieldTypeTimestamp, ReadOnly: true},
	{ID: -7, Name: entities.FieldTsUpdated, Title: "Updated", Type: entities.FieldTypeTimestamp, ReadOnly: true},
}

var recurrenceField = &entities.Field{
	ID: -8, Name: entities.FieldRecurrenceID, Title: "Recurrence Pattern",
	Type: entities.FieldTypeText, ExactMatch: true, ReadOnly: true,
}

func injectSystemFields(def *entities.Definition) {
	for _, f := range systemFields {
		if !def.HasField(f.Name) {
			sys := *f
			sys.System = true
			def.Fields = append(def.Fields, &sys)
		}
	}
	if def.SupportsRecurrence && !def.HasField(recurrenceField.Name) {
		sys := *recurrenceField
		sys.System = true
		def.Fields = append(def.Fields, &sys)
	}
}
