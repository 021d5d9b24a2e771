package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/infrastructure/metrics"
	"github.com/halcyon-labs/entitycore/internal/jobs"
	"github.com/halcyon-labs/entitycore/internal/pubsub"
	"github.com/halcyon-labs/entitycore/internal/repositories"
	"github.com/halcyon-labs/entitycore/pkg/cache"
)

// EntityIndex is the slice of the query index the engine depends on:
// uniqueness verification and full-text maintenance
type EntityIndex interface {
	ExecuteQuery(ctx context.Context, accountID string, q *entities.Query) (*entities.Results, error)
	IndexEntity(ctx context.Context, ent *entities.Entity) error
	RemoveEntity(ctx context.Context, ent *entities.Entity) error
}

// DefinitionGetter resolves schema metadata for one entity type
type DefinitionGetter interface {
	Get(ctx context.Context, accountID, objType string) (*entities.Definition, error)
}

// Deps wires the persistence engine's collaborators
type Deps struct {
	Definitions DefinitionGetter
	Repo        repositories.EntityRepository
	Commits     repositories.CommitRepository
	Groupings   repositories.GroupingRepository
	Recurrence  repositories.RecurrenceRepository
	Index       EntityIndex
	Jobs        jobs.Dispatcher
	Bus         pubsub.Publisher
	Metrics     *metrics.Collector
	MovedCache  cache.Cache
	Logger      zerolog.Logger
}

// Service is the versioned persistence engine. It exclusively owns the
// write path for entities and recurrence patterns; reads go through
// GetByID here or directly through the query index.
type Service struct {
	defs        DefinitionGetter
	repo        repositories.EntityRepository
	commits     repositories.CommitRepository
	groups      repositories.GroupingRepository
	recur       repositories.RecurrenceRepository
	index       EntityIndex
	jobs        jobs.Dispatcher
	bus         pubsub.Publisher
	metrics     *metrics.Collector
	moved       *movedCache
	hooks       []Hook
	aggregators []Aggregator
	log         zerolog.Logger

	// now is the single clock source stamping ts_entered/ts_updated so
	// per-account chronological order is stable regardless of client
	// clock skew; overridable in tests
	now func() time.Time
}

// NewService creates the persistence engine
func NewService(deps Deps) *Service {
	return &Service{
		defs:    deps.Definitions,
		repo:    deps.Repo,
		commits: deps.Commits,
		groups:  deps.Groupings,
		recur:   deps.Recurrence,
		index:   deps.Index,
		jobs:    deps.Jobs,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		moved:   newMovedCache(deps.Repo, deps.MovedCache),
		log:     deps.Logger,
		now:     time.Now,
	}
}

// AddHook registers a lifecycle extension point
func (s *Service) AddHook(h Hook) { s.hooks = append(s.hooks, h) }

// AddAggregator registers a cross-entity aggregate recomputation
func (s *Service) AddAggregator(a Aggregator) { s.aggregators = append(s.aggregators, a) }

// Create instantiates a new in-memory entity of the given type
func (s *Service) Create(ctx context.Context, accountID, objType string) (*entities.Entity, error) {
	def, err := s.defs.Get(ctx, accountID, objType)
	if err != nil {
		return nil, err
	}
	return entities.NewEntity(def), nil
}

// Save runs the full versioned save lifecycle and returns the entity
// id. If the physical persist fails, no revision snapshot, stale
// marker or broadcast is observable; steps after persist are
// fire-and-forget compensations that never roll it back.
func (s *Service) Save(ctx context.Context, ent *entities.Entity, user UserContext) (string, error) {
	// Authorization precondition: acting user must belong to the same
	// tenant and carry an identity (real, anonymous or system)
	if err := s.authorize(ent, user); err != nil {
		return "", err
	}

	// Validation: collected errors surface without persisting anything
	if verr := ValidateEntity(ent); verr != nil {
		return "", verr
	}

	// Revision bump
	ent.SetValue(entities.FieldRevision, ent.Revision()+1)
	firstSave := ent.Revision() == 1

	// Commit allocation: capture the previous commit before replacing it
	prevCommit := ent.CommitID()
	commitID, err := s.commits.Allocate(ctx, ent.AccountID(), ent.ObjType())
	if err != nil {
		return "", fmt.Errorf("failed to allocate commit id: %w", err)
	}
	ent.SetValue(entities.FieldCommitID, commitID)

	// Timestamp defaulting from the persistence layer's clock; client
	// supplied values are always overwritten
	now := s.now()
	if firstSave {
		ent.SetValue(entities.FieldTsEntered, now)
	}
	ent.SetValue(entities.FieldTsUpdated, now)

	// Unique-name assignment
	def := ent.Definition()
	if def.HasUniqueNames() && ent.UniqueName() == "" {
		uname, err := s.generateUniqueName(ctx, ent)
		if err != nil {
			return "", fmt.Errorf("failed to generate unique name: %w", err)
		}
		ent.SetValue(entities.FieldUniqueName, uname)
	}

	// Global id assignment, idempotent across saves
	if ent.EntityID() == "" {
		ent.SetEntityID(uuid.NewString())
	}

	// Foreign-key display-name cache refresh, best effort per id
	s.refreshReferenceNames(ctx, ent)

	// Recurrence pre-linking: reserve the pattern id before persisting
	// either side of the circular reference
	if p := ent.Recurrence(); p != nil && ent.RecurrenceID() == "" {
		p.ID = uuid.NewString()
		p.AccountID = ent.AccountID()
		p.ObjType = ent.ObjType()
		ent.SetValue(entities.FieldRecurrenceID, p.ID)
	}

	for _, h := range s.hooks {
		if err := h.BeforeSave(ctx, ent); err != nil {
			return "", fmt.Errorf("before-save hook failed: %w", err)
		}
	}

	// Snapshot dirty state before persist resets it
	changes := ent.ChangedFields()

	// Physical persist; surfaced, not retried
	if err := s.repo.Save(ctx, ent); err != nil {
		return "", fmt.Errorf("failed to persist entity: %w", err)
	}

	if def.StoreRevisions {
		if err := s.repo.SaveRevision(ctx, ent); err != nil {
			s.log.Warn().Err(err).Str("entity", ent.EntityID()).Msg("failed to store revision snapshot")
		}
	}

	if err := s.index.IndexEntity(ctx, ent); err != nil {
		s.log.Warn().Err(err).Str("entity", ent.EntityID()).Msg("failed to update fulltext index")
	}

	// Mark the previous commit stale for sync consumers; background
	// only, must never block or fail the save
	if !firstSave && prevCommit != 0 {
		s.enqueueMarkStale(ctx, ent.AccountID(), ent.ObjType(), prevCommit)
	}

	for _, h := range s.hooks {
		if err := h.AfterSave(ctx, ent); err != nil {
			s.log.Warn().Err(err).Str("entity", ent.EntityID()).Msg("after-save hook failed")
		}
	}

	for _, a := range s.aggregators {
		if err := a.Recompute(ctx, ent, changes); err != nil {
			s.log.Warn().Err(err).Str("entity", ent.EntityID()).Msg("aggregate recompute failed")
		}
	}

	kind := EventUpdate
	if firstSave {
		kind = EventCreate
	}
	s.broadcast(ctx, ent, user, kind, changes)

	ent.ResetDirty()

	// Persist the pattern after the entity, with the id reserved above;
	// exceptions to a series never own the pattern
	if p := ent.Recurrence(); p != nil && !ent.IsRecurrenceException() {
		if p.EntityID == "" {
			p.EntityID = ent.EntityID()
		}
		if err := s.recur.Save(ctx, p); err != nil {
			return "", fmt.Errorf("failed to persist recurrence pattern: %w", err)
		}
	}

	if user.HasIdentity() {
		s.enqueueChanged(ctx, ent, user, kind, changes)
	}

	if s.metrics != nil {
		s.metrics.IncSaves(ent.ObjType())
	}
	return ent.EntityID(), nil
}

// Delete permanently removes the entity. The owned recurrence pattern
// cascades only when this entity is the canonical first occurrence.
func (s *Service) Delete(ctx context.Context, ent *entities.Entity, user UserContext) error {
	if err := s.authorize(ent, user); err != nil {
		return err
	}
	if ent.EntityID() == "" {
		return fmt.Errorf("cannot delete an entity without an id")
	}

	prevCommit := ent.CommitID()
	commitID, err := s.commits.Allocate(ctx, ent.AccountID(), ent.ObjType())
	if err != nil {
		return fmt.Errorf("failed to allocate commit id: %w", err)
	}
	ent.SetValue(entities.FieldCommitID, commitID)

	for _, h := range s.hooks {
		if err := h.BeforeDelete(ctx, ent); err != nil {
			return fmt.Errorf("before-delete hook failed: %w", err)
		}
	}

	if rid := ent.RecurrenceID(); rid != "" {
		pattern, err := s.recur.Get(ctx, ent.AccountID(), rid)
		switch {
		case err == nil && pattern.EntityID == ent.EntityID():
			if err := s.recur.Delete(ctx, ent.AccountID(), rid); err != nil {
				return fmt.Errorf("failed to cascade recurrence pattern: %w", err)
			}
		case err != nil:
			s.log.Warn().Err(err).Str("pattern", rid).Msg("failed to load recurrence pattern for cascade")
		}
	}

	before := s.currentValues(ent)

	if err := s.repo.Delete(ctx, ent); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}

	for _, h := range s.hooks {
		if err := h.AfterDelete(ctx, ent); err != nil {
			s.log.Warn().Err(err).Str("entity", ent.EntityID()).Msg("after-delete hook failed")
		}
	}

	if err := s.index.RemoveEntity(ctx, ent); err != nil {
		s.log.Warn().Err(err).Str("entity", ent.EntityID()).Msg("failed to remove entity from index")
	}
	if err := s.repo.DeleteAssociationsTo(ctx, ent.AccountID(), ent.ObjType(), []string{ent.EntityID()}); err != nil {
		s.log.Warn().Err(err).Str("entity", ent.EntityID()).Msg("failed to clear inbound associations")
	}

	if prevCommit != 0 {
		s.enqueueMarkStale(ctx, ent.AccountID(), ent.ObjType(), prevCommit)
	}

	change := EntityChange{
		AccountID: ent.AccountID(),
		ObjType:   ent.ObjType(),
		EntityID:  ent.EntityID(),
		UserID:    user.UserID,
		Kind:      EventDelete,
		Before:    before,
		After:     map[string]interface{}{},
	}
	if err := s.bus.Publish(ctx, ChangeTopic(ent.AccountID(), ent.ObjType()), change); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish delete event")
	}

	if user.HasIdentity() {
		s.enqueueChanged(ctx, ent, user, EventDelete, nil)
	}

	if s.metrics != nil {
		s.metrics.IncDeletes(ent.ObjType())
	}
	return nil
}

// Archive soft-deletes by setting the deleted flag and routing through
// the normal save path so every save-time invariant still applies
func (s *Service) Archive(ctx context.Context, ent *entities.Entity, user UserContext) error {
	ent.SetValue(entities.FieldDeleted, true)
	_, err := s.Save(ctx, ent, user)
	return err
}

// GetByID loads one entity, following merge redirects
func (s *Service) GetByID(ctx context.Context, accountID, objType, entityID string) (*entities.Entity, error) {
	def, err := s.defs.Get(ctx, accountID, objType)
	if err != nil {
		return nil, err
	}

	// Follow moved-to redirects, bounded to avoid a redirect loop
	id := entityID
	for i := 0; i < 8; i++ {
		moved, err := s.moved.lookup(ctx, accountID, objType, id)
		if err != nil {
			return nil, err
		}
		if moved == "" || moved == id {
			break
		}
		id = moved
	}

	return s.repo.Get(ctx, def, id)
}

// MarkMoved records that oldID now redirects to newID, typically after
// a merge. GetByID follows the redirect from then on.
func (s *Service) MarkMoved(ctx context.Context, accountID, objType, oldID, newID string) error {
	return s.moved.record(ctx, accountID, objType, oldID, newID)
}

// GetRevisions returns the historical snapshots of one entity
func (s *Service) GetRevisions(ctx context.Context, accountID, objType, entityID string) ([]*entities.Entity, error) {
	def, err := s.defs.Get(ctx, accountID, objType)
	if err != nil {
		return nil, err
	}
	return s.repo.GetRevisions(ctx, def, entityID)
}

// GetByUniqueName resolves an entity by its unique name
func (s *Service) GetByUniqueName(ctx context.Context, accountID, objType, uname string) (*entities.Entity, error) {
	q := entities.NewQuery(objType).Where(entities.FieldUniqueName, entities.OpEqual, uname)
	q.Limit = 1
	res, err := s.index.ExecuteQuery(ctx, accountID, q)
	if err != nil {
		return nil, err
	}
	if len(res.Entities) == 0 {
		return nil, fmt.Errorf("%w: uname %q", repositories.ErrNotFound, uname)
	}
	return res.Entities[0], nil
}

func (s *Service) authorize(ent *entities.Entity, user UserContext) error {
	if user.AccountID == "" || user.AccountID != ent.AccountID() {
		return fmt.Errorf("user account %q does not match entity account %q", user.AccountID, ent.AccountID())
	}
	if user.UserID == "" {
		return fmt.Errorf("acting user has no identity")
	}
	return nil
}

// currentValues snapshots all present field values for event payloads
func (s *Service) currentValues(ent *entities.Entity) map[string]interface{} {
	out := make(map[string]interface{})
	for _, name := range ent.ValueFields() {
		out[name] = ent.GetValue(name)
	}
	return out
}

// broadcast publishes the before/after change event; before is empty
// for creates, otherwise recovered from dirty tracking
func (s *Service) broadcast(ctx context.Context, ent *entities.Entity, user UserContext, kind string, changes map[string]entities.ValueChange) {
	before := map[string]interface{}{}
	after := map[string]interface{}{}
	for name, c := range changes {
		if kind != EventCreate && c.Old != nil {
			before[name] = c.Old
		}
		after[name] = c.New
	}
	change := EntityChange{
		AccountID: ent.AccountID(),
		ObjType:   ent.ObjType(),
		EntityID:  ent.EntityID(),
		UserID:    user.UserID,
		Kind:      kind,
		Before:    before,
		After:     after,
	}
	if err := s.bus.Publish(ctx, ChangeTopic(ent.AccountID(), ent.ObjType()), change); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish change event")
	}
}

func (s *Service) enqueueMarkStale(ctx context.Context, accountID, objType string, commitID int64) {
	err := s.jobs.Enqueue(ctx, jobs.Job{
		Name: JobMarkCommitStale,
		Payload: map[string]interface{}{
			"account_id": accountID,
			"obj_type":   objType,
			"commit_id":  commitID,
		},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to enqueue stale-commit marker")
	}
}

func (s *Service) enqueueChanged(ctx context.Context, ent *entities.Entity, user UserContext, kind string, changes map[string]entities.ValueChange) {
	fields := make([]string, 0, len(changes))
	for name := range changes {
		fields = append(fields, name)
	}
	err := s.jobs.Enqueue(ctx, jobs.Job{
		Name: JobEntityChanged,
		Payload: map[string]interface{}{
			"account_id":     ent.AccountID(),
			"user_id":        user.UserID,
			"obj_type":       ent.ObjType(),
			"entity_id":      ent.EntityID(),
			"kind":           kind,
			"changed_fields": fields,
		},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to enqueue change fan-out")
	}
}
