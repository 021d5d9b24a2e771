package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/jobs"
	"github.com/halcyon-labs/entitycore/internal/repositories"
)

// mockDefs returns a fixed definition for every lookup
type mockDefs struct {
	def *entities.Definition
	err error
}

func (m *mockDefs) Get(ctx context.Context, accountID, objType string) (*entities.Definition, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.def, nil
}

// mockEntityRepo keeps entities in memory and records every call
type mockEntityRepo struct {
	saved       map[string][]byte
	defs        map[string]*entities.Definition
	revisions   []int64
	moved       map[string]string
	unameNext   int64
	saveErr     error
	deleted     []string
	assocsTo    [][]string
	revisionErr error
}

func newMockEntityRepo() *mockEntityRepo {
	return &mockEntityRepo{
		saved: make(map[string][]byte),
		defs:  make(map[string]*entities.Definition),
		moved: make(map[string]string),
	}
}

func (m *mockEntityRepo) Save(ctx context.Context, ent *entities.Entity) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := ent.MarshalValues()
	if err != nil {
		return err
	}
	m.saved[ent.EntityID()] = data
	m.defs[ent.EntityID()] = ent.Definition()
	return nil
}

func (m *mockEntityRepo) Get(ctx context.Context, def *entities.Definition, entityID string) (*entities.Entity, error) {
	data, ok := m.saved[entityID]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", repositories.ErrNotFound, entityID)
	}
	ent := entities.NewEntity(def)
	if err := ent.UnmarshalValues(data); err != nil {
		return nil, err
	}
	ent.ResetDirty()
	return ent, nil
}

func (m *mockEntityRepo) Delete(ctx context.Context, ent *entities.Entity) error {
	if _, ok := m.saved[ent.EntityID()]; !ok {
		return fmt.Errorf("%w: entity %s", repositories.ErrNotFound, ent.EntityID())
	}
	delete(m.saved, ent.EntityID())
	m.deleted = append(m.deleted, ent.EntityID())
	return nil
}

func (m *mockEntityRepo) SaveRevision(ctx context.Context, ent *entities.Entity) error {
	if m.revisionErr != nil {
		return m.revisionErr
	}
	m.revisions = append(m.revisions, ent.Revision())
	return nil
}

func (m *mockEntityRepo) GetRevisions(ctx context.Context, def *entities.Definition, entityID string) ([]*entities.Entity, error) {
	return nil, nil
}

func (m *mockEntityRepo) SetMovedTo(ctx context.Context, accountID, objType, oldID, newID string) error {
	m.moved[oldID] = newID
	return nil
}

func (m *mockEntityRepo) GetMovedTo(ctx context.Context, accountID, objType, entityID string) (string, error) {
	return m.moved[entityID], nil
}

func (m *mockEntityRepo) NextUnameNumber(ctx context.Context, accountID, objType string) (int64, error) {
	m.unameNext++
	return m.unameNext, nil
}

func (m *mockEntityRepo) DeleteAssociationsTo(ctx context.Context, accountID, targetType string, targetIDs []string) error {
	m.assocsTo = append(m.assocsTo, targetIDs)
	return nil
}

// mockCommitRepo allocates sequential commit ids per (account, type)
type mockCommitRepo struct {
	mu     sync.Mutex
	heads  map[string]int64
	stale  []int64
	allErr error
}

func newMockCommitRepo() *mockCommitRepo {
	return &mockCommitRepo{heads: make(map[string]int64)}
}

func (m *mockCommitRepo) Allocate(ctx context.Context, accountID, objType string) (int64, error) {
	if m.allErr != nil {
		return 0, m.allErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountID + ":" + objType
	m.heads[key]++
	return m.heads[key], nil
}

func (m *mockCommitRepo) Head(ctx context.Context, accountID, objType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heads[accountID+":"+objType], nil
}

func (m *mockCommitRepo) MarkStale(ctx context.Context, accountID, objType string, commitID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale = append(m.stale, commitID)
	return nil
}

// mockGroupingRepo serves a fixed group set
type mockGroupingRepo struct {
	groups map[int64]*entities.Group
}

func (m *mockGroupingRepo) GetGroup(ctx context.Context, accountID string, groupID int64) (*entities.Group, error) {
	g, ok := m.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %d", repositories.ErrNotFound, groupID)
	}
	return g, nil
}

func (m *mockGroupingRepo) GetDescendants(ctx context.Context, accountID string, groupID int64) ([]int64, error) {
	return []int64{groupID}, nil
}

// mockRecurrenceRepo keeps patterns in memory
type mockRecurrenceRepo struct {
	patterns map[string]*entities.RecurrencePattern
	deleted  []string
}

func newMockRecurrenceRepo() *mockRecurrenceRepo {
	return &mockRecurrenceRepo{patterns: make(map[string]*entities.RecurrencePattern)}
}

func (m *mockRecurrenceRepo) Save(ctx context.Context, pattern *entities.RecurrencePattern) error {
	cp := *pattern
	m.patterns[pattern.ID] = &cp
	return nil
}

func (m *mockRecurrenceRepo) Get(ctx context.Context, accountID, patternID string) (*entities.RecurrencePattern, error) {
	p, ok := m.patterns[patternID]
	if !ok {
		return nil, fmt.Errorf("%w: pattern %s", repositories.ErrNotFound, patternID)
	}
	return p, nil
}

func (m *mockRecurrenceRepo) Delete(ctx context.Context, accountID, patternID string) error {
	delete(m.patterns, patternID)
	m.deleted = append(m.deleted, patternID)
	return nil
}

// mockIndex records index maintenance calls and serves canned query
// results
type mockIndex struct {
	results  []*entities.Entity
	queries  []*entities.Query
	indexed  []string
	removed  []string
	queryErr error
}

func (m *mockIndex) ExecuteQuery(ctx context.Context, accountID string, q *entities.Query) (*entities.Results, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	m.queries = append(m.queries, q)
	return &entities.Results{Query: q, Entities: m.results, TotalNum: int64(len(m.results))}, nil
}

func (m *mockIndex) IndexEntity(ctx context.Context, ent *entities.Entity) error {
	m.indexed = append(m.indexed, ent.EntityID())
	return nil
}

func (m *mockIndex) RemoveEntity(ctx context.Context, ent *entities.Entity) error {
	m.removed = append(m.removed, ent.EntityID())
	return nil
}

// mockDispatcher records enqueued jobs
type mockDispatcher struct {
	jobs []jobs.Job
}

func (m *mockDispatcher) Enqueue(ctx context.Context, job jobs.Job) error {
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockDispatcher) byName(name string) []jobs.Job {
	var out []jobs.Job
	for _, j := range m.jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

// mockBus records published events
type mockBus struct {
	topics   []string
	payloads []interface{}
}

func (m *mockBus) Publish(ctx context.Context, topic string, payload interface{}) error {
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, payload)
	return nil
}
