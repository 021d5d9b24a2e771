package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

func customerDefinition() *entities.Definition {
	return &entities.Definition{
		AccountID:          "acct-1",
		ObjType:            "customer",
		Title:              "Customer",
		StoreRevisions:     true,
		UnamePath:          []string{"name"},
		SupportsRecurrence: true,
		Fields: []*entities.Field{
			{ID: 1, Name: "name", Type: entities.FieldTypeText, Required: true},
			{ID: 2, Name: "website", Type: entities.FieldTypeText},
			{ID: 3, Name: "owner", Type: entities.FieldTypeObject, Subtype: "person"},
			{ID: -1, Name: entities.FieldEntityID, Type: entities.FieldTypeText, System: true, ExactMatch: true},
			{ID: -2, Name: entities.FieldUniqueName, Type: entities.FieldTypeText, System: true, ExactMatch: true},
			{ID: -3, Name: entities.FieldRevision, Type: entities.FieldTypeNumber, System: true},
			{ID: -4, Name: entities.FieldCommitID, Type: entities.FieldTypeNumber, System: true},
			{ID: -5, Name: entities.FieldDeleted, Type: entities.FieldTypeBool, System: true},
			{ID: -6, Name: entities.FieldTsEntered, Type: entities.FieldTypeTimestamp, System: true},
			{ID: -7, Name: entities.FieldTsUpdated, Type: entities.FieldTypeTimestamp, System: true},
			{ID: -8, Name: entities.FieldRecurrenceID, Type: entities.FieldTypeText, System: true, ExactMatch: true},
		},
	}
}

type fixture struct {
	svc     *Service
	repo    *mockEntityRepo
	commits *mockCommitRepo
	recur   *mockRecurrenceRepo
	index   *mockIndex
	jobs    *mockDispatcher
	bus     *mockBus
	now     time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:    newMockEntityRepo(),
		commits: newMockCommitRepo(),
		recur:   newMockRecurrenceRepo(),
		index:   &mockIndex{},
		jobs:    &mockDispatcher{},
		bus:     &mockBus{},
		now:     time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Deps{
		Definitions: &mockDefs{def: customerDefinition()},
		Repo:        f.repo,
		Commits:     f.commits,
		Groupings:   &mockGroupingRepo{groups: map[int64]*entities.Group{}},
		Recurrence:  f.recur,
		Index:       f.index,
		Jobs:        f.jobs,
		Bus:         f.bus,
		Logger:      zerolog.Nop(),
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func actingUser() UserContext {
	return UserContext{AccountID: "acct-1", UserID: "u-1"}
}

func newCustomer(t *testing.T, f *fixture, name string) *entities.Entity {
	t.Helper()
	ent, err := f.svc.Create(context.Background(), "acct-1", "customer")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ent.SetValue("name", name)
	return ent
}

func TestSave_FirstSave(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Acme Ltd")

	id, err := f.svc.Save(context.Background(), ent, actingUser())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if id == "" || ent.EntityID() != id {
		t.Errorf("Save() id = %q, entity id = %q", id, ent.EntityID())
	}
	if ent.Revision() != 1 {
		t.Errorf("first save revision = %d, want 1", ent.Revision())
	}
	if ent.CommitID() != 1 {
		t.Errorf("first save commit = %d, want 1", ent.CommitID())
	}
	if !ent.TimeValue(entities.FieldTsEntered).Equal(f.now) {
		t.Errorf("ts_entered = %v, want %v", ent.TimeValue(entities.FieldTsEntered), f.now)
	}
	if ent.UniqueName() != "acme-ltd" {
		t.Errorf("uname = %q, want acme-ltd", ent.UniqueName())
	}
	if ent.IsDirty() {
		t.Error("a saved entity must not be dirty")
	}

	if len(f.repo.revisions) != 1 || f.repo.revisions[0] != 1 {
		t.Errorf("revision snapshots = %v, want [1]", f.repo.revisions)
	}
	if len(f.index.indexed) != 1 {
		t.Errorf("indexed = %v, want one entry", f.index.indexed)
	}

	// First save has no previous commit, so nothing goes stale
	if stale := f.jobs.byName(JobMarkCommitStale); len(stale) != 0 {
		t.Errorf("mark-stale jobs on first save = %v", stale)
	}

	changed := f.jobs.byName(JobEntityChanged)
	if len(changed) != 1 {
		t.Fatalf("expected one change job, got %d", len(changed))
	}
	if changed[0].Payload["kind"] != EventCreate {
		t.Errorf("change job kind = %v, want create", changed[0].Payload["kind"])
	}

	if len(f.bus.topics) != 1 || f.bus.topics[0] != ChangeTopic("acct-1", "customer") {
		t.Errorf("bus topics = %v", f.bus.topics)
	}
	change := f.bus.payloads[0].(EntityChange)
	if change.Kind != EventCreate || change.EntityID != id {
		t.Errorf("broadcast = %+v", change)
	}
}

func TestSave_SubsequentSave(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Acme Ltd")
	id, err := f.svc.Save(context.Background(), ent, actingUser())
	if err != nil {
		t.Fatalf("first Save() error = %v", err)
	}

	ent.SetValue("website", "https://acme.example")
	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	if ent.EntityID() != id {
		t.Error("entity id must be stable across saves")
	}
	if ent.Revision() != 2 {
		t.Errorf("revision = %d, want 2", ent.Revision())
	}
	if ent.CommitID() != 2 {
		t.Errorf("commit id = %d, want 2", ent.CommitID())
	}

	stale := f.jobs.byName(JobMarkCommitStale)
	if len(stale) != 1 {
		t.Fatalf("expected one mark-stale job, got %d", len(stale))
	}
	if stale[0].Payload["commit_id"] != int64(1) {
		t.Errorf("stale commit = %v, want 1", stale[0].Payload["commit_id"])
	}

	changed := f.jobs.byName(JobEntityChanged)
	if len(changed) != 2 || changed[1].Payload["kind"] != EventUpdate {
		t.Errorf("change jobs = %v", changed)
	}
}

func TestSave_CommitOrderIsMonotonic(t *testing.T) {
	f := newFixture()
	var last int64
	for i := 0; i < 5; i++ {
		ent := newCustomer(t, f, "Acme Ltd")
		ent.SetValue(entities.FieldUniqueName, "preset")
		if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if ent.CommitID() <= last {
			t.Errorf("commit %d not greater than previous %d", ent.CommitID(), last)
		}
		last = ent.CommitID()
	}
}

func TestSave_ServerAuthoritativeTimestamps(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Acme Ltd")
	ent.SetValue(entities.FieldTsEntered, time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))
	ent.SetValue(entities.FieldTsUpdated, time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC))

	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !ent.TimeValue(entities.FieldTsEntered).Equal(f.now) {
		t.Error("client-set ts_entered must be overwritten")
	}
	if !ent.TimeValue(entities.FieldTsUpdated).Equal(f.now) {
		t.Error("client-set ts_updated must be overwritten")
	}

	// On update, ts_entered stays and ts_updated moves
	entered := ent.TimeValue(entities.FieldTsEntered)
	f.now = f.now.Add(time.Hour)
	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if !ent.TimeValue(entities.FieldTsEntered).Equal(entered) {
		t.Error("ts_entered must not change on update")
	}
	if !ent.TimeValue(entities.FieldTsUpdated).Equal(f.now) {
		t.Error("ts_updated must advance on update")
	}
}

func TestSave_UnameCollisionAppendsSuffix(t *testing.T) {
	f := newFixture()

	other := entities.NewEntity(customerDefinition())
	other.SetEntityID("other-1")
	other.SetValue(entities.FieldUniqueName, "acme-ltd")
	f.index.results = []*entities.Entity{other}

	ent := newCustomer(t, f, "Acme Ltd")
	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ent.UniqueName() != "acme-ltd-1" {
		t.Errorf("uname = %q, want acme-ltd-1", ent.UniqueName())
	}
}

func TestSave_UnameFallbackSequence(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "???") // normalizes to empty

	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ent.UniqueName() != "customer-1" {
		t.Errorf("uname = %q, want customer-1", ent.UniqueName())
	}
}

func TestSave_PresetUnameKept(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Acme Ltd")
	ent.SetValue(entities.FieldUniqueName, "custom-handle")

	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ent.UniqueName() != "custom-handle" {
		t.Errorf("uname = %q, want custom-handle", ent.UniqueName())
	}
}

func TestSave_ValidationAbortsBeforeAnyEffect(t *testing.T) {
	f := newFixture()
	ent, _ := f.svc.Create(context.Background(), "acct-1", "customer")
	// required "name" missing
	ent.SetValue("website", "https://acme.example")

	_, err := f.svc.Save(context.Background(), ent, actingUser())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(f.repo.saved) != 0 {
		t.Error("validation failure must not persist")
	}
	if head, _ := f.commits.Head(context.Background(), "acct-1", "customer"); head != 0 {
		t.Error("validation failure must not allocate a commit")
	}
	if len(f.bus.topics) != 0 || len(f.jobs.jobs) != 0 {
		t.Error("validation failure must not broadcast or enqueue")
	}
}

func TestSave_TenantMismatchRejected(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Acme Ltd")

	if _, err := f.svc.Save(context.Background(), ent, UserContext{AccountID: "acct-2", UserID: "u-1"}); err == nil {
		t.Error("cross-tenant save must be rejected")
	}
	if _, err := f.svc.Save(context.Background(), ent, UserContext{AccountID: "acct-1"}); err == nil {
		t.Error("save without an identity must be rejected")
	}
}

func TestSave_AnonymousSkipsUserFanout(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Acme Ltd")

	user := UserContext{AccountID: "acct-1", UserID: UserIDAnonymous}
	if _, err := f.svc.Save(context.Background(), ent, user); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if changed := f.jobs.byName(JobEntityChanged); len(changed) != 0 {
		t.Errorf("anonymous saves must not enqueue user fan-out, got %v", changed)
	}
	// The broadcast still happens
	if len(f.bus.topics) != 1 {
		t.Errorf("broadcasts = %v", f.bus.topics)
	}
}

func TestSave_PersistFailureLeavesNoTrace(t *testing.T) {
	f := newFixture()
	f.repo.saveErr = errors.New("connection reset")
	ent := newCustomer(t, f, "Acme Ltd")

	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err == nil {
		t.Fatal("expected save error")
	}
	if len(f.repo.revisions) != 0 {
		t.Error("failed persist must not snapshot a revision")
	}
	if len(f.index.indexed) != 0 {
		t.Error("failed persist must not index")
	}
	if len(f.bus.topics) != 0 {
		t.Error("failed persist must not broadcast")
	}
	if len(f.jobs.jobs) != 0 {
		t.Error("failed persist must not enqueue jobs")
	}
}

func TestSave_RevisionSnapshotFailureIsNonFatal(t *testing.T) {
	f := newFixture()
	f.repo.revisionErr = errors.New("disk full")
	ent := newCustomer(t, f, "Acme Ltd")

	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(f.repo.saved) != 1 {
		t.Error("save must succeed despite snapshot failure")
	}
}

func TestSave_RecurrencePattern(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Weekly Sync")
	ent.SetRecurrence(&entities.RecurrencePattern{
		Type:          entities.RecurWeekly,
		Interval:      1,
		DayOfWeekMask: 1 << 1,
		DateStart:     f.now,
	})

	id, err := f.svc.Save(context.Background(), ent, actingUser())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rid := ent.RecurrenceID()
	if rid == "" {
		t.Fatal("pattern id must be reserved on the entity")
	}
	saved, ok := f.recur.patterns[rid]
	if !ok {
		t.Fatal("pattern must be persisted")
	}
	if saved.EntityID != id {
		t.Errorf("pattern master = %q, want %q", saved.EntityID, id)
	}
	if saved.AccountID != "acct-1" || saved.ObjType != "customer" {
		t.Errorf("pattern tenant binding = %s/%s", saved.AccountID, saved.ObjType)
	}

	// The id is stable across subsequent saves
	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if ent.RecurrenceID() != rid {
		t.Error("pattern id must not be re-reserved")
	}
}

func TestSave_RecurrenceExceptionDoesNotPersistPattern(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Detached Occurrence")
	ent.SetRecurrence(&entities.RecurrencePattern{
		Type: entities.RecurDaily, Interval: 1, DateStart: f.now,
	})
	ent.SetRecurrenceException(true)

	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(f.recur.patterns) != 0 {
		t.Error("an exception must not persist the pattern")
	}
	if ent.RecurrenceID() == "" {
		t.Error("the forward reference is still reserved")
	}
}

func TestDelete_Master(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Weekly Sync")
	ent.SetRecurrence(&entities.RecurrencePattern{
		Type: entities.RecurDaily, Interval: 1, DateStart: f.now,
	})
	id, err := f.svc.Save(context.Background(), ent, actingUser())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rid := ent.RecurrenceID()
	prevCommit := ent.CommitID()
	f.jobs.jobs = nil
	f.bus.topics = nil
	f.bus.payloads = nil

	if err := f.svc.Delete(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(f.repo.deleted) != 1 || f.repo.deleted[0] != id {
		t.Errorf("deleted = %v", f.repo.deleted)
	}
	// The master owns the pattern, so it cascades
	if len(f.recur.deleted) != 1 || f.recur.deleted[0] != rid {
		t.Errorf("cascaded patterns = %v, want [%s]", f.recur.deleted, rid)
	}
	if len(f.index.removed) != 1 {
		t.Errorf("index removals = %v", f.index.removed)
	}
	if len(f.repo.assocsTo) != 1 || f.repo.assocsTo[0][0] != id {
		t.Errorf("inbound association cleanup = %v", f.repo.assocsTo)
	}

	stale := f.jobs.byName(JobMarkCommitStale)
	if len(stale) != 1 || stale[0].Payload["commit_id"] != prevCommit {
		t.Errorf("stale jobs = %v, want prev commit %d", stale, prevCommit)
	}

	if len(f.bus.payloads) != 1 {
		t.Fatalf("broadcasts = %d", len(f.bus.payloads))
	}
	change := f.bus.payloads[0].(EntityChange)
	if change.Kind != EventDelete {
		t.Errorf("broadcast kind = %q", change.Kind)
	}
	if len(change.After) != 0 {
		t.Errorf("delete broadcast After = %v, want empty", change.After)
	}
}

func TestDelete_ExceptionKeepsPattern(t *testing.T) {
	f := newFixture()

	// Pattern owned by some other master entity
	f.recur.patterns["pat-1"] = &entities.RecurrencePattern{
		ID: "pat-1", AccountID: "acct-1", ObjType: "customer", EntityID: "master-1",
		Type: entities.RecurDaily, Interval: 1, DateStart: f.now,
	}

	ent := newCustomer(t, f, "Occurrence")
	ent.SetValue(entities.FieldRecurrenceID, "pat-1")
	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := f.svc.Delete(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(f.recur.deleted) != 0 {
		t.Errorf("a non-owning entity must not cascade the pattern, deleted %v", f.recur.deleted)
	}
}

func TestArchive(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Acme Ltd")
	if _, err := f.svc.Save(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := f.svc.Archive(context.Background(), ent, actingUser()); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if !ent.Deleted() {
		t.Error("archive must set the deleted flag")
	}
	if ent.Revision() != 2 {
		t.Errorf("archive revision = %d, want 2", ent.Revision())
	}
	// The row survives; archive is not a hard delete
	if len(f.repo.deleted) != 0 {
		t.Error("archive must not remove the row")
	}
}

func TestGetByID_FollowsMovedRedirect(t *testing.T) {
	f := newFixture()
	ent := newCustomer(t, f, "Acme Ltd")
	id, err := f.svc.Save(context.Background(), ent, actingUser())
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := f.svc.MarkMoved(context.Background(), "acct-1", "customer", "old-id", id); err != nil {
		t.Fatalf("MarkMoved() error = %v", err)
	}

	got, err := f.svc.GetByID(context.Background(), "acct-1", "customer", "old-id")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.EntityID() != id {
		t.Errorf("GetByID() = %q, want %q", got.EntityID(), id)
	}
}

func TestVerifyUniqueName(t *testing.T) {
	f := newFixture()

	// Without uniqueness settings every candidate passes
	plain := &entities.Definition{AccountID: "acct-1", ObjType: "log"}
	ok, err := f.svc.VerifyUniqueName(context.Background(), entities.NewEntity(plain), "anything")
	if err != nil || !ok {
		t.Errorf("VerifyUniqueName() = (%v, %v), want (true, nil)", ok, err)
	}

	// Self never collides
	self := entities.NewEntity(customerDefinition())
	self.SetEntityID("e-1")
	self.SetValue(entities.FieldUniqueName, "acme")
	f.index.results = []*entities.Entity{self}
	ok, err = f.svc.VerifyUniqueName(context.Background(), self, "acme")
	if err != nil || !ok {
		t.Errorf("self match should not collide, got (%v, %v)", ok, err)
	}

	// Another entity with the candidate name collides
	other := entities.NewEntity(customerDefinition())
	other.SetEntityID("e-2")
	other.SetValue(entities.FieldUniqueName, "acme")
	f.index.results = []*entities.Entity{other}
	ok, err = f.svc.VerifyUniqueName(context.Background(), self, "acme")
	if err != nil || ok {
		t.Errorf("collision not detected, got (%v, %v)", ok, err)
	}
}

func TestHooks(t *testing.T) {
	f := newFixture()
	blocked := errors.New("not allowed")
	f.svc.AddHook(&testHook{beforeSaveErr: blocked})

	ent := newCustomer(t, f, "Acme Ltd")
	if _, err := f.svc.Save(context.Background(), ent, actingUser()); !errors.Is(err, blocked) {
		t.Errorf("before-save hook error should abort, got %v", err)
	}
	if len(f.repo.saved) != 0 {
		t.Error("aborted save must not persist")
	}
}

type testHook struct {
	beforeSaveErr error
}

func (h *testHook) BeforeSave(ctx context.Context, ent *entities.Entity) error {
	return h.beforeSaveErr
}
func (h *testHook) AfterSave(ctx context.Context, ent *entities.Entity) error    { return nil }
func (h *testHook) BeforeDelete(ctx context.Context, ent *entities.Entity) error { return nil }
func (h *testHook) AfterDelete(ctx context.Context, ent *entities.Entity) error  { return nil }
