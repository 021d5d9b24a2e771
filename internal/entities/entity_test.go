package entities

import (
	"reflect"
	"testing"
	"time"
)

func taskDefinition() *Definition {
	return &Definition{
		AccountID: "acct-1",
		ObjType:   "task",
		UnamePath: []string{"project", "name"},
		Fields: []*Field{
			{ID: 1, Name: "name", Type: FieldTypeText},
			{ID: 2, Name: "done", Type: FieldTypeBool},
			{ID: 3, Name: "estimate", Type: FieldTypeNumber},
			{ID: 4, Name: "due", Type: FieldTypeTimestamp},
			{ID: 5, Name: "project", Type: FieldTypeObject, Subtype: "project"},
			{ID: 6, Name: "watchers", Type: FieldTypeObjectMulti, Subtype: "person"},
			{ID: 7, Name: "labels", Type: FieldTypeGroupingMulti, Subtype: "labels"},
			{ID: 8, Name: "priority", Type: FieldTypeGrouping, Subtype: "priorities"},
			{ID: -1, Name: FieldEntityID, Type: FieldTypeText, System: true, ExactMatch: true},
			{ID: -3, Name: FieldRevision, Type: FieldTypeNumber, System: true},
		},
	}
}

func TestEntity_DirtyTracking(t *testing.T) {
	ent := NewEntity(taskDefinition())
	if ent.IsDirty() {
		t.Error("new entity must not be dirty")
	}

	ent.SetValue("name", "first")
	if !ent.IsDirty() {
		t.Error("entity should be dirty after a set")
	}
	old, changed := ent.PreviousValue("name")
	if !changed || old != nil {
		t.Errorf("PreviousValue() = (%v, %v), want (nil, true)", old, changed)
	}

	// Repeated sets keep the original pre-change value
	ent.ResetDirty()
	ent.SetValue("name", "second")
	ent.SetValue("name", "third")
	old, changed = ent.PreviousValue("name")
	if !changed || old != "first" {
		t.Errorf("PreviousValue() = (%v, %v), want (first, true)", old, changed)
	}

	changes := ent.ChangedFields()
	if len(changes) != 1 {
		t.Fatalf("expected 1 changed field, got %d", len(changes))
	}
	if changes["name"].Old != "first" || changes["name"].New != "third" {
		t.Errorf("change = %+v, want first -> third", changes["name"])
	}

	// ChangedFields returns a copy
	changes["name"] = ValueChange{Old: "x", New: "y"}
	if got, _ := ent.PreviousValue("name"); got != "first" {
		t.Error("mutating the returned map must not affect the entity")
	}

	ent.ResetDirty()
	if ent.IsDirty() {
		t.Error("ResetDirty should clear all changes")
	}
	if ent.GetValue("name") != "third" {
		t.Error("ResetDirty must not touch values")
	}
}

func TestEntity_SetValueNil(t *testing.T) {
	ent := NewEntity(taskDefinition())
	ent.SetValue("name", "x")
	ent.SetValue("name", nil)
	if ent.GetValue("name") != nil {
		t.Error("setting nil should clear the value")
	}
	if !ent.IsDirty() {
		t.Error("clearing a value is still a change")
	}
}

func TestEntity_MultiValues(t *testing.T) {
	ent := NewEntity(taskDefinition())

	ent.AddMultiValue("watchers", "p-1")
	ent.AddMultiValue("watchers", "p-2")
	ent.AddMultiValue("watchers", "p-1") // duplicate ignored
	if got := ent.ObjectMultiValue("watchers"); !reflect.DeepEqual(got, []string{"p-1", "p-2"}) {
		t.Errorf("watchers = %v", got)
	}

	ent.RemoveMultiValue("watchers", "p-1")
	if got := ent.ObjectMultiValue("watchers"); !reflect.DeepEqual(got, []string{"p-2"}) {
		t.Errorf("watchers after remove = %v", got)
	}

	ent.AddGroupValue("labels", 10)
	ent.AddGroupValue("labels", 20)
	ent.AddGroupValue("labels", 10)
	if got := ent.GroupingMultiValue("labels"); !reflect.DeepEqual(got, []int64{10, 20}) {
		t.Errorf("labels = %v", got)
	}
	ent.RemoveGroupValue("labels", 10)
	if got := ent.GroupingMultiValue("labels"); !reflect.DeepEqual(got, []int64{20}) {
		t.Errorf("labels after remove = %v", got)
	}
}

func TestEntity_ValueNames(t *testing.T) {
	ent := NewEntity(taskDefinition())
	ent.SetValueName("project", "proj-1", "Apollo")
	if got := ent.GetValueName("project", "proj-1"); got != "Apollo" {
		t.Errorf("GetValueName() = %q", got)
	}
	if got := ent.GetValueName("project", "proj-2"); got != "" {
		t.Errorf("unresolved id should return empty, got %q", got)
	}
	ent.ClearValueNames("project")
	if got := ent.GetValueName("project", "proj-1"); got != "" {
		t.Errorf("cleared cache should return empty, got %q", got)
	}
}

func TestEntity_MarshalRoundTrip(t *testing.T) {
	def := taskDefinition()
	ent := NewEntity(def)

	due := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	ent.SetEntityID("t-1")
	ent.SetValue("name", "write report")
	ent.SetValue("done", true)
	ent.SetValue("estimate", 2.5)
	ent.SetValue("due", due)
	ent.SetValue("project", "proj-1")
	ent.SetValue("watchers", []string{"p-1", "p-2"})
	ent.SetValue("labels", []int64{7, 8})
	ent.SetValue("priority", int64(3))
	ent.SetValueName("project", "proj-1", "Apollo")

	data, err := ent.MarshalValues()
	if err != nil {
		t.Fatalf("MarshalValues() error = %v", err)
	}

	loaded := NewEntity(def)
	if err := loaded.UnmarshalValues(data); err != nil {
		t.Fatalf("UnmarshalValues() error = %v", err)
	}

	if loaded.EntityID() != "t-1" {
		t.Errorf("EntityID() = %q", loaded.EntityID())
	}
	if loaded.TextValue("name") != "write report" {
		t.Errorf("name = %q", loaded.TextValue("name"))
	}
	if !loaded.BoolValue("done") {
		t.Error("done should be true")
	}
	if loaded.NumberValue("estimate") != 2.5 {
		t.Errorf("estimate = %v", loaded.NumberValue("estimate"))
	}
	if !loaded.TimeValue("due").Equal(due) {
		t.Errorf("due = %v, want %v", loaded.TimeValue("due"), due)
	}
	if got := loaded.ObjectMultiValue("watchers"); !reflect.DeepEqual(got, []string{"p-1", "p-2"}) {
		t.Errorf("watchers = %v", got)
	}
	if got := loaded.GroupingMultiValue("labels"); !reflect.DeepEqual(got, []int64{7, 8}) {
		t.Errorf("labels = %v", got)
	}
	if loaded.Int64Value("priority") != 3 {
		t.Errorf("priority = %v", loaded.Int64Value("priority"))
	}
	if got := loaded.GetValueName("project", "proj-1"); got != "Apollo" {
		t.Errorf("display name = %q", got)
	}

	// Hydration never marks the entity dirty
	if loaded.IsDirty() {
		t.Error("hydrated entity must not be dirty")
	}
}

func TestEntity_UnmarshalSkipsRemovedFields(t *testing.T) {
	def := taskDefinition()
	ent := NewEntity(def)
	data := []byte(`{"values":{"name":"kept","ghost":"dropped"}}`)
	if err := ent.UnmarshalValues(data); err != nil {
		t.Fatalf("UnmarshalValues() error = %v", err)
	}
	if ent.TextValue("name") != "kept" {
		t.Errorf("name = %q", ent.TextValue("name"))
	}
	if ent.GetValue("ghost") != nil {
		t.Error("values for removed fields must be dropped")
	}
}

func TestDefinition_UnameHelpers(t *testing.T) {
	def := taskDefinition()
	if !def.HasUniqueNames() {
		t.Error("definition with a uname path should report unique names")
	}
	src := def.UnameSourceField()
	if src == nil || src.Name != "name" {
		t.Errorf("UnameSourceField() = %v, want name", src)
	}
	ns := def.UnameNamespaceFields()
	if len(ns) != 1 || ns[0].Name != "project" {
		t.Errorf("UnameNamespaceFields() = %v, want [project]", ns)
	}

	flat := &Definition{ObjType: "note", UnamePath: []string{"title"},
		Fields: []*Field{{ID: 1, Name: "title", Type: FieldTypeText}}}
	if got := flat.UnameNamespaceFields(); got != nil {
		t.Errorf("single-segment path has no namespace, got %v", got)
	}

	none := &Definition{ObjType: "log"}
	if none.HasUniqueNames() {
		t.Error("definition without a uname path must not report unique names")
	}
	if none.UnameSourceField() != nil {
		t.Error("no source field without a uname path")
	}
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	def := taskDefinition()

	ent := f.Create(def)
	if ent == nil || ent.ObjType() != "task" {
		t.Fatal("default creator should build a plain entity")
	}

	marker := false
	f.Register("task", func(d *Definition) *Entity {
		marker = true
		return NewEntity(d)
	})
	f.Create(def)
	if !marker {
		t.Error("registered creator was not used")
	}
}
