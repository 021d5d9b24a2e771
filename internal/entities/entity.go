package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueChange records the previous and current value of one field
// between load (or the last dirty reset) and now.
type ValueChange struct {
	Old interface{}
	New interface{}
}

// Entity is a schema-typed, versioned record: a map of field name to
// value whose types are dictated by the definition, plus transient
// dirty tracking and a display-name cache for reference fields.
//
// Value types by field type:
//
//	text                      string
//	number                    float64
//	bool                      bool
//	date, timestamp           time.Time
//	object                    string (referenced entity id)
//	grouping                  int64 (group id)
//	object_multi              []string
//	grouping_multi            []int64
type Entity struct {
	def     *Definition
	values  map[string]interface{}
	names   map[string]map[string]string // field -> id -> display name
	changed map[string]ValueChange

	// recurrence is a pattern attached in memory but not yet persisted
	recurrence *RecurrencePattern
	// recurrenceException marks an occurrence detached from its series;
	// exceptions never persist the pattern themselves
	recurrenceException bool
}

// NewEntity creates an empty entity of the definition's type
func NewEntity(def *Definition) *Entity {
	return &Entity{
		def:     def,
		values:  make(map[string]interface{}),
		names:   make(map[string]map[string]string),
		changed: make(map[string]ValueChange),
	}
}

// Definition returns the schema this entity was created from
func (e *Entity) Definition() *Definition { return e.def }

// ObjType returns the entity type discriminator
func (e *Entity) ObjType() string { return e.def.ObjType }

// GetValue returns the raw value of a field, nil when unset
func (e *Entity) GetValue(name string) interface{} {
	return e.values[name]
}

// SetValue sets a field value and records the change for dirty
// tracking. Repeated sets keep the original pre-change value.
func (e *Entity) SetValue(name string, value interface{}) {
	if prev, ok := e.changed[name]; ok {
		e.changed[name] = ValueChange{Old: prev.Old, New: value}
	} else {
		e.changed[name] = ValueChange{Old: e.values[name], New: value}
	}
	if value == nil {
		delete(e.values, name)
		return
	}
	e.values[name] = value
}

// setValueQuiet sets a field value without touching dirty tracking.
// Used when hydrating from storage.
func (e *Entity) setValueQuiet(name string, value interface{}) {
	if value == nil {
		delete(e.values, name)
		return
	}
	e.values[name] = value
}

// AddMultiValue appends an id to a multi-valued object field if not present
func (e *Entity) AddMultiValue(name string, id string) {
	cur := e.ObjectMultiValue(name)
	for _, v := range cur {
		if v == id {
			return
		}
	}
	e.SetValue(name, append(append([]string(nil), cur...), id))
}

// RemoveMultiValue removes an id from a multi-valued object field
func (e *Entity) RemoveMultiValue(name string, id string) {
	cur := e.ObjectMultiValue(name)
	out := make([]string, 0, len(cur))
	for _, v := range cur {
		if v != id {
			out = append(out, v)
		}
	}
	e.SetValue(name, out)
}

// AddGroupValue appends a group id to a grouping_multi field
func (e *Entity) AddGroupValue(name string, id int64) {
	cur := e.GroupingMultiValue(name)
	for _, v := range cur {
		if v == id {
			return
		}
	}
	e.SetValue(name, append(append([]int64(nil), cur...), id))
}

// RemoveGroupValue removes a group id from a grouping_multi field
func (e *Entity) RemoveGroupValue(name string, id int64) {
	cur := e.GroupingMultiValue(name)
	out := make([]int64, 0, len(cur))
	for _, v := range cur {
		if v != id {
			out = append(out, v)
		}
	}
	e.SetValue(name, out)
}

// SetValueName caches the display name for one id of a reference field
func (e *Entity) SetValueName(field, id, displayName string) {
	m, ok := e.names[field]
	if !ok {
		m = make(map[string]string)
		e.names[field] = m
	}
	m[id] = displayName
}

// GetValueName returns the cached display name for one id of a
// reference field, empty when unresolved
func (e *Entity) GetValueName(field, id string) string {
	return e.names[field][id]
}

// GetValueNames returns the full id-to-name cache for a field
func (e *Entity) GetValueNames(field string) map[string]string {
	return e.names[field]
}

// ClearValueNames drops the display-name cache for a field so it can
// be rebuilt from current values
func (e *Entity) ClearValueNames(field string) {
	delete(e.names, field)
}

// ValueFields returns the names of all fields currently holding a value
func (e *Entity) ValueFields() []string {
	out := make([]string, 0, len(e.values))
	for k := range e.values {
		out = append(out, k)
	}
	return out
}

// IsDirty returns true if any field changed since load or the last reset
func (e *Entity) IsDirty() bool { return len(e.changed) > 0 }

// ChangedFields returns a copy of the dirty-tracking state
func (e *Entity) ChangedFields() map[string]ValueChange {
	out := make(map[string]ValueChange, len(e.changed))
	for k, v := range e.changed {
		out[k] = v
	}
	return out
}

// PreviousValue returns the pre-change value of a field and whether the
// field changed at all
func (e *Entity) PreviousValue(name string) (interface{}, bool) {
	c, ok := e.changed[name]
	if !ok {
		return nil, false
	}
	return c.Old, true
}

// ResetDirty clears dirty tracking; a freshly loaded or freshly saved
// entity reports no changes
func (e *Entity) ResetDirty() {
	e.changed = make(map[string]ValueChange)
}

// TextValue returns a field as string, empty when unset or mistyped
func (e *Entity) TextValue(name string) string {
	s, _ := e.values[name].(string)
	return s
}

// BoolValue returns a field as bool, false when unset
func (e *Entity) BoolValue(name string) bool {
	b, _ := e.values[name].(bool)
	return b
}

// NumberValue returns a field as float64, 0 when unset
func (e *Entity) NumberValue(name string) float64 {
	switch v := e.values[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Int64Value returns a field as int64, 0 when unset
func (e *Entity) Int64Value(name string) int64 {
	switch v := e.values[name].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// TimeValue returns a field as time.Time, zero when unset
func (e *Entity) TimeValue(name string) time.Time {
	t, _ := e.values[name].(time.Time)
	return t
}

// ObjectMultiValue returns the ids of a multi-valued object field
func (e *Entity) ObjectMultiValue(name string) []string {
	v, _ := e.values[name].([]string)
	return v
}

// GroupingMultiValue returns the ids of a multi-valued grouping field
func (e *Entity) GroupingMultiValue(name string) []int64 {
	v, _ := e.values[name].([]int64)
	return v
}

func (e *Entity) EntityID() string      { return e.TextValue(FieldEntityID) }
func (e *Entity) SetEntityID(id string) { e.SetValue(FieldEntityID, id) }
func (e *Entity) AccountID() string     { return e.def.AccountID }
func (e *Entity) UniqueName() string    { return e.TextValue(FieldUniqueName) }
func (e *Entity) Revision() int64       { return e.Int64Value(FieldRevision) }
func (e *Entity) CommitID() int64       { return e.Int64Value(FieldCommitID) }
func (e *Entity) Deleted() bool         { return e.BoolValue(FieldDeleted) }
func (e *Entity) RecurrenceID() string  { return e.TextValue(FieldRecurrenceID) }

// Recurrence returns the attached, not yet persisted pattern, nil if none
func (e *Entity) Recurrence() *RecurrencePattern { return e.recurrence }

// SetRecurrence attaches a recurrence pattern to this entity
func (e *Entity) SetRecurrence(p *RecurrencePattern) { e.recurrence = p }

// IsRecurrenceException reports whether this entity is an occurrence
// detached from its recurring series
func (e *Entity) IsRecurrenceException() bool { return e.recurrenceException }

// SetRecurrenceException marks this entity as a detached occurrence
func (e *Entity) SetRecurrenceException(v bool) { e.recurrenceException = v }

// wireDocument is the JSON shape stored in the field_data column
type wireDocument struct {
	Values map[string]interface{}       `json:"values"`
	Names  map[string]map[string]string `json:"names,omitempty"`
}

// MarshalValues serializes field values and the display-name cache for
// storage. Times are encoded as RFC 3339.
func (e *Entity) MarshalValues() ([]byte, error) {
	doc := wireDocument{Values: make(map[string]interface{}, len(e.values)), Names: e.names}
	for k, v := range e.values {
		if t, ok := v.(time.Time); ok {
			doc.Values[k] = t.Format(time.RFC3339Nano)
			continue
		}
		doc.Values[k] = v
	}
	data, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity values: %w", err)
	}
	return data, nil
}

// UnmarshalValues hydrates field values from the stored JSON document,
// coercing each value back to the in-memory type its field dictates.
// Does not touch dirty tracking.
func (e *Entity) UnmarshalValues(data []byte) error {
	var doc wireDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal entity values: %w", err)
	}
	for name, raw := range doc.Values {
		field := e.def.GetField(name)
		if field == nil {
			// Field removed from the schema after this row was written
			continue
		}
		v, err := coerceValue(field, raw)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		e.setValueQuiet(name, v)
	}
	if doc.Names != nil {
		e.names = doc.Names
	}
	return nil
}

// coerceValue converts a decoded JSON value to the in-memory type for
// the field
func coerceValue(field *Field, raw interface{}) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	switch field.Type {
	case FieldTypeText, FieldTypeObject:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case FieldTypeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		return b, nil
	case FieldTypeNumber:
		n, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		return n, nil
	case FieldTypeGrouping:
		n, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		return int64(n), nil
	case FieldTypeDate, FieldTypeTimestamp:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected RFC 3339 string, got %T", raw)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("invalid time %q: %w", s, err)
		}
		return t, nil
	case FieldTypeObjectMulti:
		items, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", raw)
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", it)
			}
			out = append(out, s)
		}
		return out, nil
	case FieldTypeGroupingMulti:
		items, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", raw)
		}
		out := make([]int64, 0, len(items))
		for _, it := range items {
			n, ok := it.(float64)
			if !ok {
				return nil, fmt.Errorf("expected number element, got %T", it)
			}
			out = append(out, int64(n))
		}
		return out, nil
	}
	return raw, nil
}
