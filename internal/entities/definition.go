package entities

// Reserved field names present on every entity type. The definition
// service injects them with negative ids so tenant schemas cannot
// shadow them.
const (
	FieldEntityID     = "entity_id"
	FieldUniqueName   = "uname"
	FieldRevision     = "revision"
	FieldCommitID     = "commit_id"
	FieldDeleted      = "f_deleted"
	FieldTsEntered    = "ts_entered"
	FieldTsUpdated    = "ts_updated"
	FieldRecurrenceID = "recurrence_pattern_id"
)

// Definition is the schema of one entity type within one tenant
type Definition struct {
	AccountID string
	ObjType   string
	Title     string
	Fields    []*Field

	// StoreRevisions keeps an immutable snapshot per save
	StoreRevisions bool

	// UnamePath lists the fields composing the unique name. The last
	// element is the human-readable source; any preceding elements are
	// namespace qualifiers prepended in order.
	UnamePath []string

	// ParentField names the object field forming the self-referential
	// hierarchy, or "" when the type has none
	ParentField string

	// SupportsRecurrence enables pattern linkage on this type
	SupportsRecurrence bool
}

// GetField returns the field named name, or nil
func (d *Definition) GetField(name string) *Field {
	for _, f := range d.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// GetFieldByID returns the field with the given id, or nil
func (d *Definition) GetFieldByID(id int64) *Field {
	for _, f := range d.Fields {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// HasField reports whether a field with the name exists
func (d *Definition) HasField(name string) bool {
	return d.GetField(name) != nil
}

// HasUniqueNames reports whether this type assigns unique names
func (d *Definition) HasUniqueNames() bool {
	return len(d.UnamePath) > 0
}

// UnameSourceField returns the field whose value seeds the unique
// name, or nil when the type has no uname path
func (d *Definition) UnameSourceField() *Field {
	if len(d.UnamePath) == 0 {
		return nil
	}
	return d.GetField(d.UnamePath[len(d.UnamePath)-1])
}

// UnameNamespaceFields returns the qualifier fields preceding the
// source in the uname path, in order
func (d *Definition) UnameNamespaceFields() []*Field {
	if len(d.UnamePath) < 2 {
		return nil
	}
	out := make([]*Field, 0, len(d.UnamePath)-1)
	for _, name := range d.UnamePath[:len(d.UnamePath)-1] {
		if f := d.GetField(name); f != nil {
			out = append(out, f)
		}
	}
	return out
}
