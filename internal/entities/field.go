package entities

// FieldType classifies a field's value semantics. The type drives
// validation, storage casting and which query operators apply.
type FieldType string

const (
	FieldTypeText          FieldType = "text"
	FieldTypeNumber        FieldType = "number"
	FieldTypeBool          FieldType = "bool"
	FieldTypeDate          FieldType = "date"
	FieldTypeTimestamp     FieldType = "timestamp"
	FieldTypeObject        FieldType = "object"
	FieldTypeObjectMulti   FieldType = "object_multi"
	FieldTypeGrouping      FieldType = "grouping"
	FieldTypeGroupingMulti FieldType = "grouping_multi"
)

// Field describes one attribute of an entity definition. System fields
// carry negative ids and are injected by the definition service, never
// stored with the tenant schema.
type Field struct {
	ID       int64
	Name     string
	Title    string
	Type     FieldType
	Subtype  string
	Required bool
	ReadOnly bool
	System   bool

	// ExactMatch forces text equality comparisons instead of
	// token-based full-text matching
	ExactMatch bool
}

// IsMultiValue reports whether the field holds a list of references
func (f *Field) IsMultiValue() bool {
	return f.Type == FieldTypeObjectMulti || f.Type == FieldTypeGroupingMulti
}

// IsObjectReference reports whether the field points at other entities
func (f *Field) IsObjectReference() bool {
	return f.Type == FieldTypeObject || f.Type == FieldTypeObjectMulti
}

// IsGroupingReference reports whether the field points at lookup groups
func (f *Field) IsGroupingReference() bool {
	return f.Type == FieldTypeGrouping || f.Type == FieldTypeGroupingMulti
}

// IsReference reports whether the field references anything resolvable
// to a display name
func (f *Field) IsReference() bool {
	return f.IsObjectReference() || f.IsGroupingReference()
}
