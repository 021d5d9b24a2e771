package entities

// Group is one row of a tenant-defined lookup list (e.g., categories).
// Groups may form a hierarchy through ParentID; hierarchy-aware
// conditions expand a group into itself plus all descendants.
type Group struct {
	ID        int64
	AccountID string
	Grouping  string // Grouping table name, matches Field.Subtype
	Name      string
	ParentID  int64 // 0 for root groups
	SortOrder int
}
