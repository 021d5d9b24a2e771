package entities

// TermBucket is one bucket of a terms aggregation
type TermBucket struct {
	Value string
	Count int64
}

// Results is an ordered, paged collection of entities plus the total
// row count for the filter and any requested aggregates. Created fresh
// per query execution and never mutated afterwards.
type Results struct {
	Query    *Query
	Entities []*Entity
	Offset   int

	// TotalNum is the unpaged row count for the same filter
	TotalNum int64

	// Aggregations holds requested aggregates keyed by name: float64
	// for min/max/avg/sum, int64 for count, []TermBucket for terms
	Aggregations map[string]interface{}
}
