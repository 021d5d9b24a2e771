package entities

// Operator is a condition comparison operator
type Operator string

const (
	OpEqual          Operator = "is_equal"
	OpNotEqual       Operator = "is_not_equal"
	OpGreater        Operator = "is_greater"
	OpGreaterOrEqual Operator = "is_greater_or_equal"
	OpLess           Operator = "is_less"
	OpLessOrEqual    Operator = "is_less_or_equal"
	OpBeginsWith     Operator = "begins_with"
	OpContains       Operator = "contains"

	// Relative-date operators resolve the interval inside the backend
	// so results stay correct between compile and execution time
	OpLastXDays   Operator = "last_x_days"
	OpLastXWeeks  Operator = "last_x_weeks"
	OpLastXMonths Operator = "last_x_months"
	OpLastXYears  Operator = "last_x_years"
	OpNextXDays   Operator = "next_x_days"
)

// Combiner relates a condition to the one before it
type Combiner string

const (
	CombinerAnd Combiner = "and"
	CombinerOr  Combiner = "or"
)

// FieldNameFulltext is the catch-all field matching the global search
// index; conditions on it are always AND-ed in regardless of position
const FieldNameFulltext = "*"

// Condition is one filter term in a query. Conditions are evaluated
// left to right; consecutive OR-combined conditions form a single
// parenthesized clause AND-ed with the rest.
type Condition struct {
	Combiner  Combiner
	FieldName string
	Operator  Operator
	Value     interface{}
}

// SortDirection orders query results
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Sort orders results by one field
type Sort struct {
	FieldName string
	Direction SortDirection
}

// AggregationType selects an aggregate computation
type AggregationType string

const (
	AggMin   AggregationType = "min"
	AggMax   AggregationType = "max"
	AggAvg   AggregationType = "avg"
	AggSum   AggregationType = "sum"
	AggCount AggregationType = "count"
	AggTerms AggregationType = "terms"
)

// Aggregation requests one named aggregate over the filtered set
type Aggregation struct {
	Name      string
	Type      AggregationType
	FieldName string
}

// Query is a structured request against one entity type: an ordered
// condition list plus sorting, paging and aggregations.
type Query struct {
	ObjType      string
	Conditions   []*Condition
	Sorts        []*Sort
	Limit        int
	Offset       int
	Aggregations []*Aggregation
}

// NewQuery creates an empty query for the entity type
func NewQuery(objType string) *Query {
	return &Query{ObjType: objType}
}

// Where appends an AND condition
func (q *Query) Where(field string, op Operator, value interface{}) *Query {
	q.Conditions = append(q.Conditions, &Condition{
		Combiner: CombinerAnd, FieldName: field, Operator: op, Value: value,
	})
	return q
}

// OrWhere appends an OR condition
func (q *Query) OrWhere(field string, op Operator, value interface{}) *Query {
	q.Conditions = append(q.Conditions, &Condition{
		Combiner: CombinerOr, FieldName: field, Operator: op, Value: value,
	})
	return q
}

// OrderBy appends a sort
func (q *Query) OrderBy(field string, dir SortDirection) *Query {
	q.Sorts = append(q.Sorts, &Sort{FieldName: field, Direction: dir})
	return q
}

// Aggregate appends a named aggregation
func (q *Query) Aggregate(name string, typ AggregationType, field string) *Query {
	q.Aggregations = append(q.Aggregations, &Aggregation{Name: name, Type: typ, FieldName: field})
	return q
}
