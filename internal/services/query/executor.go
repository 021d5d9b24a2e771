package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/infrastructure/metrics"
)

// defaultPageSize bounds queries that do not set an explicit limit
const defaultPageSize = 100

// DefinitionGetter resolves schema metadata for one entity type. A
// missing schema is a caller error, never retried.
type DefinitionGetter interface {
	Get(ctx context.Context, accountID, objType string) (*entities.Definition, error)
}

// Index executes compiled queries against the relational backend and
// maintains the full-text payload. It only reads and decodes entity
// state; it never mutates persisted fields.
type Index struct {
	db       *sql.DB
	compiler *Compiler
	defs     DefinitionGetter
	factory  *entities.Factory
	metrics  *metrics.Collector
	ftConfig string
}

// NewIndex creates a query index over the database
func NewIndex(db *sql.DB, defs DefinitionGetter, factory *entities.Factory, ftConfig string, collector *metrics.Collector) *Index {
	if ftConfig == "" {
		ftConfig = "simple"
	}
	return &Index{
		db:       db,
		compiler: NewCompiler(ftConfig),
		defs:     defs,
		factory:  factory,
		metrics:  collector,
		ftConfig: ftConfig,
	}
}

// Compiler exposes the index's compiler for uniqueness checks that
// need the same filter semantics
func (x *Index) Compiler() *Compiler { return x.compiler }

// ExecuteQuery compiles and runs the query: the row query with
// filter, sort and paging; a count-only query over the same filter;
// and one additional query per requested aggregation. The row and
// count round-trips are independent, so total count is only consistent
// with row data when no concurrent write interleaves.
func (x *Index) ExecuteQuery(ctx context.Context, accountID string, q *entities.Query) (*entities.Results, error) {
	def, err := x.defs.Get(ctx, accountID, q.ObjType)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition for %s: %w", q.ObjType, err)
	}

	compiled, err := x.compiler.CompileConditions(def, q.Conditions)
	if err != nil {
		return nil, err
	}
	orderBy, err := x.compiler.CompileSorts(def, q.Sorts)
	if err != nil {
		return nil, err
	}

	where := ""
	if compiled.Where != "" {
		where = " AND " + compiled.Where
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	rowQuery := fmt.Sprintf(
		"SELECT entity_id, field_data FROM entities WHERE account_id = $1 AND obj_type = $2%s ORDER BY %s LIMIT %d OFFSET %d",
		where, orderBy, limit, q.Offset)

	args := append([]interface{}{accountID, q.ObjType}, compiled.Args...)

	rows, err := x.db.QueryContext(ctx, rowQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query for %s: %w", q.ObjType, err)
	}
	defer rows.Close()

	results := &entities.Results{Query: q, Offset: q.Offset}
	for rows.Next() {
		var entityID string
		var fieldData []byte
		if err := rows.Scan(&entityID, &fieldData); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		ent := x.factory.Create(def)
		if err := ent.UnmarshalValues(fieldData); err != nil {
			return nil, fmt.Errorf("failed to decode entity %s: %w", entityID, err)
		}
		// A freshly loaded entity is never dirty
		ent.ResetDirty()
		results.Entities = append(results.Entities, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity rows: %w", err)
	}

	total, err := x.countQuery(ctx, accountID, q.ObjType, where, compiled.Args)
	if err != nil {
		return nil, err
	}
	results.TotalNum = total

	if len(q.Aggregations) > 0 {
		results.Aggregations = make(map[string]interface{}, len(q.Aggregations))
		for _, agg := range q.Aggregations {
			value, err := x.runAggregation(ctx, def, accountID, agg, where, compiled.Args)
			if err != nil {
				return nil, err
			}
			results.Aggregations[agg.Name] = value
		}
	}

	if x.metrics != nil {
		x.metrics.IncQueries(q.ObjType)
	}
	return results, nil
}

// countQuery runs the count-only query using the same filter, no
// limit or offset
func (x *Index) countQuery(ctx context.Context, accountID, objType, where string, condArgs []interface{}) (int64, error) {
	countSQL := fmt.Sprintf(
		"SELECT COUNT(*) FROM entities WHERE account_id = $1 AND obj_type = $2%s", where)
	args := append([]interface{}{accountID, objType}, condArgs...)
	var total int64
	if err := x.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count results for %s: %w", objType, err)
	}
	return total, nil
}

// runAggregation runs one aggregate over the filtered set
func (x *Index) runAggregation(ctx context.Context, def *entities.Definition, accountID string, agg *entities.Aggregation, where string, condArgs []interface{}) (interface{}, error) {
	field := def.GetField(agg.FieldName)
	if field == nil {
		return nil, fmt.Errorf("%w: %q in aggregation %q", ErrUnknownField, agg.FieldName, agg.Name)
	}
	expr := columnExpr(field)
	args := append([]interface{}{accountID, def.ObjType}, condArgs...)

	switch agg.Type {
	case entities.AggMin, entities.AggMax, entities.AggAvg, entities.AggSum:
		fn := map[entities.AggregationType]string{
			entities.AggMin: "MIN", entities.AggMax: "MAX",
			entities.AggAvg: "AVG", entities.AggSum: "SUM",
		}[agg.Type]
		aggSQL := fmt.Sprintf(
			"SELECT COALESCE(%s(%s), 0) FROM entities WHERE account_id = $1 AND obj_type = $2%s",
			fn, expr, where)
		var value float64
		if err := x.db.QueryRowContext(ctx, aggSQL, args...).Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to run aggregation %q: %w", agg.Name, err)
		}
		return value, nil

	case entities.AggCount:
		aggSQL := fmt.Sprintf(
			"SELECT COUNT(%s) FROM entities WHERE account_id = $1 AND obj_type = $2%s",
			expr, where)
		var value int64
		if err := x.db.QueryRowContext(ctx, aggSQL, args...).Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to run aggregation %q: %w", agg.Name, err)
		}
		return value, nil

	case entities.AggTerms:
		aggSQL := fmt.Sprintf(
			"SELECT COALESCE((%s)::text, ''), COUNT(*) FROM entities WHERE account_id = $1 AND obj_type = $2%s GROUP BY 1 ORDER BY 2 DESC, 1 ASC LIMIT %d",
			expr, where, defaultPageSize)
		rows, err := x.db.QueryContext(ctx, aggSQL, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to run aggregation %q: %w", agg.Name, err)
		}
		defer rows.Close()
		var buckets []entities.TermBucket
		for rows.Next() {
			var b entities.TermBucket
			if err := rows.Scan(&b.Value, &b.Count); err != nil {
				return nil, fmt.Errorf("failed to scan term bucket: %w", err)
			}
			buckets = append(buckets, b)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating term buckets: %w", err)
		}
		return buckets, nil
	}

	return nil, fmt.Errorf("unknown aggregation type: %s", agg.Type)
}
