package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// Caller/configuration errors. These are fatal and never retried.
var (
	ErrUnknownField    = errors.New("unknown field in condition")
	ErrMissingOperator = errors.New("condition has no operator")
)

// CompiledQuery is a backend-executable filter expression plus its
// bound parameters. Values are always bound to placeholders, never
// interpolated.
type CompiledQuery struct {
	Where string
	Args  []interface{}
}

// Compiler translates an ordered condition list plus sort specs into
// parameterized PostgreSQL fragments for one entity type. The outer
// query always binds account_id to $1 and obj_type to $2, so compiled
// fragments may reference those placeholders and fresh parameters
// start at $3.
type Compiler struct {
	ftConfig string // text search configuration, e.g. "simple"
}

// NewCompiler creates a compiler using the given text search config
func NewCompiler(ftConfig string) *Compiler {
	if ftConfig == "" {
		ftConfig = "simple"
	}
	return &Compiler{ftConfig: ftConfig}
}

// compileStartIdx is the first placeholder number available to
// condition parameters; $1 and $2 are reserved by the executor
const compileStartIdx = 3

const (
	accountParam = "$1"
	objTypeParam = "$2"
)

// builder accumulates bound parameters during one compilation.
// Placeholder numbers derive from the parameter position, so the same
// field appearing in many conditions can never collide.
type builder struct {
	def      *entities.Definition
	ftConfig string
	startIdx int
	args     []interface{}
}

// bind appends a parameter and returns its placeholder
func (b *builder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", b.startIdx+len(b.args)-1)
}

// CompileConditions produces the WHERE fragment for a condition list.
// Semantics:
//   - conditions are evaluated left to right; a condition whose
//     combiner is OR joins the clause group started by the condition
//     before it, and each group is parenthesized and AND-ed with the
//     rest
//   - the catch-all "*" field is always AND-ed in regardless of
//     position
//   - if the schema has the deleted flag and no condition references
//     it, "f_deleted = false" is appended so soft-deleted entities
//     never leak into ordinary queries
//   - an unsupported (field type, operator) pair compiles to an empty
//     clause and is skipped; callers probe unsupported combinations
//     and depend on this
func (c *Compiler) CompileConditions(def *entities.Definition, conds []*entities.Condition) (*CompiledQuery, error) {
	b := &builder{def: def, ftConfig: c.ftConfig, startIdx: compileStartIdx}

	type clause struct {
		comb entities.Combiner
		sql  string
	}
	var clauses []clause
	var fulltext []string
	deletedFiltered := false

	for _, cond := range conds {
		if cond.Operator == "" {
			return nil, fmt.Errorf("%w: field %q", ErrMissingOperator, cond.FieldName)
		}
		if cond.FieldName == entities.FieldNameFulltext {
			text, _ := cond.Value.(string)
			fulltext = append(fulltext, fmt.Sprintf(
				"tsv @@ plainto_tsquery('%s', %s)", b.ftConfig, b.bind(text)))
			continue
		}
		field := def.GetField(cond.FieldName)
		if field == nil {
			return nil, fmt.Errorf("%w: %q on %s", ErrUnknownField, cond.FieldName, def.ObjType)
		}
		handler, ok := conditionHandlers[handlerKey{field.Type, cond.Operator}]
		if !ok {
			// Unsupported pair: intentionally a no-op filter
			continue
		}
		sql, err := handler(b, field, cond)
		if err != nil {
			return nil, err
		}
		if sql == "" {
			continue
		}
		// Only a condition that produced a clause counts as filtering the
		// deleted flag; a no-op must not suppress the default filter
		if cond.FieldName == entities.FieldDeleted {
			deletedFiltered = true
		}
		clauses = append(clauses, clause{comb: cond.Combiner, sql: sql})
	}

	var groups []string
	var run []string
	flush := func() {
		switch len(run) {
		case 0:
		case 1:
			groups = append(groups, run[0])
		default:
			groups = append(groups, "("+strings.Join(run, " OR ")+")")
		}
		run = nil
	}
	for i, cl := range clauses {
		if i > 0 && cl.comb == entities.CombinerOr {
			run = append(run, cl.sql)
			continue
		}
		flush()
		run = append(run, cl.sql)
	}
	flush()

	if !deletedFiltered && def.HasField(entities.FieldDeleted) {
		groups = append(groups, "f_deleted = false")
	}
	groups = append(groups, fulltext...)

	return &CompiledQuery{Where: strings.Join(groups, " AND "), Args: b.args}, nil
}

// CompileSorts produces the ORDER BY expression list. The entity id is
// always appended as a tiebreaker so result order is deterministic.
func (c *Compiler) CompileSorts(def *entities.Definition, sorts []*entities.Sort) (string, error) {
	if len(sorts) == 0 {
		return "ts_entered ASC, entity_id ASC", nil
	}
	parts := make([]string, 0, len(sorts)+1)
	for _, s := range sorts {
		field := def.GetField(s.FieldName)
		if field == nil {
			return "", fmt.Errorf("%w: %q on %s", ErrUnknownField, s.FieldName, def.ObjType)
		}
		dir := "ASC"
		if s.Direction == entities.SortDesc {
			dir = "DESC"
		}
		parts = append(parts, columnExpr(field)+" "+dir)
	}
	parts = append(parts, "entity_id ASC")
	return strings.Join(parts, ", "), nil
}

// promotedColumns maps reserved fields to their physical columns; all
// other fields live inside the field_data JSONB document
var promotedColumns = map[string]string{
	entities.FieldEntityID:   "entity_id",
	entities.FieldUniqueName: "uname",
	entities.FieldRevision:   "revision",
	entities.FieldCommitID:   "commit_id",
	entities.FieldDeleted:    "f_deleted",
	entities.FieldTsEntered:  "ts_entered",
	entities.FieldTsUpdated:  "ts_updated",
}

// columnExpr returns the SQL expression reading one field with the
// type its handlers compare against
func columnExpr(f *entities.Field) string {
	if col, ok := promotedColumns[f.Name]; ok {
		return col
	}
	raw := fmt.Sprintf("field_data->'values'->>'%s'", f.Name)
	switch f.Type {
	case entities.FieldTypeNumber:
		return "(" + raw + ")::numeric"
	case entities.FieldTypeBool:
		return "COALESCE((" + raw + ")::boolean, false)"
	case entities.FieldTypeDate, entities.FieldTypeTimestamp:
		return "(" + raw + ")::timestamptz"
	case entities.FieldTypeGrouping:
		return "(" + raw + ")::bigint"
	default:
		return raw
	}
}
