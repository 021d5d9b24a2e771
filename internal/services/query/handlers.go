package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

// handlerKey selects a handler for one (field type, operator) pair
type handlerKey struct {
	ftype entities.FieldType
	op    entities.Operator
}

// handlerFunc compiles a single condition into a SQL clause. An empty
// clause with a nil error is a deliberate no-op.
type handlerFunc func(b *builder, f *entities.Field, cond *entities.Condition) (string, error)

// conditionHandlers is the lookup table driving compilation. A missing
// key means the (type, operator) combination is unsupported and the
// condition compiles to a no-op.
var conditionHandlers = map[handlerKey]handlerFunc{
	{entities.FieldTypeText, entities.OpEqual}:      textEqual,
	{entities.FieldTypeText, entities.OpNotEqual}:   textNotEqual,
	{entities.FieldTypeText, entities.OpContains}:   textContains,
	{entities.FieldTypeText, entities.OpBeginsWith}: textBeginsWith,

	{entities.FieldTypeBool, entities.OpEqual}:    boolEqual,
	{entities.FieldTypeBool, entities.OpNotEqual}: boolNotEqual,

	{entities.FieldTypeNumber, entities.OpEqual}:          numberCompare("="),
	{entities.FieldTypeNumber, entities.OpNotEqual}:       numberCompare("<>"),
	{entities.FieldTypeNumber, entities.OpGreater}:        numberCompare(">"),
	{entities.FieldTypeNumber, entities.OpGreaterOrEqual}: numberCompare(">="),
	{entities.FieldTypeNumber, entities.OpLess}:           numberCompare("<"),
	{entities.FieldTypeNumber, entities.OpLessOrEqual}:    numberCompare("<="),

	{entities.FieldTypeDate, entities.OpEqual}:          timeCompare("="),
	{entities.FieldTypeDate, entities.OpNotEqual}:       timeCompare("<>"),
	{entities.FieldTypeDate, entities.OpGreater}:        timeCompare(">"),
	{entities.FieldTypeDate, entities.OpGreaterOrEqual}: timeCompare(">="),
	{entities.FieldTypeDate, entities.OpLess}:           timeCompare("<"),
	{entities.FieldTypeDate, entities.OpLessOrEqual}:    timeCompare("<="),
	{entities.FieldTypeDate, entities.OpLastXDays}:      lastInterval("days"),
	{entities.FieldTypeDate, entities.OpLastXWeeks}:     lastInterval("weeks"),
	{entities.FieldTypeDate, entities.OpLastXMonths}:    lastInterval("months"),
	{entities.FieldTypeDate, entities.OpLastXYears}:     lastInterval("years"),
	{entities.FieldTypeDate, entities.OpNextXDays}:      nextInterval("days"),

	{entities.FieldTypeTimestamp, entities.OpEqual}:          timeCompare("="),
	{entities.FieldTypeTimestamp, entities.OpNotEqual}:       timeCompare("<>"),
	{entities.FieldTypeTimestamp, entities.OpGreater}:        timeCompare(">"),
	{entities.FieldTypeTimestamp, entities.OpGreaterOrEqual}: timeCompare(">="),
	{entities.FieldTypeTimestamp, entities.OpLess}:           timeCompare("<"),
	{entities.FieldTypeTimestamp, entities.OpLessOrEqual}:    timeCompare("<="),
	{entities.FieldTypeTimestamp, entities.OpLastXDays}:      lastInterval("days"),
	{entities.FieldTypeTimestamp, entities.OpLastXWeeks}:     lastInterval("weeks"),
	{entities.FieldTypeTimestamp, entities.OpLastXMonths}:    lastInterval("months"),
	{entities.FieldTypeTimestamp, entities.OpLastXYears}:     lastInterval("years"),
	{entities.FieldTypeTimestamp, entities.OpNextXDays}:      nextInterval("days"),

	{entities.FieldTypeObject, entities.OpEqual}:       objectEqual,
	{entities.FieldTypeObject, entities.OpNotEqual}:    objectNotEqual,
	{entities.FieldTypeObject, entities.OpLessOrEqual}: objectDescendantOrSelf,

	{entities.FieldTypeGrouping, entities.OpEqual}:    groupingEqual,
	{entities.FieldTypeGrouping, entities.OpNotEqual}: groupingNotEqual,

	{entities.FieldTypeObjectMulti, entities.OpEqual}:    objectMultiExists(true),
	{entities.FieldTypeObjectMulti, entities.OpNotEqual}: objectMultiExists(false),

	{entities.FieldTypeGroupingMulti, entities.OpEqual}:    groupingMultiExists(true),
	{entities.FieldTypeGroupingMulti, entities.OpNotEqual}: groupingMultiExists(false),
}

// Text

func textEqual(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	text := stringValue(cond.Value)
	col := columnExpr(f)
	if f.ExactMatch {
		return fmt.Sprintf("lower(COALESCE(%s, '')) = lower(%s)", col, b.bind(text)), nil
	}
	if text == "" {
		return fmt.Sprintf("COALESCE(%s, '') = ''", col), nil
	}
	return fieldTsMatch(b, col, "plainto_tsquery", text), nil
}

func textNotEqual(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	text := stringValue(cond.Value)
	col := columnExpr(f)
	if text == "" {
		// "not equals empty" means the field has a non-empty value
		return fmt.Sprintf("COALESCE(%s, '') <> ''", col), nil
	}
	return fmt.Sprintf("lower(COALESCE(%s, '')) <> lower(%s)", col, b.bind(text)), nil
}

func textContains(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	text := stringValue(cond.Value)
	col := columnExpr(f)
	if f.ExactMatch {
		return fmt.Sprintf("%s ILIKE %s", col, b.bind("%"+text+"%")), nil
	}
	return fieldTsMatch(b, col, "plainto_tsquery", text), nil
}

func textBeginsWith(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	text := stringValue(cond.Value)
	col := columnExpr(f)
	if f.ExactMatch {
		return fmt.Sprintf("%s ILIKE %s", col, b.bind(text+"%")), nil
	}
	tsq := prefixTsQuery(text)
	if tsq == "" {
		// No indexable tokens; to_tsquery('') would be a syntax error
		return "", nil
	}
	return fieldTsMatch(b, col, "to_tsquery", tsq), nil
}

// fieldTsMatch compiles a tokenized match against the search index
// built from one field
func fieldTsMatch(b *builder, col, queryFn, text string) string {
	return fmt.Sprintf("to_tsvector('%s', COALESCE(%s, '')) @@ %s('%s', %s)",
		b.ftConfig, col, queryFn, b.ftConfig, b.bind(text))
}

// prefixTsQuery turns user text into a prefix-matching tsquery:
// tokens joined by AND with the last one matched as a prefix
func prefixTsQuery(text string) string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	if len(tokens) == 0 {
		return ""
	}
	tokens[len(tokens)-1] += ":*"
	return strings.Join(tokens, " & ")
}

// Bool

func boolEqual(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	return fmt.Sprintf("%s = %s", columnExpr(f), b.bind(boolValue(cond.Value))), nil
}

func boolNotEqual(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	return fmt.Sprintf("%s IS DISTINCT FROM %s", columnExpr(f), b.bind(boolValue(cond.Value))), nil
}

// Number

func numberCompare(op string) handlerFunc {
	return func(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
		return fmt.Sprintf("%s %s %s", columnExpr(f), op, b.bind(cond.Value)), nil
	}
}

// Date / timestamp

func timeCompare(op string) handlerFunc {
	return func(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
		t, err := normalizeTime(cond.Value)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", f.Name, err)
		}
		return fmt.Sprintf("%s %s %s", columnExpr(f), op, b.bind(t)), nil
	}
}

// lastInterval compiles "within the last N units" as a backend-side
// interval so results stay correct across compile and execution time
func lastInterval(unit string) handlerFunc {
	return func(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
		n, err := intValue(cond.Value)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", f.Name, err)
		}
		col := columnExpr(f)
		p := b.bind(n)
		return fmt.Sprintf("%s >= now() - make_interval(%s => %s::int) AND %s <= now()",
			col, unit, p, col), nil
	}
}

func nextInterval(unit string) handlerFunc {
	return func(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
		n, err := intValue(cond.Value)
		if err != nil {
			return "", fmt.Errorf("field %q: %w", f.Name, err)
		}
		col := columnExpr(f)
		p := b.bind(n)
		return fmt.Sprintf("%s >= now() AND %s <= now() + make_interval(%s => %s::int)",
			col, col, unit, p), nil
	}
}

// Single object reference

func objectEqual(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	return fmt.Sprintf("%s = %s", columnExpr(f), b.bind(stringValue(cond.Value))), nil
}

// objectNotEqual excludes an id; when the field forms the type's
// hierarchy the exclusion is recursive over the whole subtree
func objectNotEqual(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	id := stringValue(cond.Value)
	if f.Name == b.def.ParentField {
		return fmt.Sprintf("entity_id NOT IN %s", descendantTreeSQL(b, f, id)), nil
	}
	return fmt.Sprintf("COALESCE(%s, '') <> %s", columnExpr(f), b.bind(id)), nil
}

// objectDescendantOrSelf matches the referenced entity and all of its
// transitive children. Only meaningful on the hierarchy parent field;
// on any other object field the condition is a no-op.
func objectDescendantOrSelf(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	if f.Name != b.def.ParentField {
		return "", nil
	}
	return fmt.Sprintf("entity_id IN %s", descendantTreeSQL(b, f, stringValue(cond.Value))), nil
}

// descendantTreeSQL builds the recursive traversal over the parent
// field: the root entity plus every transitive child
func descendantTreeSQL(b *builder, parent *entities.Field, rootID string) string {
	return fmt.Sprintf(`(
		WITH RECURSIVE tree AS (
			SELECT entity_id FROM entities
				WHERE account_id = %s AND obj_type = %s AND entity_id = %s
			UNION ALL
			SELECT e.entity_id FROM entities e
				JOIN tree t ON e.field_data->'values'->>'%s' = t.entity_id
				WHERE e.account_id = %s AND e.obj_type = %s
		)
		SELECT entity_id FROM tree
	)`, accountParam, objTypeParam, b.bind(rootID), parent.Name, accountParam, objTypeParam)
}

// Single grouping reference

// groupingEqual matches the group or any of its descendants when the
// value is numeric; non-numeric values compile to a no-op
func groupingEqual(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	id, err := intValue(cond.Value)
	if err != nil {
		return "", nil
	}
	return fmt.Sprintf("%s IN %s", columnExpr(f), groupTreeSQL(b, id)), nil
}

func groupingNotEqual(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
	id, err := intValue(cond.Value)
	if err != nil {
		return "", nil
	}
	col := columnExpr(f)
	return fmt.Sprintf("(%s IS NULL OR %s <> %s)", col, col, b.bind(id)), nil
}

// groupTreeSQL builds the recursive traversal over the grouping
// hierarchy: the group plus every transitive child
func groupTreeSQL(b *builder, rootID int64) string {
	return fmt.Sprintf(`(
		WITH RECURSIVE grp AS (
			SELECT id FROM entity_groups WHERE account_id = %s AND id = %s
			UNION ALL
			SELECT g.id FROM entity_groups g
				JOIN grp ON g.parent_id = grp.id
				WHERE g.account_id = %s
		)
		SELECT id FROM grp
	)`, accountParam, b.bind(rootID), accountParam)
}

// Multi-valued object reference

// objectMultiExists compiles membership into an EXISTS (or NOT EXISTS)
// correlated sub-query against the association table. A value naming
// only a referenced type matches any entity of that subtype.
func objectMultiExists(positive bool) handlerFunc {
	return func(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
		targetType, targetID := parseObjectRef(cond.Value, f.Subtype)
		if targetType == "" {
			return "", nil
		}
		sub := fmt.Sprintf(
			"SELECT 1 FROM entity_associations a WHERE a.account_id = %s"+
				" AND a.entity_id = entities.entity_id AND a.field_id = %s AND a.target_type = %s",
			accountParam, b.bind(f.ID), b.bind(targetType))
		if targetID != "" {
			sub += fmt.Sprintf(" AND a.target_id = %s", b.bind(targetID))
		}
		if positive {
			return "EXISTS (" + sub + ")", nil
		}
		return "NOT EXISTS (" + sub + ")", nil
	}
}

// Multi-valued grouping reference

func groupingMultiExists(positive bool) handlerFunc {
	return func(b *builder, f *entities.Field, cond *entities.Condition) (string, error) {
		id, err := intValue(cond.Value)
		if err != nil {
			return "", nil
		}
		sub := fmt.Sprintf(
			"SELECT 1 FROM entity_group_rel r WHERE r.account_id = %s"+
				" AND r.entity_id = entities.entity_id AND r.field_id = %s AND r.group_id IN %s",
			accountParam, b.bind(f.ID), groupTreeSQL(b, id))
		if positive {
			return "EXISTS (" + sub + ")", nil
		}
		return "NOT EXISTS (" + sub + ")", nil
	}
}

// Value coercion helpers

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func boolValue(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "t" || b == "1"
	}
	return false
}

func intValue(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", n)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("value %v is not numeric", v)
}

// normalizeTime accepts an epoch number, a formatted string or a
// time.Time and normalizes it before binding
func normalizeTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable time value %q", t)
	}
	return time.Time{}, fmt.Errorf("unsupported time value %v (%T)", v, v)
}

// parseObjectRef splits a condition value into referenced type and id.
// Forms accepted: "id" (type from field subtype), "type:id", and
// "type:" or a bare type when the field has no subtype; the latter
// matches any value of that subtype.
func parseObjectRef(v interface{}, subtype string) (targetType, targetID string) {
	s := stringValue(v)
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	if subtype != "" {
		return subtype, s
	}
	return s, ""
}
