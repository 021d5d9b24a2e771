package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/halcyon-labs/entitycore/internal/entities"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// buildFulltextPayload concatenates all single-valued text fields into
// one normalized, lower-cased, tag-stripped searchable payload
func buildFulltextPayload(ent *entities.Entity) string {
	var parts []string
	for _, f := range ent.Definition().Fields {
		if f.Type != entities.FieldTypeText {
			continue
		}
		v := ent.TextValue(f.Name)
		if v == "" {
			continue
		}
		v = tagPattern.ReplaceAllString(v, " ")
		v = strings.ToLower(v)
		v = whitespacePattern.ReplaceAllString(strings.TrimSpace(v), " ")
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// IndexEntity recomputes the entity's searchable full-text payload and
// writes it to the global search index. Zero rows affected means the
// entity row is gone, which is treated as "not found", not a failure.
func (x *Index) IndexEntity(ctx context.Context, ent *entities.Entity) error {
	payload := buildFulltextPayload(ent)
	result, err := x.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE entities SET tsv = to_tsvector('%s', $4) WHERE account_id = $1 AND obj_type = $2 AND entity_id = $3", x.ftConfig),
		ent.AccountID(), ent.ObjType(), ent.EntityID(), payload)
	if err != nil {
		return fmt.Errorf("failed to index entity %s: %w", ent.EntityID(), err)
	}
	// RowsAffected of 0 is fine: the row may already be deleted
	_, _ = result.RowsAffected()
	return nil
}

// RemoveEntity clears the entity's full-text payload. Tolerates the
// row being gone already.
func (x *Index) RemoveEntity(ctx context.Context, ent *entities.Entity) error {
	_, err := x.db.ExecContext(ctx,
		"UPDATE entities SET tsv = NULL WHERE account_id = $1 AND obj_type = $2 AND entity_id = $3",
		ent.AccountID(), ent.ObjType(), ent.EntityID())
	if err != nil {
		return fmt.Errorf("failed to remove entity %s from index: %w", ent.EntityID(), err)
	}
	return nil
}
