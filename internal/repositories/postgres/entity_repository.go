package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/repositories"
	"github.com/lib/pq"
)

// PostgresEntityRepository implements EntityRepository using PostgreSQL
type PostgresEntityRepository struct {
	db *sql.DB
}

// NewPostgresEntityRepository creates a new PostgreSQL entity repository
func NewPostgresEntityRepository(db *sql.DB) repositories.EntityRepository {
	return &PostgresEntityRepository{db: db}
}

// Save upserts the entity row and synchronizes the association rows
// derived from its multi-valued reference fields, in one transaction.
func (r *PostgresEntityRepository) Save(ctx context.Context, ent *entities.Entity) error {
	fieldData, err := ent.MarshalValues()
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO entities (
			account_id, obj_type, entity_id, uname,
			revision, commit_id, f_deleted, ts_entered, ts_updated, field_data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id, obj_type, entity_id)
		DO UPDATE SET
			uname = EXCLUDED.uname,
			revision = EXCLUDED.revision,
			commit_id = EXCLUDED.commit_id,
			f_deleted = EXCLUDED.f_deleted,
			ts_updated = EXCLUDED.ts_updated,
			field_data = EXCLUDED.field_data
	`
	_, err = tx.ExecContext(ctx, query,
		ent.AccountID(), ent.ObjType(), ent.EntityID(),
		sql.NullString{String: ent.UniqueName(), Valid: ent.UniqueName() != ""},
		ent.Revision(), ent.CommitID(), ent.Deleted(),
		ent.TimeValue(entities.FieldTsEntered), ent.TimeValue(entities.FieldTsUpdated),
		fieldData,
	)
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}

	if err := r.syncAssociations(ctx, tx, ent); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// syncAssociations replaces the association and grouping-membership
// rows for the entity with rows derived from its current values
func (r *PostgresEntityRepository) syncAssociations(ctx context.Context, tx *sql.Tx, ent *entities.Entity) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM entity_associations WHERE account_id = $1 AND entity_id = $2",
		ent.AccountID(), ent.EntityID())
	if err != nil {
		return fmt.Errorf("failed to clear associations: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM entity_group_rel WHERE account_id = $1 AND entity_id = $2",
		ent.AccountID(), ent.EntityID())
	if err != nil {
		return fmt.Errorf("failed to clear group memberships: %w", err)
	}

	for _, f := range ent.Definition().Fields {
		switch f.Type {
		case entities.FieldTypeObjectMulti:
			for _, ref := range ent.ObjectMultiValue(f.Name) {
				targetType, targetID := splitRef(ref, f.Subtype)
				_, err := tx.ExecContext(ctx, `
					INSERT INTO entity_associations (account_id, entity_id, field_id, target_type, target_id)
					VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT DO NOTHING
				`, ent.AccountID(), ent.EntityID(), f.ID, targetType, targetID)
				if err != nil {
					return fmt.Errorf("failed to write association for field %s: %w", f.Name, err)
				}
			}
		case entities.FieldTypeGroupingMulti:
			for _, groupID := range ent.GroupingMultiValue(f.Name) {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO entity_group_rel (account_id, entity_id, field_id, group_id)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT DO NOTHING
				`, ent.AccountID(), ent.EntityID(), f.ID, groupID)
				if err != nil {
					return fmt.Errorf("failed to write group membership for field %s: %w", f.Name, err)
				}
			}
		}
	}
	return nil
}

// splitRef resolves a stored reference into (type, id); plain ids take
// their type from the field subtype
func splitRef(ref, subtype string) (string, string) {
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return subtype, ref
}

// Get loads one entity by id
func (r *PostgresEntityRepository) Get(ctx context.Context, def *entities.Definition, entityID string) (*entities.Entity, error) {
	var fieldData []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT field_data FROM entities WHERE account_id = $1 AND obj_type = $2 AND entity_id = $3",
		def.AccountID, def.ObjType, entityID,
	).Scan(&fieldData)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s", repositories.ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	ent := entities.NewEntity(def)
	if err := ent.UnmarshalValues(fieldData); err != nil {
		return nil, fmt.Errorf("failed to decode entity %s: %w", entityID, err)
	}
	ent.ResetDirty()
	return ent, nil
}

// Delete removes the entity row, its association rows and its
// revision snapshots
func (r *PostgresEntityRepository) Delete(ctx context.Context, ent *entities.Entity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"entity_associations", "entity_group_rel"} {
		_, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE account_id = $1 AND entity_id = $2", table),
			ent.AccountID(), ent.EntityID())
		if err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		"DELETE FROM entity_revisions WHERE account_id = $1 AND obj_type = $2 AND entity_id = $3",
		ent.AccountID(), ent.ObjType(), ent.EntityID())
	if err != nil {
		return fmt.Errorf("failed to delete revisions: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM entities WHERE account_id = $1 AND obj_type = $2 AND entity_id = $3",
		ent.AccountID(), ent.ObjType(), ent.EntityID())
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entity %s", repositories.ErrNotFound, ent.EntityID())
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveRevision stores an immutable snapshot keyed by the entity's
// current revision. Re-saving the same revision is a no-op.
func (r *PostgresEntityRepository) SaveRevision(ctx context.Context, ent *entities.Entity) error {
	fieldData, err := ent.MarshalValues()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entity_revisions (account_id, obj_type, entity_id, revision, ts_updated, field_data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`, ent.AccountID(), ent.ObjType(), ent.EntityID(), ent.Revision(),
		ent.TimeValue(entities.FieldTsUpdated), fieldData)
	if err != nil {
		return fmt.Errorf("failed to save revision: %w", err)
	}
	return nil
}

// GetRevisions returns all snapshots ordered by ascending revision
func (r *PostgresEntityRepository) GetRevisions(ctx context.Context, def *entities.Definition, entityID string) ([]*entities.Entity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT field_data FROM entity_revisions
		WHERE account_id = $1 AND obj_type = $2 AND entity_id = $3
		ORDER BY revision
	`, def.AccountID, def.ObjType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get revisions: %w", err)
	}
	defer rows.Close()

	var revisions []*entities.Entity
	for rows.Next() {
		var fieldData []byte
		if err := rows.Scan(&fieldData); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		ent := entities.NewEntity(def)
		if err := ent.UnmarshalValues(fieldData); err != nil {
			return nil, fmt.Errorf("failed to decode revision: %w", err)
		}
		ent.ResetDirty()
		revisions = append(revisions, ent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}
	return revisions, nil
}

// SetMovedTo records a redirect from oldID to newID
func (r *PostgresEntityRepository) SetMovedTo(ctx context.Context, accountID, objType, oldID, newID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_moved (account_id, obj_type, old_id, new_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, obj_type, old_id) DO UPDATE SET new_id = EXCLUDED.new_id
	`, accountID, objType, oldID, newID)
	if err != nil {
		return fmt.Errorf("failed to set moved-to: %w", err)
	}
	return nil
}

// GetMovedTo returns the redirect target for an id, "" when unmoved
func (r *PostgresEntityRepository) GetMovedTo(ctx context.Context, accountID, objType, entityID string) (string, error) {
	var newID string
	err := r.db.QueryRowContext(ctx,
		"SELECT new_id FROM entity_moved WHERE account_id = $1 AND obj_type = $2 AND old_id = $3",
		accountID, objType, entityID,
	).Scan(&newID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get moved-to: %w", err)
	}
	return newID, nil
}

// NextUnameNumber allocates the next opaque unique-name sequence
// number for the (account, obj_type) pair
func (r *PostgresEntityRepository) NextUnameNumber(ctx context.Context, accountID, objType string) (int64, error) {
	var next int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO entity_uname_counters (account_id, obj_type, next)
		VALUES ($1, $2, 1)
		ON CONFLICT (account_id, obj_type)
		DO UPDATE SET next = entity_uname_counters.next + 1
		RETURNING next
	`, accountID, objType).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate uname number: %w", err)
	}
	return next, nil
}

// DeleteAssociationsTo removes association rows pointing at a target
// entity, used when the target is hard-deleted
func (r *PostgresEntityRepository) DeleteAssociationsTo(ctx context.Context, accountID, targetType string, targetIDs []string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM entity_associations WHERE account_id = $1 AND target_type = $2 AND target_id = ANY($3)",
		accountID, targetType, pq.Array(targetIDs))
	if err != nil {
		return fmt.Errorf("failed to delete associations to targets: %w", err)
	}
	return nil
}
