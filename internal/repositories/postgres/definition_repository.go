package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/repositories"
)

// PostgresDefinitionRepository implements DefinitionRepository using PostgreSQL
type PostgresDefinitionRepository struct {
	db *sql.DB
}

// NewPostgresDefinitionRepository creates a new PostgreSQL definition repository
func NewPostgresDefinitionRepository(db *sql.DB) repositories.DefinitionRepository {
	return &PostgresDefinitionRepository{db: db}
}

// GetDefinition loads the definition and its field list for one
// (account, obj_type) pair
func (r *PostgresDefinitionRepository) GetDefinition(ctx context.Context, accountID, objType string) (*entities.Definition, error) {
	query := `
		SELECT title, store_revisions, uname_path, parent_field, supports_recurrence
		FROM entity_definitions
		WHERE account_id = $1 AND obj_type = $2
	`
	def := &entities.Definition{AccountID: accountID, ObjType: objType}
	var unamePath, parentField sql.NullString
	err := r.db.QueryRowContext(ctx, query, accountID, objType).Scan(
		&def.Title, &def.StoreRevisions, &unamePath, &parentField, &def.SupportsRecurrence,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s for account %s", repositories.ErrNoDefinition, objType, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	if unamePath.Valid && unamePath.String != "" {
		def.UnamePath = strings.Split(unamePath.String, ":")
	}
	if parentField.Valid {
		def.ParentField = parentField.String
	}

	fieldQuery := `
		SELECT id, name, title, type, subtype, exact_match, required, read_only
		FROM entity_definition_fields
		WHERE account_id = $1 AND obj_type = $2
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, fieldQuery, accountID, objType)
	if err != nil {
		return nil, fmt.Errorf("failed to get definition fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f entities.Field
		var fieldType string
		var subtype sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &f.Title, &fieldType, &subtype, &f.ExactMatch, &f.Required, &f.ReadOnly); err != nil {
			return nil, fmt.Errorf("failed to scan definition field: %w", err)
		}
		f.Type = entities.FieldType(fieldType)
		if subtype.Valid {
			f.Subtype = subtype.String
		}
		def.Fields = append(def.Fields, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating definition fields: %w", err)
	}

	return def, nil
}
