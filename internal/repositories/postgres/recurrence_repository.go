package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/halcyon-labs/entitycore/internal/entities"
	"github.com/halcyon-labs/entitycore/internal/repositories"
)

// PostgresRecurrenceRepository implements RecurrenceRepository using PostgreSQL
type PostgresRecurrenceRepository struct {
	db *sql.DB
}

// NewPostgresRecurrenceRepository creates a new PostgreSQL recurrence repository
func NewPostgresRecurrenceRepository(db *sql.DB) repositories.RecurrenceRepository {
	return &PostgresRecurrenceRepository{db: db}
}

// Save upserts a pattern by its reserved id
func (r *PostgresRecurrenceRepository) Save(ctx context.Context, pattern *entities.RecurrencePattern) error {
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("invalid recurrence pattern: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_recurrence (
			pattern_id, account_id, obj_type, entity_id, type, recur_interval,
			day_of_week_mask, day_of_month, month_of_year, date_start, date_end
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (pattern_id) DO UPDATE SET
			entity_id = EXCLUDED.entity_id,
			type = EXCLUDED.type,
			recur_interval = EXCLUDED.recur_interval,
			day_of_week_mask = EXCLUDED.day_of_week_mask,
			day_of_month = EXCLUDED.day_of_month,
			month_of_year = EXCLUDED.month_of_year,
			date_start = EXCLUDED.date_start,
			date_end = EXCLUDED.date_end
	`, pattern.ID, pattern.AccountID, pattern.ObjType,
		sql.NullString{String: pattern.EntityID, Valid: pattern.EntityID != ""},
		string(pattern.Type), pattern.Interval,
		pattern.DayOfWeekMask, pattern.DayOfMonth, pattern.MonthOfYear,
		pattern.DateStart,
		sql.NullTime{Time: pattern.DateEnd, Valid: !pattern.DateEnd.IsZero()},
	)
	if err != nil {
		return fmt.Errorf("failed to save recurrence pattern: %w", err)
	}
	return nil
}

// Get returns one pattern by id
func (r *PostgresRecurrenceRepository) Get(ctx context.Context, accountID, patternID string) (*entities.RecurrencePattern, error) {
	pattern := &entities.RecurrencePattern{}
	var entityID sql.NullString
	var dateEnd sql.NullTime
	var patternType string
	err := r.db.QueryRowContext(ctx, `
		SELECT pattern_id, account_id, obj_type, entity_id, type, recur_interval,
			day_of_week_mask, day_of_month, month_of_year, date_start, date_end
		FROM entity_recurrence
		WHERE account_id = $1 AND pattern_id = $2
	`, accountID, patternID).Scan(
		&pattern.ID, &pattern.AccountID, &pattern.ObjType, &entityID, &patternType,
		&pattern.Interval, &pattern.DayOfWeekMask, &pattern.DayOfMonth,
		&pattern.MonthOfYear, &pattern.DateStart, &dateEnd,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: recurrence pattern %s", repositories.ErrNotFound, patternID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurrence pattern: %w", err)
	}
	pattern.Type = entities.RecurrenceType(patternType)
	if entityID.Valid {
		pattern.EntityID = entityID.String
	}
	if dateEnd.Valid {
		pattern.DateEnd = dateEnd.Time
	}
	return pattern, nil
}

// Delete removes a pattern
func (r *PostgresRecurrenceRepository) Delete(ctx context.Context, accountID, patternID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM entity_recurrence WHERE account_id = $1 AND pattern_id = $2",
		accountID, patternID)
	if err != nil {
		return fmt.Errorf("failed to delete recurrence pattern: %w", err)
	}
	return nil
}
