package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/halcyon-labs/entitycore/internal/repositories"
)

func seedGroup(t *testing.T, db *sql.DB, accountID string, id int64, name string, parentID int64) {
	t.Helper()
	var parent interface{}
	if parentID != 0 {
		parent = parentID
	}
	_, err := db.Exec(`
		INSERT INTO entity_groups (account_id, id, grouping, name, parent_id, sort_order)
		VALUES ($1, $2, 'categories', $3, $4, 0)
	`, accountID, id, name, parent)
	if err != nil {
		t.Fatalf("failed to seed group %s: %v", name, err)
	}
}

func TestPostgresGroupingRepository_GetGroup(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresGroupingRepository(db)
	ctx := context.Background()

	seedGroup(t, db, "acct-groups", 1, "Sales", 0)
	seedGroup(t, db, "acct-groups", 2, "Inbound", 1)

	t.Run("root group", func(t *testing.T) {
		group, err := repo.GetGroup(ctx, "acct-groups", 1)
		if err != nil {
			t.Fatalf("GetGroup() error = %v", err)
		}
		if group.Name != "Sales" {
			t.Errorf("name = %q, want Sales", group.Name)
		}
		if group.Grouping != "categories" {
			t.Errorf("grouping = %q, want categories", group.Grouping)
		}
		if group.ParentID != 0 {
			t.Errorf("parent id = %d, want 0", group.ParentID)
		}
	})

	t.Run("child group", func(t *testing.T) {
		group, err := repo.GetGroup(ctx, "acct-groups", 2)
		if err != nil {
			t.Fatalf("GetGroup() error = %v", err)
		}
		if group.ParentID != 1 {
			t.Errorf("parent id = %d, want 1", group.ParentID)
		}
	})

	t.Run("missing group", func(t *testing.T) {
		_, err := repo.GetGroup(ctx, "acct-groups", 99)
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("GetGroup() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("other tenant's group", func(t *testing.T) {
		_, err := repo.GetGroup(ctx, "acct-other", 1)
		if !errors.Is(err, repositories.ErrNotFound) {
			t.Errorf("GetGroup() error = %v, want ErrNotFound", err)
		}
	})
}

func TestPostgresGroupingRepository_GetDescendants(t *testing.T) {
	db := SetupTestDB(t)
	defer CleanupTestDB(t, db)

	repo := NewPostgresGroupingRepository(db)
	ctx := context.Background()

	// Chain 1 -> 2 -> 3 plus an unrelated root and a same-id chain in
	// another tenant
	seedGroup(t, db, "acct-groups", 1, "Projects", 0)
	seedGroup(t, db, "acct-groups", 2, "Internal", 1)
	seedGroup(t, db, "acct-groups", 3, "Infrastructure", 2)
	seedGroup(t, db, "acct-groups", 4, "Archive", 0)
	seedGroup(t, db, "acct-other", 9, "Intruder", 1)

	t.Run("root expands to the whole chain", func(t *testing.T) {
		ids, err := repo.GetDescendants(ctx, "acct-groups", 1)
		if err != nil {
			t.Fatalf("GetDescendants() error = %v", err)
		}
		want := []int64{1, 2, 3}
		if len(ids) != len(want) {
			t.Fatalf("GetDescendants() = %v, want %v", ids, want)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("GetDescendants() = %v, want %v", ids, want)
				break
			}
		}
	})

	t.Run("leaf expands to itself", func(t *testing.T) {
		ids, err := repo.GetDescendants(ctx, "acct-groups", 3)
		if err != nil {
			t.Fatalf("GetDescendants() error = %v", err)
		}
		if len(ids) != 1 || ids[0] != 3 {
			t.Errorf("GetDescendants() = %v, want [3]", ids)
		}
	})

	t.Run("unknown group expands to nothing", func(t *testing.T) {
		ids, err := repo.GetDescendants(ctx, "acct-groups", 42)
		if err != nil {
			t.Fatalf("GetDescendants() error = %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("GetDescendants() = %v, want empty", ids)
		}
	})
}
