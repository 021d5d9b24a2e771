package repositories

import "context"

// CommitRepository manages the per-(account, obj_type) monotonically
// increasing commit sequence that anchors change-feed ordering, plus
// the stale-commit bookkeeping consumed by sync clients.
type CommitRepository interface {
	// Allocate returns the next commit id for the (account, obj_type)
	// pair. Ids form a total order per pair.
	Allocate(ctx context.Context, accountID, objType string) (int64, error)

	// Head returns the last allocated commit id, 0 if none.
	Head(ctx context.Context, accountID, objType string) (int64, error)

	// MarkStale records that a previously exported commit no longer
	// reflects current state. Safe to call after the originating save
	// has returned; the effect is idempotent.
	MarkStale(ctx context.Context, accountID, objType string, commitID int64) error
}
