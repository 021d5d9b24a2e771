package entity

// Event kinds carried by change broadcasts and background jobs
const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Background job names dispatched by the engine
const (
	// JobEntityChanged carries expensive post-processing (notifications,
	// activity logging) off the caller's path
	JobEntityChanged = "entity.changed"

	// JobMarkCommitStale tells sync consumers a previously exported
	// commit no longer reflects current state
	JobMarkCommitStale = "sync.mark_stale"
)

// EntityChange is the before/after payload published on every mutation.
// Before is empty for creates; After is empty for deletes.
type EntityChange struct {
	AccountID string
	ObjType   string
	EntityID  string
	UserID    string
	Kind      string
	Before    map[string]interface{}
	After     map[string]interface{}
}

// ChangeTopic keys the pub/sub topic by tenant and entity type
func ChangeTopic(accountID, objType string) string {
	return "entity.change." + accountID + "." + objType
}
