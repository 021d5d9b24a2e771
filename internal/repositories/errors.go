package repositories

import "errors"

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// ErrNoDefinition is returned when an entity type has no schema for
// the account. This is a caller error, never retried.
var ErrNoDefinition = errors.New("no definition for entity type")
