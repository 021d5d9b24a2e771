package jobs

import "context"

// Job is one unit of background work: a registered handler name plus
// an arbitrary payload.
type Job struct {
	Name    string
	Payload map[string]interface{}
}

// Dispatcher enqueues background work fire-and-forget. Callers never
// await completion; delivery is at-least-once and handlers must be
// idempotent.
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) error
}

// Handler processes one job. A returned error triggers redelivery up
// to the queue's attempt limit.
type Handler func(ctx context.Context, job Job) error
