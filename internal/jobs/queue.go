package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// queued wraps a job with its delivery attempt count
type queued struct {
	job      Job
	attempts int
}

// Queue is an in-process, unbounded FIFO job queue with at-least-once
// delivery. Enqueue is thread-safe and never blocks the caller; any
// number of concurrent Run loops may drain the queue. Failed jobs are
// redelivered until the attempt limit, then dropped with a log line.
//
// The queue is unbounded so save paths can fan out arbitrarily many
// jobs without blocking. A buffered signal channel lets Run wait
// without spinning and still honor context cancellation.
type Queue struct {
	mu          sync.Mutex
	jobs        []queued
	closed      bool
	signal      chan struct{}
	handlers    map[string]Handler
	maxAttempts int
	log         zerolog.Logger
}

// NewQueue creates an empty queue. maxAttempts bounds redelivery;
// values below 1 are treated as 1.
func NewQueue(maxAttempts int, log zerolog.Logger) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{
		jobs:        make([]queued, 0, 64),
		signal:      make(chan struct{}, 1),
		handlers:    make(map[string]Handler),
		maxAttempts: maxAttempts,
		log:         log,
	}
}

// Register installs the handler for a job name
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Enqueue adds a job to the back of the queue
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("job queue is closed")
	}
	q.jobs = append(q.jobs, queued{job: job, attempts: 0})
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// dequeue pops the front of the queue
func (q *Queue) dequeue() (queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return queued{}, false
	}
	item := q.jobs[0]
	q.jobs = q.jobs[1:]
	return item, true
}

// requeue puts a failed job at the back for redelivery
func (q *Queue) requeue(item queued) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.jobs = append(q.jobs, item)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Run drains the queue until the context is canceled or Close is
// called. Handler failures never propagate to producers.
func (q *Queue) Run(ctx context.Context) error {
	for {
		item, ok := q.dequeue()
		if !ok {
			q.mu.Lock()
			closed := q.closed
			q.mu.Unlock()
			if closed {
				// Pass the wakeup along so sibling Run loops also exit
				select {
				case q.signal <- struct{}{}:
				default:
				}
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.signal:
				continue
			}
		}
		q.process(ctx, item)
	}
}

func (q *Queue) process(ctx context.Context, item queued) {
	q.mu.Lock()
	handler, ok := q.handlers[item.job.Name]
	q.mu.Unlock()
	if !ok {
		q.log.Warn().Str("job", item.job.Name).Msg("no handler registered, dropping job")
		return
	}

	item.attempts++
	if err := handler(ctx, item.job); err != nil {
		if item.attempts < q.maxAttempts {
			q.log.Warn().Str("job", item.job.Name).Int("attempt", item.attempts).
				Err(err).Msg("job failed, requeueing")
			q.requeue(item)
			return
		}
		q.log.Error().Str("job", item.job.Name).Int("attempt", item.attempts).
			Err(err).Msg("job failed, attempt limit reached, dropping")
	}
}

// Close stops accepting jobs; Run returns once the backlog is drained
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
