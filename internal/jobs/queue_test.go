package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// runQueue starts the drain loop and returns a stop function that
// closes the queue and waits for the backlog to finish
func runQueue(t *testing.T, q *Queue) func() {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Run(context.Background())
	}()
	return func() {
		q.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("queue did not drain after Close")
		}
	}
}

func TestQueue_DeliversInOrder(t *testing.T) {
	q := NewQueue(1, zerolog.Nop())

	var mu sync.Mutex
	var got []string
	q.Register("record", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, job.Payload["n"].(string))
		return nil
	})

	stop := runQueue(t, q)
	for _, n := range []string{"a", "b", "c"} {
		if err := q.Enqueue(context.Background(), Job{Name: "record", Payload: map[string]interface{}{"n": n}}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("delivery order = %v, want [a b c]", got)
	}
}

func TestQueue_RetriesToLimitThenDrops(t *testing.T) {
	q := NewQueue(3, zerolog.Nop())

	var mu sync.Mutex
	attempts := 0
	q.Register("flaky", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("still broken")
	})

	stop := runQueue(t, q)
	if err := q.Enqueue(context.Background(), Job{Name: "flaky"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestQueue_RecoversAfterFailure(t *testing.T) {
	q := NewQueue(2, zerolog.Nop())

	var mu sync.Mutex
	attempts := 0
	q.Register("eventually", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})

	stop := runQueue(t, q)
	if err := q.Enqueue(context.Background(), Job{Name: "eventually"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestQueue_UnknownHandlerIsDropped(t *testing.T) {
	q := NewQueue(1, zerolog.Nop())

	var mu sync.Mutex
	handled := 0
	q.Register("known", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		handled++
		return nil
	})

	stop := runQueue(t, q)
	_ = q.Enqueue(context.Background(), Job{Name: "nobody-home"})
	_ = q.Enqueue(context.Background(), Job{Name: "known"})
	stop()

	mu.Lock()
	defer mu.Unlock()
	if handled != 1 {
		t.Errorf("handled = %d, want 1", handled)
	}
}

func TestQueue_ConcurrentWorkers(t *testing.T) {
	q := NewQueue(1, zerolog.Nop())

	var mu sync.Mutex
	handled := 0
	q.Register("work", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		handled++
		return nil
	})

	const workers = 4
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Run(context.Background())
		}()
	}

	for i := 0; i < 50; i++ {
		if err := q.Enqueue(context.Background(), Job{Name: "work"}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	// Close wakes every worker once the backlog is gone
	q.Close()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit after Close")
	}

	mu.Lock()
	defer mu.Unlock()
	if handled != 50 {
		t.Errorf("handled = %d, want 50", handled)
	}
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := NewQueue(1, zerolog.Nop())
	q.Close()
	if err := q.Enqueue(context.Background(), Job{Name: "late"}); err == nil {
		t.Error("enqueue on a closed queue must fail")
	}
}

func TestQueue_RunHonorsContext(t *testing.T) {
	q := NewQueue(1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
