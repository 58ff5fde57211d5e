package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"mpharvester/internal/harvest"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan harvest.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	job := harvest.QueueItem{JobID: "job-1"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.JobID != "job-1" {
			t.Fatalf("expected job-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), harvest.QueueItem{JobID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, harvest.QueueItem{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseRejectsProducers(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if err := q.Enqueue(context.Background(), harvest.QueueItem{JobID: "late"}); !errors.Is(err, harvest.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, harvest.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseDrainsBacklog(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	for _, id := range []string{"job-1", "job-2"} {
		if err := q.Enqueue(context.Background(), harvest.QueueItem{JobID: id}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("expected backlog of 2, got %d", q.Len())
	}
	q.Close()

	for _, want := range []string{"job-1", "job-2"} {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if item.JobID != want {
			t.Fatalf("expected %s, got %s", want, item.JobID)
		}
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, harvest.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after drain, got %v", err)
	}
}

func TestQueueCloseWakesBlockedProducer(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	if err := q.Enqueue(context.Background(), harvest.QueueItem{JobID: "fill"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(context.Background(), harvest.QueueItem{JobID: "blocked"})
	}()

	time.Sleep(10 * time.Millisecond) // let the producer block on the full queue
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, harvest.ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked producer did not wake after Close")
	}
}
