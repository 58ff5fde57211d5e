// Package dispatcher runs the worker pool against the shared job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mpharvester/internal/harvest"
	"mpharvester/internal/telemetry"
	"mpharvester/internal/worker"
)

// Dispatcher owns the worker pool. It starts every worker against the queue
// and exposes the producer side to the API layer, so submission and
// execution share one backlog.
type Dispatcher struct {
	queue   harvest.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher over the queue and worker pool.
func New(queue harvest.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run starts the pool and blocks until the context ends and every worker has
// drained out.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("worker pool starting", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			telemetry.IncActiveWorkers()
			defer telemetry.DecActiveWorkers()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("worker pool stopped")
}

// Enqueue hands a submitted job to the queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item harvest.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
