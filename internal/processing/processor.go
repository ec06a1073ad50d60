// Package processing runs batch finalization in-process on a small goroutine
// pool. It stands in for the Redis-backed queue when the registry runs
// without one.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dharsanguruparan/registry/internal/queue"
)

// ErrQueueFull is returned when ctx ends while a job waits for room in the
// queue.
var ErrQueueFull = errors.New("processing queue full")

// ErrStopped is returned for jobs submitted after Stop.
var ErrStopped = errors.New("processor stopped")

// Finalizer is the work the pool runs.
type Finalizer interface {
	Promote(ctx context.Context, p queue.BatchPayload) error
	Purge(ctx context.Context, p queue.BatchPayload) error
}

// Job is one queued finalization.
type Job struct {
	Kind    string
	Payload queue.BatchPayload
}

// Processor consumes Jobs with a fixed number of workers.
type Processor struct {
	finalizer Finalizer
	logger    *slog.Logger
	queue     chan Job
	workers   int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(f Finalizer, workers int, logger *slog.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		finalizer: f,
		logger:    logger,
		queue:     make(chan Job, workers*4),
		workers:   workers,
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled or the
// processor is stopped.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop refuses new jobs, lets the workers drain the queue and waits for them.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Promote queues a promote job, waiting for room while ctx allows.
func (p *Processor) Promote(ctx context.Context, payload queue.BatchPayload) error {
	return p.submit(ctx, Job{Kind: queue.PromoteBatchTask, Payload: payload})
}

// Purge queues a purge job, waiting for room while ctx allows.
func (p *Processor) Purge(ctx context.Context, payload queue.BatchPayload) error {
	return p.submit(ctx, Job{Kind: queue.PurgeBatchTask, Payload: payload})
}

func (p *Processor) submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- job:
		return nil
	default:
	}
	p.logger.Debug("processor queue full, waiting", "type", job.Kind, "batch", job.Payload.Token)
	select {
	case p.queue <- job:
		return nil
	case <-ctx.Done():
		p.logger.Warn("processor queue full, job not queued", "type", job.Kind, "batch", job.Payload.Token)
		return fmt.Errorf("%w: %w", ErrQueueFull, ctx.Err())
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, job)
		}
	}
}

func (p *Processor) process(ctx context.Context, job Job) {
	var err error
	switch job.Kind {
	case queue.PromoteBatchTask:
		err = p.finalizer.Promote(ctx, job.Payload)
	case queue.PurgeBatchTask:
		err = p.finalizer.Purge(ctx, job.Payload)
	default:
		p.logger.Error("unknown job type", "type", job.Kind)
		return
	}
	if err != nil {
		p.logger.Error("finalize failed", "type", job.Kind, "batch", job.Payload.Token, "error", err)
	}
}
