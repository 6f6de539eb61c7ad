package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned when the task queue cannot accept more work.
var ErrQueueFull = errors.New("job: task queue is full")

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("job: worker pool is stopped")

// Task is one unit of background render work.
type Task func(ctx context.Context)

// Pool executes tasks on a fixed number of workers, bounding the number of
// simultaneously running renders. Submission returns immediately; completion
// is observed through the job repository only.
type Pool struct {
	tasks   chan Task
	workers int
	logger  *slog.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool creates a Pool with the given worker count and queue capacity.
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		tasks:   make(chan Task, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. Workers exit when the context is cancelled
// or the pool is stopped.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task, ok := <-p.tasks:
					if !ok {
						return
					}
					task(ctx)
				}
			}
		}(i)
	}
	p.logger.Info("worker pool started",
		slog.Int("workers", p.workers),
		slog.Int("queue_size", cap(p.tasks)),
	)
}

// Submit enqueues a task without blocking.
// Returns ErrQueueFull when the queue is at capacity.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
