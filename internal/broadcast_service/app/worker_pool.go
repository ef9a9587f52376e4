package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

var ErrWorkerPoolClosed = errors.New("worker pool is closed")

// TaskHandler processes one transmission task. It must not panic on bad input.
type TaskHandler func(ctx context.Context, task domain.TransmissionTask)

// WorkerPool runs a fixed number of goroutines over a bounded task queue.
// Enqueue blocks when the queue is full.
type WorkerPool struct {
	size    int
	tasks   chan domain.TransmissionTask
	handler TaskHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewWorkerPool(size, queueSize int, handler TaskHandler, logger *slog.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		size:    size,
		tasks:   make(chan domain.TransmissionTask, queueSize),
		handler: handler,
		logger:  logger.With("component", "worker_pool"),
	}
}

// Start launches the workers. Handlers run with ctx; cancelling it aborts
// in-flight sends, so callers normally Close and Wait first.
func (p *WorkerPool) Start(ctx context.Context) {
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go func(worker int) {
			defer p.wg.Done()
			for task := range p.tasks {
				workerQueueDepthGauge.Set(float64(len(p.tasks)))
				p.run(ctx, worker, task)
			}
		}(i)
	}
	p.logger.Info("Worker pool started", "workers", p.size, "queue_size", cap(p.tasks))
}

// TaskRunner.Handle already turns send panics into a failed outcome. A panic
// reaching this point came from outcome recording itself and is only logged,
// since reporting again could count the task twice.
func (p *WorkerPool) run(ctx context.Context, worker int, task domain.TransmissionTask) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "Task handler panicked", "worker", worker, "broadcast_id", task.BroadcastID, "panic", r)
		}
	}()
	p.handler(ctx, task)
}

// Enqueue implements TaskQueue.
func (p *WorkerPool) Enqueue(ctx context.Context, task domain.TransmissionTask) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}
	select {
	case p.tasks <- task:
		workerQueueDepthGauge.Set(float64(len(p.tasks)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks. Queued tasks are still processed.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
}

// Wait blocks until every worker has drained the queue and exited.
func (p *WorkerPool) Wait() { p.wg.Wait() }
