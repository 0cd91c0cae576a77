package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner executes deferred work that webhook handlers queue after they have
// already acknowledged the provider. It replaces bare fire-and-forget
// goroutines so failures are logged and bounded, and shutdown can wait for
// in-flight work.
type Runner struct {
	log     *slog.Logger
	jobs    chan job
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// NewRunner starts workers goroutines draining a queue of queueSize.
func NewRunner(log *slog.Logger, workers, queueSize int) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		log:     log,
		jobs:    make(chan job, queueSize),
		cancel:  cancel,
		timeout: 30 * time.Second,
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	return r
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for j := range r.jobs {
		r.run(ctx, j)
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("background task panicked", "task", j.name, "panic", p)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	if err := j.fn(jobCtx); err != nil {
		r.log.Error("background task failed", "task", j.name, "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	r.log.Debug("background task done", "task", j.name, "duration_ms", time.Since(start).Milliseconds())
}

// Submit enqueues fn. It never blocks: when the queue is full or the runner
// is shut down the task is dropped and the drop is logged, preserving the
// webhook handlers' latency target.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	if fn == nil {
		return false
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Warn("task rejected after shutdown", "task", name)
		return false
	}
	select {
	case r.jobs <- job{name: name, fn: fn}:
		r.mu.Unlock()
		return true
	default:
		r.mu.Unlock()
		r.log.Warn("task queue full, dropping task", "task", name)
		return false
	}
}

// Shutdown stops accepting work and waits for in-flight tasks, bounded by
// ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
