package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner executes deferred work (post-response blob writes, destructive
// cleanup) off the request path. Tasks are fire-and-forget from the caller's
// perspective: failures are logged, never propagated, and consistency is
// recovered by the reaper. Wait exists so shutdown and tests can drain
// in-flight tasks.
type Runner struct {
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRunner returns a Runner whose tasks are bounded by timeout each.
func NewRunner(log *slog.Logger, timeout time.Duration) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{log: log, timeout: timeout}
}

// Submit schedules fn on its own goroutine with a fresh context, detached
// from the request that spawned it. Background work must not inherit request
// cancellation: the response has already been sent.
func (r *Runner) Submit(name string, id string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error("background task panic", "task", name, "file_id", id, "panic", p)
			}
		}()
		if err := fn(ctx); err != nil {
			r.log.Error("background task failed", "task", name, "file_id", id, "err", err)
		}
	}()
}

// Wait blocks until every submitted task has finished.
func (r *Runner) Wait() { r.wg.Wait() }
