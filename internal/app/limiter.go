package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"securedrop/internal/domain"
)

// CounterStore is the one metadata-store capability the limiter needs.
type CounterStore interface {
	IncrementCounter(ctx context.Context, identity string, window time.Duration) (int64, error)
}

// FailurePolicy decides what Admit does when the counter store is
// unreachable. Uploads fail closed to bound abuse; retrievals fail open to
// keep reads available.
type FailurePolicy int

const (
	FailClosed FailurePolicy = iota
	FailOpen
)

// Limiter is a per-identity sliding counter: the first request in a window
// creates the counter, every request increments it, and requests past the
// limit are denied until the window expires. The increment that crosses the
// limit is still recorded, so subsequent calls keep denying.
type Limiter struct {
	counters CounterStore
	limit    int64
	window   time.Duration
	policy   FailurePolicy
	log      *slog.Logger
}

// NewLimiter builds a Limiter admitting at most limit requests per window
// per identity.
func NewLimiter(counters CounterStore, limit int64, window time.Duration, policy FailurePolicy, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{counters: counters, limit: limit, window: window, policy: policy, log: log}
}

// Admit records one request for identity and returns nil to admit,
// domain.ErrRateLimited to deny, or domain.ErrStoreUnavailable when the
// counter store is down and the policy is FailClosed.
func (l *Limiter) Admit(ctx context.Context, identity string) error {
	n, err := l.counters.IncrementCounter(ctx, identity, l.window)
	if err != nil {
		if l.policy == FailOpen {
			l.log.Warn("rate counter unavailable, admitting", "identity", identity, "err", err)
			return nil
		}
		l.log.Error("rate counter unavailable, denying", "identity", identity, "err", err)
		return fmt.Errorf("rate counter: %w", domain.ErrStoreUnavailable)
	}
	if n > l.limit {
		return domain.ErrRateLimited
	}
	return nil
}
