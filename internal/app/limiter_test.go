package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securedrop/internal/domain"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLimiterAdmitsUpToLimit(t *testing.T) {
	meta := newFakeMeta()
	l := NewLimiter(meta, 10, time.Hour, FailClosed, discardLog())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Admit(ctx, "1.2.3.4"), "request %d", i+1)
	}
	assert.ErrorIs(t, l.Admit(ctx, "1.2.3.4"), domain.ErrRateLimited)
	assert.ErrorIs(t, l.Admit(ctx, "1.2.3.4"), domain.ErrRateLimited)

	// Other identities are unaffected.
	assert.NoError(t, l.Admit(ctx, "5.6.7.8"))
}

func TestLimiterConcurrentSameIdentity(t *testing.T) {
	meta := newFakeMeta()
	l := NewLimiter(meta, 50, time.Hour, FailClosed, discardLog())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, denied := 0, 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Admit(ctx, "shared")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else {
				denied++
			}
		}()
	}
	wg.Wait()
	// No lost updates: exactly the limit admitted.
	assert.Equal(t, 50, admitted)
	assert.Equal(t, 50, denied)
}

func TestLimiterFailClosed(t *testing.T) {
	meta := newFakeMeta()
	meta.incrErr = context.DeadlineExceeded
	l := NewLimiter(meta, 10, time.Hour, FailClosed, discardLog())
	assert.ErrorIs(t, l.Admit(context.Background(), "ip"), domain.ErrStoreUnavailable)
}

func TestLimiterFailOpen(t *testing.T) {
	meta := newFakeMeta()
	meta.incrErr = context.DeadlineExceeded
	l := NewLimiter(meta, 10, time.Hour, FailOpen, discardLog())
	assert.NoError(t, l.Admit(context.Background(), "ip"))
}
