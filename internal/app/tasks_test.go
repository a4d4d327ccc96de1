package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunnerExecutesTask(t *testing.T) {
	r := NewRunner(discardLog(), time.Minute)
	var ran atomic.Bool
	r.Submit("noop", "id", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	r.Wait()
	assert.True(t, ran.Load())
}

func TestRunnerLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	r := NewRunner(log, time.Minute)
	r.Submit("boom", "some-id", func(context.Context) error {
		return errors.New("store down")
	})
	r.Wait()
	assert.Contains(t, buf.String(), "background task failed")
	assert.Contains(t, buf.String(), "some-id")
}

func TestRunnerRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	r := NewRunner(log, time.Minute)
	r.Submit("panicky", "id", func(context.Context) error {
		panic("kaboom")
	})
	r.Wait()
	assert.Contains(t, buf.String(), "background task panic")
}

func TestRunnerContextDetachedFromCaller(t *testing.T) {
	r := NewRunner(discardLog(), time.Minute)
	callerCtx, cancel := context.WithCancel(context.Background())
	cancel() // the request is already done when the task runs

	errCh := make(chan error, 1)
	r.Submit("detached", "id", func(ctx context.Context) error {
		errCh <- ctx.Err()
		return nil
	})
	r.Wait()
	assert.NoError(t, <-errCh, "task context must not inherit request cancellation")
	_ = callerCtx
}

func TestRunnerWaitDrainsAll(t *testing.T) {
	r := NewRunner(discardLog(), time.Minute)
	var n atomic.Int32
	for i := 0; i < 20; i++ {
		r.Submit("count", "id", func(context.Context) error {
			n.Add(1)
			return nil
		})
	}
	r.Wait()
	assert.Equal(t, int32(20), n.Load())
}
