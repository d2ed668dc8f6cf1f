package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"progresskit/core"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	bad := core.Errorf("op", core.ErrInvalidInput, "nope")
	_, err := withRetry(context.Background(), fastPolicy(5), slog.Default(), "op", func(context.Context) (int, error) {
		calls++
		return 0, bad
	})
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	v, err := withRetry(context.Background(), fastPolicy(3), slog.Default(), "op", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, core.Errorf("op", core.ErrConcurrentModification, "conflict")
		}
		return 7, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 3, calls)
}

func TestWithRetryZeroRetries(t *testing.T) {
	calls := 0
	_, err := withRetry(context.Background(), fastPolicy(0), slog.Default(), "op", func(context.Context) (int, error) {
		calls++
		return 0, core.Errorf("op", core.ErrStorageUnavailable, "down")
	})
	assert.Equal(t, 1, calls)
	assert.True(t, errors.Is(err, core.ErrStorageUnavailable))
}
