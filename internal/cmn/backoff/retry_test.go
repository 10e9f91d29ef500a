package backoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("SuccessfulRetry", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		op := func(_ context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		}

		err := Retry(context.Background(), op, NewConstantBackoffPolicy(time.Millisecond), nil)

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("NonRetriableError", func(t *testing.T) {
		t.Parallel()
		permanentErr := errors.New("permanent error")
		attempts := 0
		op := func(_ context.Context) error {
			attempts++
			return permanentErr
		}
		isRetriable := func(err error) bool {
			return !errors.Is(err, permanentErr)
		}

		err := Retry(context.Background(), op, NewConstantBackoffPolicy(time.Millisecond), isRetriable)

		assert.Equal(t, permanentErr, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		op := func(_ context.Context) error {
			called = true
			return nil
		}

		err := Retry(ctx, op, NewConstantBackoffPolicy(time.Millisecond), nil)

		assert.Equal(t, context.Canceled, err)
		assert.False(t, called)
	})

	t.Run("ContextCancellationDuringWait", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		op := func(_ context.Context) error {
			time.AfterFunc(20*time.Millisecond, cancel)
			return errors.New("error")
		}

		start := time.Now()
		err := Retry(ctx, op, NewConstantBackoffPolicy(5*time.Second), nil)

		assert.Equal(t, context.Canceled, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		testErr := errors.New("test error")
		op := func(_ context.Context) error {
			attempts++
			return testErr
		}

		policy := NewConstantBackoffPolicy(time.Millisecond)
		policy.MaxRetries = 3
		err := Retry(context.Background(), op, policy, nil)

		assert.Equal(t, testErr, err)
		assert.Equal(t, 4, attempts) // Initial + 3 retries
	})

	t.Run("NoRetry", func(t *testing.T) {
		t.Parallel()
		var attempts atomic.Int32
		op := func(_ context.Context) error {
			attempts.Add(1)
			return errors.New("fail")
		}

		err := Retry(context.Background(), op, NoRetry, nil)

		assert.Error(t, err)
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("ExponentialBackoffWithJitter", func(t *testing.T) {
		t.Parallel()
		var attempts atomic.Int32
		op := func(_ context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("retry me")
			}
			return nil
		}

		base := NewExponentialBackoffPolicy(time.Millisecond)
		base.MaxInterval = 10 * time.Millisecond

		err := Retry(context.Background(), op, WithJitter(base, FullJitter), nil)

		assert.NoError(t, err)
		assert.Equal(t, int32(3), attempts.Load())
	})
}
