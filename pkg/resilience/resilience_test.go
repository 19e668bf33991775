package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/huksley/haproxy-acme-validation-plugin/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := resilience.RetryWithBackoff(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	},
		resilience.WithInitialDelay(time.Millisecond),
		resilience.WithMaxRetries(5),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsAtMaxRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := resilience.RetryWithBackoff(context.Background(), func() error {
		attempts++
		return errors.New("still broken")
	},
		resilience.WithInitialDelay(time.Millisecond),
		resilience.WithMaxRetries(2),
	)

	require.Error(t, err)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)
}

func TestRetryHonorsPermanentError(t *testing.T) {
	t.Parallel()

	attempts := 0
	wantErr := errors.New("bad request")
	err := resilience.RetryWithBackoff(context.Background(), func() error {
		attempts++
		return wantErr
	},
		resilience.WithInitialDelay(time.Millisecond),
		resilience.WithMaxRetries(5),
		resilience.WithRetryClassifier(func(error) bool { return false }),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, attempts)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := resilience.RetryWithBackoff(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	},
		resilience.WithInitialDelay(10*time.Millisecond),
	)

	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2)
}

func TestRetryNotifiesOnRetry(t *testing.T) {
	t.Parallel()

	var notified int
	attempts := 0
	err := resilience.RetryWithBackoff(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	},
		resilience.WithInitialDelay(time.Millisecond),
		resilience.WithOnRetry(func(err error, d time.Duration) { notified++ }),
	)

	require.NoError(t, err)
	assert.Equal(t, 1, notified)
}

func TestDefaultClassifier(t *testing.T) {
	t.Parallel()

	assert.False(t, resilience.IsRetryable(nil))
	assert.False(t, resilience.IsRetryable(context.Canceled))
	assert.False(t, resilience.IsRetryable(context.DeadlineExceeded))
	assert.True(t, resilience.IsRetryable(errors.New("connection refused")))
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := resilience.NewServiceBreaker("ocsp",
		resilience.WithFailureThreshold(2),
		resilience.WithTimeout(time.Minute),
	)

	boom := errors.New("responder down")
	require.Error(t, b.Execute(func() error { return boom }))
	require.Error(t, b.Execute(func() error { return boom }))

	assert.True(t, b.IsOpen())

	// While open, the operation itself must not run.
	ran := false
	err := b.Execute(func() error { ran = true; return nil })
	require.Error(t, err)
	assert.False(t, ran)
}

func TestBreakerExecuteWithResult(t *testing.T) {
	t.Parallel()

	b := resilience.NewServiceBreaker("ocsp")
	got, err := resilience.ExecuteWithResult(b, func() ([]byte, error) {
		return []byte("staple"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("staple"), got)
	assert.Equal(t, "closed", b.State())
}
