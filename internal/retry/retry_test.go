package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-server/common/logger"
	"wallet-server/internal/breaker"
)

func TestMain(m *testing.M) {
	logger.InitLogger()
	m.Run()
}

func fastExec() *Executor {
	return New(Options{MaxRetries: 3, InitialDelay: time.Millisecond, Multiplier: 2.0})
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastExec().Do(context.Background(), nil, nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := fastExec().Do(context.Background(), nil, nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	boom := errors.New("still down")
	err := fastExec().Do(context.Background(), nil, nil, func(ctx context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	// 首次 + 3 次重试
	assert.Equal(t, 4, calls)
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	logical := errors.New("logical failure")
	err := fastExec().Do(context.Background(), nil, func(e error) bool { return false }, func(ctx context.Context) error {
		calls++
		return logical
	})
	require.ErrorIs(t, err, logical)
	assert.Equal(t, 1, calls)
}

func TestNonRetryableDoesNotTripBreaker(t *testing.T) {
	br := breaker.New("dep", breaker.Options{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	err := fastExec().Do(context.Background(), br, func(e error) bool { return false }, func(ctx context.Context) error {
		return errors.New("logical failure")
	})
	require.Error(t, err)
	assert.Equal(t, breaker.StateClosed, br.State())
}

func TestBreakerOpenRejectsWithoutCalling(t *testing.T) {
	br := breaker.New("dep", breaker.Options{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	br.RecordFailure() // 熔断

	calls := 0
	err := fastExec().Do(context.Background(), br, nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	var eo *breaker.ErrOpen
	require.ErrorAs(t, err, &eo)
	assert.Equal(t, 0, calls, "op must not run when breaker is open")
}

func TestRetryableFailuresTripBreakerMidway(t *testing.T) {
	br := breaker.New("dep", breaker.Options{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	calls := 0
	err := fastExec().Do(context.Background(), br, nil, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	// 两次失败后熔断，第三次尝试前被拒绝
	var eo *breaker.ErrOpen
	require.ErrorAs(t, err, &eo)
	assert.Equal(t, 2, calls)
	assert.Equal(t, breaker.StateOpen, br.State())
}

func TestContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := New(Options{MaxRetries: 5, InitialDelay: 200 * time.Millisecond, Multiplier: 2.0})

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- exec.Do(ctx, nil, nil, func(ctx context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.LessOrEqual(t, calls, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancel")
	}
}
