package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) *Config {
	return &Config{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestConfig_Getters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		retries int
		jitter  float64
	}{
		{"nil config", nil, DefaultMaxRetries, DefaultJitterFactor},
		{"zero value", &Config{}, DefaultMaxRetries, DefaultJitterFactor},
		{"disabled", &Config{MaxRetries: -1}, 0, DefaultJitterFactor},
		{"custom", &Config{MaxRetries: 5, JitterFactor: 3}, 5, MaxJitterFactor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.retries, tt.cfg.GetMaxRetries())
			assert.Equal(t, tt.jitter, tt.cfg.GetJitterFactor())
			assert.Positive(t, tt.cfg.GetInitialBackoff())
			assert.Positive(t, tt.cfg.GetMaxBackoff())
		})
	}
}

func TestDo(t *testing.T) {
	t.Parallel()

	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")

	tests := []struct {
		name         string
		retries      int
		failures     int
		failWith     error
		shouldRetry  func(error) bool
		wantErr      error
		wantAttempts int
	}{
		{name: "first try", retries: 2, wantAttempts: 1},
		{name: "succeeds after retries", retries: 3, failures: 2, failWith: errTransient, wantAttempts: 3},
		{name: "exhausted", retries: 2, failures: 10, failWith: errTransient, wantErr: errTransient, wantAttempts: 3},
		{name: "permanent", retries: 3, failures: 10, failWith: Permanent(errFatal), wantErr: errFatal, wantAttempts: 1},
		{
			name: "should retry rejects", retries: 3, failures: 10, failWith: errFatal,
			shouldRetry: func(err error) bool { return !errors.Is(err, errFatal) },
			wantErr:     errFatal, wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			attempts := 0
			var retried []int
			err := Do(context.Background(), fastConfig(tt.retries), func(context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return tt.failWith
				}
				return nil
			}, &Options{
				ShouldRetry: tt.shouldRetry,
				OnRetry:     func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Len(t, retried, tt.wantAttempts-1)
		})
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, nil, func(context.Context) error {
		called = true
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDo_CancelDuringBackoffReturnsLastError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	errBoom := errors.New("boom")

	err := Do(ctx, &Config{MaxRetries: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}, func(context.Context) error {
		cancel()
		return errBoom
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, 100*time.Millisecond, time.Second, 0))
	assert.Equal(t, 400*time.Millisecond, CalculateBackoff(2, 100*time.Millisecond, time.Second, 0))
	assert.Equal(t, time.Second, CalculateBackoff(10, 100*time.Millisecond, time.Second, 0))

	jittered := CalculateBackoff(1, 100*time.Millisecond, time.Second, 0.5)
	assert.GreaterOrEqual(t, jittered, 200*time.Millisecond)
	assert.LessOrEqual(t, jittered, 300*time.Millisecond)
}
