package unifiedllm

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
		UseJitter:         false,
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCalculateRetryDelay(t *testing.T) {
	ex := NewRetryExecutor(testRetryConfig())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 0},
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{20, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ex.CalculateRetryDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestCalculateRetryDelayRoundsToMillisecond(t *testing.T) {
	ex := NewRetryExecutor(RetryConfig{
		MaxRetries:        5,
		BaseDelay:         150 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 1.5,
	})
	assert.Equal(t, 225*time.Millisecond, ex.CalculateRetryDelay(2))
	assert.Equal(t, 338*time.Millisecond, ex.CalculateRetryDelay(3))
}

func TestCalculateRetryDelayMonotonicWithoutJitter(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.UseJitter = false
	ex := NewRetryExecutor(cfg)

	prev := time.Duration(0)
	for n := 1; n <= 30; n++ {
		d := ex.CalculateRetryDelay(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, cfg.MaxDelay, "attempt %d", n)
		assert.Positive(t, d)
		prev = d
	}
}

func TestCalculateRetryDelayJitterBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	cfg := testRetryConfig()
	cfg.UseJitter = true
	ex := NewRetryExecutor(cfg, WithRandom(rng.Float64))

	noJitter := NewRetryExecutor(testRetryConfig())
	for i := 0; i < 200; i++ {
		n := i%6 + 1
		raw := noJitter.CalculateRetryDelay(n)
		d := ex.CalculateRetryDelay(n)
		assert.GreaterOrEqual(t, d, raw/2, "attempt %d", n)
		assert.LessOrEqual(t, d, raw, "attempt %d", n)
	}
}

func TestCalculateRetryDelayJitterExtremes(t *testing.T) {
	cfg := testRetryConfig()
	cfg.UseJitter = true

	low := NewRetryExecutor(cfg, WithRandom(func() float64 { return 0 }))
	assert.Equal(t, 50*time.Millisecond, low.CalculateRetryDelay(1))
	assert.Equal(t, 500*time.Millisecond, low.CalculateRetryDelay(10))

	high := NewRetryExecutor(cfg, WithRandom(func() float64 { return 0.9999999 }))
	assert.Equal(t, 100*time.Millisecond, high.CalculateRetryDelay(1))
	assert.Equal(t, time.Second, high.CalculateRetryDelay(10))
}

func TestDoNetworkErrorScenario(t *testing.T) {
	ctx := testContext(t)
	fc := clockwork.NewFakeClock()

	var delays []time.Duration
	ex := NewRetryExecutor(testRetryConfig(),
		WithClock(fc),
		WithOnRetry(func(_ *ProcessedError, _ int, d time.Duration) {
			delays = append(delays, d)
		}),
	)

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- ex.Do(ctx, "openai", func(context.Context) error {
			calls.Add(1)
			return errors.New("Network error")
		})
	}()

	for _, d := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(d)
	}

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		t.Fatal("executor did not finish")
	}

	assert.EqualValues(t, 4, calls.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindProvider, e.Kind)
	assert.Equal(t, CategoryNetwork, e.Category)
	assert.True(t, e.Retryable)
	assert.Equal(t, "Network error", e.OriginalMessage())
	assert.Equal(t, 3, e.Metadata["attempt"])
	assert.Equal(t, 3, e.Metadata["max_retries"])
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	ex := NewRetryExecutor(testRetryConfig(), WithClock(clockwork.NewFakeClock()))

	var calls int
	err := ex.Do(context.Background(), "openai", func(context.Context) error {
		calls++
		return errors.New("Invalid API key")
	})

	assert.Equal(t, 1, calls)
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CategoryAuthentication, e.Category)
	assert.Equal(t, SeverityCritical, e.Severity)
	assert.False(t, e.Retryable)
	assert.Equal(t, "Authentication with OpenAI failed. Please check your API key configuration.", e.Message)
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	ctx := testContext(t)
	fc := clockwork.NewFakeClock()
	ex := NewRetryExecutor(testRetryConfig(), WithClock(fc))

	var calls atomic.Int32
	done := make(chan struct {
		v   string
		err error
	}, 1)
	go func() {
		v, err := Execute(ctx, ex, "anthropic", func(context.Context) (string, error) {
			if calls.Add(1) < 3 {
				return "", errors.New("529 overloaded")
			}
			return "ok", nil
		})
		done <- struct {
			v   string
			err error
		}{v, err}
	}()

	for _, d := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond} {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(d)
	}

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "ok", res.v)
	assert.EqualValues(t, 3, calls.Load())
}

func TestDoZeroRetries(t *testing.T) {
	cfg := testRetryConfig()
	cfg.MaxRetries = 0
	ex := NewRetryExecutor(cfg, WithClock(clockwork.NewFakeClock()))

	var calls int
	err := ex.Do(context.Background(), "gemini", func(context.Context) error {
		calls++
		return errors.New("service unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsRetryable(err))
}

func TestDoAbortsWhenContextCancelledDuringBackoff(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ex := NewRetryExecutor(testRetryConfig(), WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- ex.Do(ctx, "openai", func(context.Context) error {
			calls.Add(1)
			return errors.New("connection reset")
		})
	}()

	require.NoError(t, fc.BlockUntilContext(testContext(t), 1))
	cancel()

	err := <-done
	assert.EqualValues(t, 1, calls.Load())
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CategoryNetwork, e.Category)
	assert.Equal(t, context.Canceled.Error(), e.Metadata["aborted"])
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoRecoversPanics(t *testing.T) {
	ex := NewRetryExecutor(testRetryConfig(), WithClock(clockwork.NewFakeClock()))

	err := ex.Do(context.Background(), "openai", func(context.Context) error {
		panic("boom")
	})
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CategoryUnknown, e.Category)
	assert.Contains(t, e.OriginalMessage(), "boom")
}

func TestDoCallContextInMetadata(t *testing.T) {
	ex := NewRetryExecutor(testRetryConfig(), WithClock(clockwork.NewFakeClock()))

	err := ex.Do(context.Background(), "openai", func(context.Context) error {
		return errors.New("content policy violation")
	}, WithCallContext(map[string]any{"request_id": "req-1"}))

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CategoryContentPolicy, e.Category)
	assert.Equal(t, "req-1", e.Metadata["request_id"])
	assert.Equal(t, 0, e.Metadata["attempt"])
	assert.NotEmpty(t, e.Metadata["error_id"])
}

func TestRetryOverrideDoesNotMutateExecutor(t *testing.T) {
	ctx := testContext(t)
	fc := clockwork.NewFakeClock()
	ex := NewRetryExecutor(testRetryConfig(), WithClock(fc))

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- ex.Do(ctx, "openai", func(context.Context) error {
			calls.Add(1)
			return errors.New("unauthorized")
		}, WithRetryOverride(func(c *RetryConfig) {
			c.MaxRetries = 1
			c.BaseDelay = 10 * time.Millisecond
			c.RetryableCategories = c.RetryableCategories.Clone()
			c.RetryableCategories[CategoryAuthentication] = struct{}{}
		}))
	}()

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(10 * time.Millisecond)
	require.Error(t, <-done)

	assert.EqualValues(t, 2, calls.Load())
	cfg := ex.Config()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.False(t, cfg.RetryableCategories.Contains(CategoryAuthentication))
}

func TestRetryConfigValidate(t *testing.T) {
	require.NoError(t, DefaultRetryConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*RetryConfig)
	}{
		{"negative retries", func(c *RetryConfig) { c.MaxRetries = -1 }},
		{"zero base", func(c *RetryConfig) { c.BaseDelay = 0 }},
		{"max below base", func(c *RetryConfig) { c.MaxDelay = c.BaseDelay / 2 }},
		{"multiplier one", func(c *RetryConfig) { c.BackoffMultiplier = 1 }},
		{"unknown category", func(c *RetryConfig) { c.RetryableCategories = NewCategorySet("flaky") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetryConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNonGrowingMultiplierFallsBackToDefault(t *testing.T) {
	for _, m := range []float64{0.5, 1} {
		cfg := testRetryConfig()
		cfg.BackoffMultiplier = m
		ex := NewRetryExecutor(cfg)
		assert.Equal(t, 2.0, ex.Config().BackoffMultiplier)

		prev := time.Duration(0)
		for n := 1; n <= 4; n++ {
			d := ex.CalculateRetryDelay(n)
			assert.GreaterOrEqual(t, d, prev, "retry %d", n)
			prev = d
		}
	}
}

func TestNewRetryExecutorNilCategoriesUseDefaults(t *testing.T) {
	ex := NewRetryExecutor(testRetryConfig())
	set := ex.Config().RetryableCategories
	for _, c := range []ErrorCategory{CategoryNetwork, CategoryTimeout, CategoryRateLimit, CategoryServerError} {
		assert.True(t, set.Contains(c), c)
	}
	assert.False(t, set.Contains(CategoryQuotaExceeded))
}

func TestExecutorProcessErrorCarriesFirstDelay(t *testing.T) {
	ex := NewRetryExecutor(testRetryConfig())

	pe := ex.ProcessError(errors.New("Rate limit exceeded"), "openai", nil)
	assert.Equal(t, CategoryRateLimit, pe.Category)
	assert.Equal(t, 100*time.Millisecond, pe.RetryDelay)

	pe = ex.ProcessError(errors.New("Invalid API key"), "openai", nil)
	assert.Zero(t, pe.RetryDelay)
}
