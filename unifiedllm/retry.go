package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig configures retry behavior with exponential backoff. It is
// read-only once handed to an executor.
type RetryConfig struct {
	MaxRetries          int           // retries after the initial attempt
	BaseDelay           time.Duration // delay before the first retry
	MaxDelay            time.Duration // cap on any single delay
	BackoffMultiplier   float64       // growth factor per retry
	UseJitter           bool          // scale delays by uniform(0.5, 1.0)
	RetryableCategories CategorySet
}

// DefaultRetryableCategories are the transient failure categories.
func DefaultRetryableCategories() CategorySet {
	return NewCategorySet(CategoryNetwork, CategoryTimeout, CategoryRateLimit, CategoryServerError)
}

// DefaultRetryConfig returns the policy used for providers without their
// own tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:          3,
		BaseDelay:           time.Second,
		MaxDelay:            30 * time.Second,
		BackoffMultiplier:   2.0,
		UseJitter:           true,
		RetryableCategories: DefaultRetryableCategories(),
	}
}

// Validate reports the first violated constraint.
func (c RetryConfig) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries cannot be negative (got %d)", c.MaxRetries)
	case c.BaseDelay <= 0:
		return fmt.Errorf("base delay must be > 0 (got %v)", c.BaseDelay)
	case c.MaxDelay <= 0:
		return fmt.Errorf("max delay must be > 0 (got %v)", c.MaxDelay)
	case c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("max delay %v is below base delay %v", c.MaxDelay, c.BaseDelay)
	case c.BackoffMultiplier <= 1:
		return fmt.Errorf("backoff multiplier must be > 1 (got %g)", c.BackoffMultiplier)
	}
	for cat := range c.RetryableCategories {
		if !cat.Valid() {
			return fmt.Errorf("unknown retryable category %q", cat)
		}
	}
	return nil
}

// clone returns a copy that shares no mutable state with c.
func (c RetryConfig) clone() RetryConfig {
	c.RetryableCategories = c.RetryableCategories.Clone()
	return c
}

// normalized replaces values that would break the delay arithmetic.
func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.RetryableCategories == nil {
		c.RetryableCategories = def.RetryableCategories
	}
	return c
}

// delay computes the wait before retry number attempt (1-based). The result
// is rounded to the millisecond, never exceeds MaxDelay, and is > 0 for
// attempt >= 1.
func (c RetryConfig) delay(attempt int, random func() float64) time.Duration {
	if attempt < 1 {
		return 0
	}
	raw := float64(c.BaseDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	capped := math.Min(raw, float64(c.MaxDelay))
	if c.UseJitter {
		capped *= 0.5 + 0.5*random()
	}
	d := time.Duration(math.Round(capped/float64(time.Millisecond))) * time.Millisecond
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if d <= 0 {
		d = min(time.Millisecond, c.MaxDelay)
	}
	return d
}

// RetryExecutor runs operations with classification-driven retries. One
// executor is safe for concurrent use; calls share no mutable state.
type RetryExecutor struct {
	cfg        RetryConfig
	logger     Logger
	recorder   Recorder
	clock      clockwork.Clock
	random     func() float64
	onRetry    func(pe *ProcessedError, attempt int, delay time.Duration)
	classifier *Classifier
}

// ExecutorOption configures a RetryExecutor.
type ExecutorOption func(*RetryExecutor)

// WithLogger sets the logger.
func WithLogger(l Logger) ExecutorOption {
	return func(e *RetryExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *RetryExecutor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock sets the clock used for backoff waits and timestamps.
func WithClock(c clockwork.Clock) ExecutorOption {
	return func(e *RetryExecutor) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRandom sets the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) ExecutorOption {
	return func(e *RetryExecutor) {
		if fn != nil {
			e.random = fn
		}
	}
}

// WithOnRetry registers a callback invoked before each backoff wait.
func WithOnRetry(fn func(pe *ProcessedError, attempt int, delay time.Duration)) ExecutorOption {
	return func(e *RetryExecutor) {
		e.onRetry = fn
	}
}

// WithClassifier replaces the built-in classifier.
func WithClassifier(c *Classifier) ExecutorOption {
	return func(e *RetryExecutor) {
		if c != nil {
			e.classifier = c
		}
	}
}

// NewRetryExecutor builds an executor. Out-of-range config values fall back
// to defaults; run cfg.Validate first to reject them instead.
func NewRetryExecutor(cfg RetryConfig, opts ...ExecutorOption) *RetryExecutor {
	e := &RetryExecutor{
		cfg:        cfg.clone().normalized(),
		logger:     NopLogger{},
		recorder:   NoopRecorder{},
		clock:      clockwork.NewRealClock(),
		random:     rand.Float64,
		classifier: defaultClassifier,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns a copy of the executor's configuration.
func (e *RetryExecutor) Config() RetryConfig {
	return e.cfg.clone()
}

// CalculateRetryDelay returns the wait before retry number attempt (1-based).
func (e *RetryExecutor) CalculateRetryDelay(attempt int) time.Duration {
	return e.cfg.delay(attempt, e.random)
}

// ProcessError classifies err without running anything. A retryable result
// carries the delay for the first retry.
func (e *RetryExecutor) ProcessError(err error, providerID string, callContext map[string]any) *ProcessedError {
	pe := buildProcessedError(e.classifier, err, providerID, callContext, e.cfg.RetryableCategories, e.clock.Now())
	if pe.IsRetryable {
		pe = pe.withRetryDelay(e.CalculateRetryDelay(1))
	}
	return pe
}

// CallOption adjusts a single call without touching the executor.
type CallOption func(*callSettings)

type callSettings struct {
	cfg     RetryConfig
	context map[string]any
}

// WithCallContext merges kv into the metadata context of every failure.
func WithCallContext(kv map[string]any) CallOption {
	return func(s *callSettings) {
		if s.context == nil {
			s.context = make(map[string]any, len(kv))
		}
		maps.Copy(s.context, kv)
	}
}

// WithRetryOverride edits a per-call copy of the retry config.
func WithRetryOverride(fn func(*RetryConfig)) CallOption {
	return func(s *callSettings) {
		fn(&s.cfg)
	}
}

func (e *RetryExecutor) settings(opts []CallOption) callSettings {
	s := callSettings{cfg: e.cfg.clone()}
	for _, opt := range opts {
		opt(&s)
	}
	s.cfg = s.cfg.normalized()
	return s
}

// Do runs op until it succeeds, fails with a non-retryable category, or
// exhausts MaxRetries. Every failure it returns is an *Error. If ctx ends
// during a backoff wait the last failure is returned with
// Metadata["aborted"] set.
func (e *RetryExecutor) Do(ctx context.Context, providerID string, op func(ctx context.Context) error, opts ...CallOption) error {
	s := e.settings(opts)
	cfg := s.cfg

	for attempt := 0; ; attempt++ {
		err := invoke(ctx, op)
		if err == nil {
			if attempt > 0 {
				logSafely(func() {
					e.logger.Debug("provider call recovered", map[string]any{"provider": providerID, "attempts": attempt + 1})
				})
			}
			return nil
		}

		callCtx := make(map[string]any, len(s.context)+2)
		maps.Copy(callCtx, s.context)
		callCtx["attempt"] = attempt
		callCtx["max_retries"] = cfg.MaxRetries

		pe := buildProcessedError(e.classifier, err, providerID, callCtx, cfg.RetryableCategories, e.clock.Now())
		e.recorder.IncFailure(providerID, pe.Category, pe.Severity)

		if !pe.IsRetryable || attempt >= cfg.MaxRetries {
			if pe.IsRetryable {
				e.recorder.IncRetriesExhausted(providerID, pe.Category)
			}
			logProcessed(e.logger, "provider call failed", pe, map[string]any{"attempts": attempt + 1})
			return pe.ToError()
		}

		delay := cfg.delay(attempt+1, e.random)
		pe = pe.withRetryDelay(delay)
		logProcessed(e.logger, "provider call failed, retrying", pe, map[string]any{
			"delay_ms":     delay.Milliseconds(),
			"next_attempt": attempt + 1,
		})
		e.recorder.IncRetry(providerID, pe.Category)
		e.recorder.ObserveRetryDelay(providerID, delay)
		if e.onRetry != nil {
			e.onRetry(pe, attempt+1, delay)
		}

		select {
		case <-ctx.Done():
			return abortedError(pe, ctx.Err())
		case <-e.clock.After(delay):
		}
		if ctx.Err() != nil {
			return abortedError(pe, ctx.Err())
		}
	}
}

// Execute is the generic form of RetryExecutor.Do.
func Execute[T any](ctx context.Context, e *RetryExecutor, providerID string, op func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	var result T
	err := e.Do(ctx, providerID, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// invoke runs op, turning a panic into an error so it is classified like
// any other failure.
func invoke(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %w", CoerceError(r))
		}
	}()
	return op(ctx)
}

func abortedError(pe *ProcessedError, cause error) *Error {
	out := pe.ToError()
	out.Metadata["aborted"] = cause.Error()
	out.Cause = errors.Join(pe.OriginalError, cause)
	return out
}
