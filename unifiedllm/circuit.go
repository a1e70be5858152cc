package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// BreakerState is the position of a circuit breaker in its cycle.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("BreakerState(%d)", int(s))
	}
}

func (s BreakerState) gaugeValue() float64 {
	return float64(s)
}

// CircuitBreakerConfig tunes a breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	ResetTimeout     time.Duration // quiet period before a trial call
}

// DefaultCircuitBreakerConfig returns threshold 5 and a 60s reset timeout.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second}
}

// Validate reports the first out-of-range value.
func (c CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be >= 1 (got %d)", c.FailureThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset timeout must be > 0 (got %v)", c.ResetTimeout)
	}
	return nil
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	Name         string       `json:"name"`
	State        BreakerState `json:"-"`
	StateName    string       `json:"state"`
	FailureCount int          `json:"failure_count"`
	LastFailure  time.Time    `json:"last_failure,omitzero"`
}

// CircuitBreaker stops calling a collaborator after repeated failures until
// a cool-down elapses. State is shared by every caller and guarded by mu.
//
// The open to half-open transition is checked lazily when a call arrives.
// While half-open exactly one trial call is admitted; every state change
// bumps generation so outcomes of calls admitted under an older state are
// ignored.
type CircuitBreaker struct {
	name          string
	cfg           CircuitBreakerConfig
	clock         clockwork.Clock
	logger        Logger
	recorder      Recorder
	onStateChange func(name string, from, to BreakerState)
	isFailure     func(error) bool

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	generation  uint64
	trialActive bool
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock sets the clock used for the reset timeout.
func WithBreakerClock(c clockwork.Clock) BreakerOption {
	return func(b *CircuitBreaker) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithBreakerLogger sets the logger.
func WithBreakerLogger(l Logger) BreakerOption {
	return func(b *CircuitBreaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithBreakerRecorder sets the metrics recorder.
func WithBreakerRecorder(r Recorder) BreakerOption {
	return func(b *CircuitBreaker) {
		if r != nil {
			b.recorder = r
		}
	}
}

// OnStateChange registers a hook called after each transition, outside the
// breaker's lock.
func OnStateChange(fn func(name string, from, to BreakerState)) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onStateChange = fn
	}
}

// WithFailurePredicate decides which errors count against the circuit.
// Errors it rejects neither trip nor reset the breaker.
func WithFailurePredicate(fn func(error) bool) BreakerOption {
	return func(b *CircuitBreaker) {
		if fn != nil {
			b.isFailure = fn
		}
	}
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// NewCircuitBreaker returns a closed breaker. Out-of-range config values
// fall back to DefaultCircuitBreakerConfig.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	b := &CircuitBreaker{
		name:      name,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		logger:    NopLogger{},
		recorder:  NoopRecorder{},
		isFailure: defaultIsFailure,
		state:     StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.recorder.SetBreakerState(name, StateClosed)
	return b
}

// Name returns the breaker's name.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the stored state. An open breaker whose timeout has elapsed
// reports open until the next call moves it to half-open.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot returns the breaker's state in one consistent read.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:         b.name,
		State:        b.state,
		StateName:    b.state.String(),
		FailureCount: b.failures,
		LastFailure:  b.lastFailure,
	}
}

type transition struct {
	from, to BreakerState
}

// Execute runs op unless the circuit is open. Rejections are *Error values
// with Code CIRCUIT_OPEN that match ErrCircuitOpen; op is not invoked.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	gen, t, err := b.admit()
	b.notify(t)
	if err != nil {
		return err
	}

	opErr := invoke(ctx, op)

	b.notify(b.record(gen, opErr))
	return opErr
}

// Guard is the generic form of CircuitBreaker.Execute.
func Guard[T any](ctx context.Context, b *CircuitBreaker, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (b *CircuitBreaker) admit() (uint64, *transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var t *transition
	if b.state == StateOpen && b.clock.Since(b.lastFailure) > b.cfg.ResetTimeout {
		t = b.setState(StateHalfOpen)
	}

	switch b.state {
	case StateOpen:
		return 0, t, b.reject("circuit open")
	case StateHalfOpen:
		if b.trialActive {
			return 0, t, b.reject("trial call in flight")
		}
		b.trialActive = true
	}
	return b.generation, t, nil
}

func (b *CircuitBreaker) reject(reason string) error {
	b.recorder.IncBreakerRejection(b.name)
	logSafely(func() {
		b.logger.Debug("circuit breaker rejected call", map[string]any{
			"breaker": b.name,
			"reason":  reason,
			"state":   b.state.String(),
		})
	})
	return newCircuitOpenError(b.name)
}

func (b *CircuitBreaker) record(gen uint64, err error) *transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return nil
	}
	failed := err != nil && b.isFailure(err)

	switch b.state {
	case StateHalfOpen:
		b.trialActive = false
		switch {
		case failed:
			b.failures++
			b.lastFailure = b.clock.Now()
			return b.setState(StateOpen)
		case err == nil:
			b.failures = 0
			return b.setState(StateClosed)
		}
	case StateClosed:
		switch {
		case failed:
			b.failures++
			b.lastFailure = b.clock.Now()
			if b.failures >= b.cfg.FailureThreshold {
				return b.setState(StateOpen)
			}
		case err == nil:
			b.failures = 0
		}
	}
	return nil
}

// setState must be called with mu held.
func (b *CircuitBreaker) setState(to BreakerState) *transition {
	from := b.state
	b.state = to
	b.generation++
	b.recorder.SetBreakerState(b.name, to)
	return &transition{from: from, to: to}
}

func (b *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	fields := map[string]any{
		"breaker": b.name,
		"from":    t.from.String(),
		"to":      t.to.String(),
	}
	logSafely(func() {
		if t.to == StateOpen {
			b.logger.Warn("circuit breaker opened", fields)
		} else {
			b.logger.Info("circuit breaker state changed", fields)
		}
	})
	if b.onStateChange != nil {
		b.onStateChange(b.name, t.from, t.to)
	}
}

// BreakerSet holds one breaker per provider, created on first use.
type BreakerSet struct {
	cfg  CircuitBreakerConfig
	opts []BreakerOption

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet returns an empty set whose breakers share cfg and opts.
func NewBreakerSet(cfg CircuitBreakerConfig, opts ...BreakerOption) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// For returns the breaker for providerID, creating it if needed. Aliases
// resolve to the canonical provider.
func (s *BreakerSet) For(providerID string) *CircuitBreaker {
	id := CanonicalProviderID(providerID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[id]; ok {
		return b
	}
	b := NewCircuitBreaker(id, s.cfg, s.opts...)
	s.breakers[id] = b
	return b
}

// Snapshots returns every breaker's snapshot ordered by name.
func (s *BreakerSet) Snapshots() []BreakerSnapshot {
	s.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		list = append(list, b)
	}
	s.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	slices.SortFunc(out, func(a, b BreakerSnapshot) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
