package unifiedllm

import (
	"context"
	"maps"
	"slices"
)

// Dispatcher routes calls to a retry executor tuned for each provider. It
// adds no retry logic of its own.
type Dispatcher struct {
	fallback *RetryExecutor
	handlers map[string]*RetryExecutor
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherSettings)

type dispatcherSettings struct {
	base      RetryConfig
	overrides map[string]RetryConfig
	execOpts  []ExecutorOption
}

// WithDefaultConfig sets the config that catalogued providers start from and
// that unknown providers use unchanged.
func WithDefaultConfig(cfg RetryConfig) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.base = cfg.clone()
	}
}

// WithProviderConfig replaces the derived config for one provider. Unknown
// ids get a dedicated executor too.
func WithProviderConfig(providerID string, cfg RetryConfig) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.overrides[CanonicalProviderID(providerID)] = cfg.clone()
	}
}

// WithExecutorOptions applies opts to every executor the dispatcher builds.
func WithExecutorOptions(opts ...ExecutorOption) DispatcherOption {
	return func(s *dispatcherSettings) {
		s.execOpts = append(s.execOpts, opts...)
	}
}

// NewDispatcher builds one executor per catalogued provider, using the
// provider's base and max delay over the default config.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	s := &dispatcherSettings{
		base:      DefaultRetryConfig(),
		overrides: make(map[string]RetryConfig),
	}
	for _, opt := range opts {
		opt(s)
	}

	d := &Dispatcher{
		fallback: NewRetryExecutor(s.base, s.execOpts...),
		handlers: make(map[string]*RetryExecutor, len(Providers)+len(s.overrides)),
	}
	for _, p := range Providers {
		cfg := s.base.clone()
		cfg.BaseDelay = p.BaseDelay
		cfg.MaxDelay = p.MaxDelay
		d.handlers[p.ID] = NewRetryExecutor(cfg, s.execOpts...)
	}
	for id, cfg := range s.overrides {
		d.handlers[id] = NewRetryExecutor(cfg, s.execOpts...)
	}
	return d
}

// GetHandlerForProvider returns the executor for providerID. Unknown
// providers get the default executor.
func (d *Dispatcher) GetHandlerForProvider(providerID string) *RetryExecutor {
	if h, ok := d.handlers[CanonicalProviderID(providerID)]; ok {
		return h
	}
	return d.fallback
}

// ProviderIDs lists the providers with a dedicated executor.
func (d *Dispatcher) ProviderIDs() []string {
	return slices.Sorted(maps.Keys(d.handlers))
}

// ProcessError classifies err with the provider's executor.
func (d *Dispatcher) ProcessError(err error, providerID string, callContext map[string]any) *ProcessedError {
	return d.GetHandlerForProvider(providerID).ProcessError(err, providerID, callContext)
}

// Do runs op through the provider's executor.
func (d *Dispatcher) Do(ctx context.Context, providerID string, op func(ctx context.Context) error, opts ...CallOption) error {
	return d.GetHandlerForProvider(providerID).Do(ctx, providerID, op, opts...)
}

// ExecuteWithRetry runs op through the provider's executor and returns its
// value.
func ExecuteWithRetry[T any](ctx context.Context, d *Dispatcher, providerID string, op func(ctx context.Context) (T, error), opts ...CallOption) (T, error) {
	return Execute(ctx, d.GetHandlerForProvider(providerID), providerID, op, opts...)
}
