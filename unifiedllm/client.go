package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client holds registered provider adapters, routes requests by provider id,
// and applies middleware.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter under its canonical id.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[CanonicalProviderID(name)] = adapter
	}
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = CanonicalProviderID(name)
	}
}

// WithMiddleware adds middleware to the client. The first registered runs
// outermost.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithResilience installs the circuit breaker outside the retry loop, so a
// call that exhausts its retries counts as one breaker failure. Either
// argument may be nil.
func WithResilience(d *Dispatcher, breakers *BreakerSet) ClientOption {
	return func(c *Client) {
		if breakers != nil {
			c.middleware = append(c.middleware, CircuitBreakerMiddleware(breakers))
		}
		if d != nil {
			c.middleware = append(c.middleware, RetryMiddleware(d))
		}
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds a provider adapter to the client.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := CanonicalProviderID(name)
	c.providers[id] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = id
	}
}

// resolveProvider picks the adapter for req: the named provider, then the
// default, then the provider owning req.Model in the catalog.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := CanonicalProviderID(req.Provider)
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, configurationError("", "no provider specified and no default provider configured")
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, configurationError(name, fmt.Sprintf("provider %q is not registered", name))
	}
	return adapter, nil
}

func configurationError(providerID, msg string) *Error {
	return &Error{
		Message:    msg,
		Kind:       KindConfiguration,
		ProviderID: providerID,
		Severity:   SeverityCritical,
	}
}

// Complete sends a blocking request through middleware to the resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	req.Provider = adapter.Name()

	handler := func(ctx context.Context, r Request) (*Response, error) {
		return adapter.Complete(ctx, r)
	}
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := handler
		handler = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}
	return handler(ctx, req)
}

// Close releases resources held by all registered providers.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for _, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RetryMiddleware runs the rest of the chain through the dispatcher's
// executor for the request's provider. The model is added to the failure
// context.
func RetryMiddleware(d *Dispatcher, opts ...CallOption) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		callOpts := make([]CallOption, 0, len(opts)+1)
		callOpts = append(callOpts, WithCallContext(map[string]any{"model": req.Model}))
		callOpts = append(callOpts, opts...)
		return ExecuteWithRetry(ctx, d, req.Provider, func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		}, callOpts...)
	}
}

// CircuitBreakerMiddleware guards the rest of the chain with the request
// provider's breaker.
func CircuitBreakerMiddleware(breakers *BreakerSet) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		return Guard(ctx, breakers.For(req.Provider), func(ctx context.Context) (*Response, error) {
			return next(ctx, req)
		})
	}
}
