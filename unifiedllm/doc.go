// Package unifiedllm is a provider-agnostic client for generative-AI APIs
// with a resilience core: error classification, severity mapping, retries
// with exponential backoff, and per-provider circuit breakers.
//
// # Classification
//
// Every provider failure is mapped to one ErrorCategory by ordered,
// case-insensitive matching over the error text, its Go type name, and any
// HTTP status carried by an SDK error. Generic signals are checked first,
// then the provider's own rule:
//
//	cat := unifiedllm.Classify(err, "anthropic")
//	sev := unifiedllm.SeverityFor(cat)
//
// # Retries
//
// A RetryExecutor retries failures whose category is in
// RetryConfig.RetryableCategories, waiting
// min(BaseDelay*BackoffMultiplier^(n-1), MaxDelay) before retry n, halved at
// random when jitter is on. Callers only ever see the final failure, as an
// *Error:
//
//	d := unifiedllm.NewDispatcher()
//	resp, err := unifiedllm.ExecuteWithRetry(ctx, d, "openai", func(ctx context.Context) (*unifiedllm.Response, error) {
//	    return adapter.Complete(ctx, req)
//	})
//	if e, ok := unifiedllm.AsError(err); ok && e.Category == unifiedllm.CategoryAuthentication {
//	    // fix the key, retrying will not help
//	}
//
// The Dispatcher holds one executor per catalogued provider, tuned with the
// provider's base and max delay.
//
// # Circuit breaking
//
// A CircuitBreaker opens after FailureThreshold consecutive failures and
// rejects calls with ErrCircuitOpen until ResetTimeout has passed, then lets
// a single trial call through:
//
//	breakers := unifiedllm.NewBreakerSet(unifiedllm.DefaultCircuitBreakerConfig())
//	resp, err := unifiedllm.Guard(ctx, breakers.For("gemini"), call)
//
// # Client
//
// Client routes requests to registered ProviderAdapters and applies
// middleware. WithResilience composes both layers, breaker outermost:
//
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("anthropic", unifiedllm.NewAnthropicAdapter(key, "")),
//	    unifiedllm.WithResilience(d, breakers),
//	)
//	resp, err := client.Generate(ctx, unifiedllm.GenerateOptions{Prompt: "Hello"})
package unifiedllm
