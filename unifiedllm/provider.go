package unifiedllm

import "context"

// ProviderAdapter is implemented by every provider backend. Adapters return
// the vendor's own errors; classification happens in the retry layer.
type ProviderAdapter interface {
	// Name returns the canonical provider id ("openai", "anthropic", "gemini").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// defaultMaxTokens is used when a request does not set MaxTokens.
const defaultMaxTokens = 4096

// resolveModel expands catalog aliases and falls back to def when the
// request names no model.
func resolveModel(requested, def string) string {
	if requested == "" {
		return def
	}
	if info := GetModelInfo(requested); info != nil {
		return info.ID
	}
	return requested
}
