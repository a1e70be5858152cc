package unifiedllm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter wraps a gollm.LLM and implements ProviderAdapter. gollm's own
// retries are disabled so the retry executor sees every failure.
//
// gollm keeps model and sampling settings on the LLM value, so calls are
// serialized to keep per-request overrides from leaking between requests.
type GollmAdapter struct {
	provider string
	model    string

	mu        sync.Mutex
	generate  func(ctx context.Context, prompt *gollm.Prompt) (string, error)
	setOption func(key string, value any)
}

// GollmAdapterOption configures a GollmAdapter.
type GollmAdapterOption func(*gollmAdapterConfig)

type gollmAdapterConfig struct {
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithGollmModel sets the default model for the adapter.
func WithGollmModel(model string) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.model = model
	}
}

// WithGollmMaxTokens sets the default max tokens.
func WithGollmMaxTokens(n int) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.maxTokens = n
	}
}

// WithGollmTemperature sets the default temperature.
func WithGollmTemperature(t float64) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.temperature = t
	}
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmAdapterOption {
	return func(c *gollmAdapterConfig) {
		c.extraOpts = append(c.extraOpts, opts...)
	}
}

// NewGollmAdapter creates a GollmAdapter for a catalogued provider. If
// apiKey is empty, gollm reads it from the environment.
func NewGollmAdapter(provider string, apiKey string, opts ...GollmAdapterOption) (*GollmAdapter, error) {
	id := CanonicalProviderID(provider)
	cfg := &gollmAdapterConfig{
		model:       DefaultModel(id),
		maxTokens:   defaultMaxTokens,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.model == "" {
		return nil, configurationError(id, fmt.Sprintf("no model configured for provider %q", provider))
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(id),
		gollm.SetModel(cfg.model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	llm, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", id, err)
	}
	return NewGollmAdapterFromLLM(id, cfg.model, llm), nil
}

// NewGollmAdapterFromLLM wraps an existing gollm.LLM.
func NewGollmAdapterFromLLM(provider, model string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{
		provider: CanonicalProviderID(provider),
		model:    model,
		generate: func(ctx context.Context, p *gollm.Prompt) (string, error) {
			return llm.Generate(ctx, p)
		},
		setOption: func(key string, value any) {
			llm.SetOption(key, value)
		},
	}
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string {
	return a.provider
}

// Complete sends a blocking request. Failures are returned as
// *ProviderError wrapping gollm's error.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := a.translateRequest(req)
	model := resolveModel(req.Model, a.model)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.setOption("model", model)
	if req.Temperature != nil {
		a.setOption("temperature", *req.Temperature)
	}
	a.setOption("max_tokens", req.maxTokens(defaultMaxTokens))

	text, err := a.generate(ctx, prompt)
	if err != nil {
		return nil, &ProviderError{Provider: a.provider, Message: err.Error(), Cause: err}
	}
	return a.buildResponse(req, model, text), nil
}

// translateRequest flattens the conversation into a single gollm prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var turns []string
	for _, msg := range req.Conversation() {
		switch msg.Role {
		case RoleUser:
			turns = append(turns, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				turns = append(turns, "[Assistant]: "+msg.Content)
			}
		}
	}

	var promptOpts []gollm.PromptOption
	if system := req.SystemPrompt(); system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}
	return gollm.NewPrompt(strings.Join(turns, "\n"), promptOpts...)
}

func (a *GollmAdapter) buildResponse(req Request, model, text string) *Response {
	// gollm does not surface usage; estimate at four characters per token.
	in := 0
	for _, m := range req.Messages {
		in += len(m.Content) / 4
	}
	out := len(text) / 4
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      AssistantMessage(text),
		FinishReason: FinishStop,
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}
