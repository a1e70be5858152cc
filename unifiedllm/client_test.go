package unifiedllm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// mockAdapter is a test double for ProviderAdapter. Errors in errs are
// returned in order before the response.
type mockAdapter struct {
	name     string
	response *Response
	errs     []error
	closeErr error

	mu       sync.Mutex
	calls    int
	requests []Request
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		if len(m.errs) > 1 {
			m.errs = m.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return m.response, nil
}

func (m *mockAdapter) Close() error { return m.closeErr }

func (m *mockAdapter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockAdapter) lastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:           "test_resp",
			Model:        "test-model",
			Provider:     name,
			Message:      AssistantMessage(text),
			FinishReason: FinishStop,
			Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text())
	}
	if got := mock.lastRequest().Provider; got != "test-provider" {
		t.Errorf("expected request provider %q, got %q", "test-provider", got)
	}
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	resp, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "OpenAI response" {
		t.Errorf("expected default provider response, got %q", resp.Text())
	}

	resp, err = client.Complete(context.Background(), Request{
		Provider: "claude",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("expected alias to route to anthropic, got %q", resp.Text())
	}
}

func TestClientRoutesByModel(t *testing.T) {
	client := NewClient(
		WithProvider("openai", newMockAdapter("openai", "gpt")),
		WithProvider("anthropic", newMockAdapter("anthropic", "claude")),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "opus",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "claude" {
		t.Errorf("expected model to select anthropic, got %q", resp.Text())
	}
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{
		Messages: []Message{UserMessage("Hi")},
	})
	e, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind != KindConfiguration {
		t.Errorf("expected configuration error, got %s", e.Kind)
	}
}

func TestClientUnregisteredProvider(t *testing.T) {
	client := NewClient(WithProvider("openai", newMockAdapter("openai", "x")))
	_, err := client.Complete(context.Background(), Request{
		Provider: "gemini",
		Messages: []Message{UserMessage("Hi")},
	})
	e, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind != KindConfiguration || e.ProviderID != "gemini" {
		t.Errorf("unexpected error: %+v", e)
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	var order []string
	record := func(name string) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			order = append(order, name+":before")
			resp, err := next(ctx, req)
			order = append(order, name+":after")
			return resp, err
		}
	}

	client := NewClient(
		WithProvider("test", newMockAdapter("test", "ok")),
		WithMiddleware(record("first"), record("second")),
	)
	if _, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"first:before", "second:before", "second:after", "first:after"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	client.RegisterProvider("Google", newMockAdapter("gemini", "registered"))

	resp, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "registered" {
		t.Errorf("expected %q, got %q", "registered", resp.Text())
	}
}

func TestClientAutoSingleProviderDefault(t *testing.T) {
	client := NewClient(WithProvider("only", newMockAdapter("only", "single")))
	resp, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "single" {
		t.Errorf("expected %q, got %q", "single", resp.Text())
	}
}

func TestClientClose(t *testing.T) {
	broken := newMockAdapter("gemini", "x")
	broken.closeErr = errors.New("close failed")
	client := NewClient(
		WithProvider("openai", newMockAdapter("openai", "x")),
		WithProvider("gemini", broken),
	)
	if err := client.Close(); !errors.Is(err, broken.closeErr) {
		t.Errorf("expected close error, got %v", err)
	}
}

func TestGenerateWithMock(t *testing.T) {
	mock := newMockAdapter("anthropic", "Generated")
	client := NewClient(WithProvider("anthropic", mock))

	temp := 0.2
	resp, err := client.Generate(context.Background(), GenerateOptions{
		Model:       "sonnet",
		System:      "Be brief.",
		Prompt:      "Hello",
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Generated" {
		t.Errorf("expected %q, got %q", "Generated", resp.Text())
	}

	req := mock.lastRequest()
	if req.SystemPrompt() != "Be brief." {
		t.Errorf("expected system prompt, got %q", req.SystemPrompt())
	}
	conv := req.Conversation()
	if len(conv) != 1 || conv[0].Content != "Hello" {
		t.Errorf("unexpected conversation: %+v", conv)
	}
	if req.Model != "sonnet" || req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("options not forwarded: %+v", req)
	}
}

func TestGenerateWithMessages(t *testing.T) {
	mock := newMockAdapter("openai", "Reply")
	client := NewClient(WithProvider("openai", mock))

	_, err := client.Generate(context.Background(), GenerateOptions{
		Messages: []Message{
			UserMessage("What is 2+2?"),
			AssistantMessage("4"),
			UserMessage("And 3+3?"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(mock.lastRequest().Messages); got != 3 {
		t.Errorf("expected 3 messages, got %d", got)
	}
}

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name string
		opts GenerateOptions
	}{
		{"both prompt and messages", GenerateOptions{Prompt: "Hi", Messages: []Message{UserMessage("Hi")}}},
		{"empty", GenerateOptions{}},
		{"blank prompt", GenerateOptions{Messages: []Message{UserMessage("  ")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockAdapter("openai", "x")
			client := NewClient(WithProvider("openai", mock))

			_, err := client.Generate(context.Background(), tt.opts)
			e, ok := AsError(err)
			if !ok {
				t.Fatalf("expected *Error, got %v", err)
			}
			if e.Kind != KindValidation || e.Category != CategoryInvalidRequest {
				t.Errorf("expected validation error, got %+v", e)
			}
			if mock.callCount() != 0 {
				t.Error("provider must not be called for invalid options")
			}
		})
	}
}

func TestClientWithResilienceRetries(t *testing.T) {
	ctx := testContext(t)
	fc := clockwork.NewFakeClock()

	mock := newMockAdapter("openai", "recovered")
	mock.errs = []error{
		&ProviderError{Provider: "openai", StatusCode: 503, Message: "upstream"},
		errors.New("connection reset by peer"),
		nil,
	}
	client := NewClient(
		WithProvider("openai", mock),
		WithResilience(
			NewDispatcher(WithDefaultConfig(noJitter()), WithExecutorOptions(WithClock(fc))),
			NewBreakerSet(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute}),
		),
	)

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Generate(ctx, GenerateOptions{Prompt: "Hi"})
		done <- result{resp, err}
	}()

	for _, d := range []time.Duration{time.Second, 2 * time.Second} {
		if err := fc.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for backoff: %v", err)
		}
		fc.Advance(d)
	}

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		t.Fatal("generate did not finish")
	}
	if r.err != nil {
		t.Fatalf("unexpected error: %v", r.err)
	}
	if r.resp.Text() != "recovered" {
		t.Errorf("expected %q, got %q", "recovered", r.resp.Text())
	}
	if mock.callCount() != 3 {
		t.Errorf("expected 3 calls, got %d", mock.callCount())
	}
}

func TestClientWithResilienceOpensBreaker(t *testing.T) {
	mock := newMockAdapter("anthropic", "x")
	mock.errs = []error{errors.New("authentication_error: invalid x-api-key")}

	breakers := NewBreakerSet(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	client := NewClient(
		WithProvider("anthropic", mock),
		WithResilience(NewDispatcher(), breakers),
	)

	for i := 0; i < 2; i++ {
		_, err := client.Generate(context.Background(), GenerateOptions{Model: "opus", Prompt: "Hi"})
		e, ok := AsError(err)
		if !ok || e.Category != CategoryAuthentication {
			t.Fatalf("expected authentication error, got %v", err)
		}
		if e.Metadata["model"] != "opus" {
			t.Errorf("expected model in metadata, got %v", e.Metadata["model"])
		}
	}
	if mock.callCount() != 2 {
		t.Fatalf("authentication errors must not be retried, got %d calls", mock.callCount())
	}

	_, err := client.Generate(context.Background(), GenerateOptions{Prompt: "Hi"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if mock.callCount() != 2 {
		t.Errorf("open circuit must not call the provider, got %d calls", mock.callCount())
	}
	if breakers.For("anthropic").State() != StateOpen {
		t.Errorf("expected anthropic breaker open")
	}
}
