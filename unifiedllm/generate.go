package unifiedllm

import (
	"context"
	"strings"
)

// GenerateOptions configures a single-prompt Generate call.
type GenerateOptions struct {
	Provider      string
	Model         string
	System        string
	Prompt        string    // simple text prompt (mutually exclusive with Messages)
	Messages      []Message // full conversation (mutually exclusive with Prompt)
	Temperature   *float64
	MaxTokens     *int
	StopSequences []string
}

// Generate builds a Request from opts and sends it through the client's
// middleware. Invalid options fail before any provider is called.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (*Response, error) {
	if opts.Prompt != "" && len(opts.Messages) > 0 {
		return nil, validationError(opts.Provider, "cannot specify both prompt and messages")
	}

	messages := opts.Messages
	if opts.Prompt != "" {
		messages = []Message{UserMessage(opts.Prompt)}
	}
	if len(messages) == 0 || strings.TrimSpace(messages[len(messages)-1].Content) == "" {
		return nil, validationError(opts.Provider, "prompt is empty")
	}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}

	return c.Complete(ctx, Request{
		Model:         opts.Model,
		Messages:      messages,
		Provider:      opts.Provider,
		Temperature:   opts.Temperature,
		MaxTokens:     opts.MaxTokens,
		StopSequences: opts.StopSequences,
	})
}

func validationError(providerID, msg string) *Error {
	return &Error{
		Message:    msg,
		Kind:       KindValidation,
		ProviderID: CanonicalProviderID(providerID),
		Code:       string(CategoryInvalidRequest),
		Category:   CategoryInvalidRequest,
		Severity:   SeverityFor(CategoryInvalidRequest),
	}
}
