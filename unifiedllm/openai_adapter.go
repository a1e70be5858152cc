package unifiedllm

import (
	"context"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
)

// OpenAIAdapter calls the Chat Completions API. SDK retries are disabled;
// *openai.Error values are returned unchanged.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

// NewOpenAIAdapter builds an adapter. baseURL may be empty.
func NewOpenAIAdapter(apiKey, baseURL string, opts ...openaiopt.RequestOption) *OpenAIAdapter {
	reqOpts := []openaiopt.RequestOption{
		openaiopt.WithAPIKey(apiKey),
		openaiopt.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, openaiopt.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIAdapter{
		client: openai.NewClient(reqOpts...),
		model:  DefaultModel("openai"),
	}
}

func (a *OpenAIAdapter) Name() string {
	return "openai"
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	if system := req.SystemPrompt(); system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, m := range req.Conversation() {
		if m.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:            openai.F(msgs),
		Model:               openai.F(resolveModel(req.Model, a.model)),
		MaxCompletionTokens: openai.Int(int64(req.maxTokens(defaultMaxTokens))),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	chat, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(chat.Choices) == 0 {
		return nil, &ProviderError{Provider: a.Name(), Message: "response contained no choices"}
	}

	choice := chat.Choices[0]
	return &Response{
		ID:           chat.ID,
		Model:        chat.Model,
		Provider:     a.Name(),
		Message:      AssistantMessage(choice.Message.Content),
		FinishReason: normalizeFinishReason(string(choice.FinishReason)),
		Usage: Usage{
			InputTokens:  int(chat.Usage.PromptTokens),
			OutputTokens: int(chat.Usage.CompletionTokens),
			TotalTokens:  int(chat.Usage.TotalTokens),
		},
	}, nil
}
