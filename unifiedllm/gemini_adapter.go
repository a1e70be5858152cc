package unifiedllm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	googleopt "google.golang.org/api/option"
)

// GeminiAdapter calls the Gemini API through the generative-ai-go client.
// Transport errors (*googleapi.Error, *apierror.APIError) pass through
// unchanged.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

// NewGeminiAdapter dials the Gemini API with apiKey.
func NewGeminiAdapter(ctx context.Context, apiKey string, opts ...googleopt.ClientOption) (*GeminiAdapter, error) {
	clientOpts := append([]googleopt.ClientOption{googleopt.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiAdapter{client: client, model: DefaultModel("gemini")}, nil
}

func (a *GeminiAdapter) Name() string {
	return "gemini"
}

func (a *GeminiAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	conv := req.Conversation()
	if len(conv) == 0 {
		return nil, &ProviderError{Provider: a.Name(), Message: "invalid request: no messages to send"}
	}

	modelName := resolveModel(req.Model, a.model)
	model := a.client.GenerativeModel(modelName)
	if system := req.SystemPrompt(); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	model.SetMaxOutputTokens(int32(req.maxTokens(defaultMaxTokens)))
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	if len(req.StopSequences) > 0 {
		model.StopSequences = req.StopSequences
	}

	cs := model.StartChat()
	cs.History = toGeminiHistory(conv[:len(conv)-1])

	resp, err := cs.SendMessage(ctx, genai.Text(conv[len(conv)-1].Content))
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		reason := "no candidates returned"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			reason = "prompt blocked: " + resp.PromptFeedback.BlockReason.String()
		}
		return nil, &ProviderError{Provider: a.Name(), Message: reason}
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	out := &Response{
		Model:        modelName,
		Provider:     a.Name(),
		Message:      AssistantMessage(text.String()),
		FinishReason: geminiFinishReason(cand.FinishReason),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Close releases the underlying client connection.
func (a *GeminiAdapter) Close() error {
	return a.client.Close()
}

func toGeminiHistory(messages []Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history
}

func geminiFinishReason(r genai.FinishReason) FinishReason {
	switch r {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return FinishContentFilter
	default:
		return FinishOther
	}
}
