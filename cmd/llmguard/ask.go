package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/martinemde/llmguard/unifiedllm"
)

// AskCmd implements 'llmguard ask'.
type AskCmd struct {
	Provider string        `short:"p" help:"Provider id or alias" default:"anthropic"`
	Model    string        `short:"m" help:"Model id or alias (provider default when empty)"`
	System   string        `short:"s" help:"System prompt"`
	Backend  string        `help:"Adapter implementation" enum:"sdk,gollm" default:"sdk"`
	Timeout  time.Duration `help:"Overall deadline including retries" default:"2m"`
	Prompt   string        `arg:"" help:"Prompt to send"`
}

func (a *AskCmd) Run(g *Global) error {
	provider := unifiedllm.CanonicalProviderID(a.Provider)
	key, err := unifiedllm.APIKeyFromEnv(provider)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(g.Ctx, a.Timeout)
	defer cancel()

	adapter, err := a.adapter(ctx, provider, key)
	if err != nil {
		return err
	}

	d, err := g.Dispatcher()
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}
	client := unifiedllm.NewClient(
		unifiedllm.WithProvider(provider, adapter),
		unifiedllm.WithResilience(d, g.Breakers()),
	)
	defer client.Close()

	resp, err := client.Generate(ctx, unifiedllm.GenerateOptions{
		Provider: provider,
		Model:    a.Model,
		System:   a.System,
		Prompt:   a.Prompt,
	})
	if err != nil {
		if e, ok := unifiedllm.AsError(err); ok {
			fmt.Fprintln(os.Stderr, e.Message)
		}
		return err
	}

	g.Log.Debug().
		Str("model", resp.Model).
		Str("finish_reason", string(resp.FinishReason)).
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Msg("completion finished")
	fmt.Println(resp.Text())
	return nil
}

func (a *AskCmd) adapter(ctx context.Context, provider, key string) (unifiedllm.ProviderAdapter, error) {
	if a.Backend == "gollm" {
		return unifiedllm.NewGollmAdapter(provider, key)
	}
	switch provider {
	case "anthropic":
		return unifiedllm.NewAnthropicAdapter(key, os.Getenv("ANTHROPIC_BASE_URL")), nil
	case "openai":
		return unifiedllm.NewOpenAIAdapter(key, os.Getenv("OPENAI_BASE_URL")), nil
	case "gemini":
		return unifiedllm.NewGeminiAdapter(ctx, key)
	default:
		return nil, fmt.Errorf("no adapter for provider %q", provider)
	}
}
