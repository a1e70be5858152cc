package unifiedllm

import (
	"strings"
	"time"
)

// ProviderInfo describes a known vendor and its retry tuning.
type ProviderInfo struct {
	ID           string        `json:"id" yaml:"id"`
	DisplayName  string        `json:"display_name" yaml:"display_name"`
	Aliases      []string      `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	BaseDelay    time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	DefaultModel string        `json:"default_model" yaml:"default_model"`
	APIKeyEnv    []string      `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
}

// Providers is the built-in provider catalog. Delays follow each vendor's
// published rate-limit recovery guidance.
var Providers = []ProviderInfo{
	{
		ID: "openai", DisplayName: "OpenAI",
		BaseDelay: 1 * time.Second, MaxDelay: 60 * time.Second,
		DefaultModel: "gpt-5.2-mini",
		APIKeyEnv:    []string{"OPENAI_API_KEY"},
	},
	{
		ID: "anthropic", DisplayName: "Anthropic", Aliases: []string{"claude"},
		BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second,
		DefaultModel: "claude-sonnet-4-5",
		APIKeyEnv:    []string{"ANTHROPIC_API_KEY"},
	},
	{
		// Google documents truncated exponential backoff capped at 32s.
		ID: "gemini", DisplayName: "Google Gemini", Aliases: []string{"google"},
		BaseDelay: 1 * time.Second, MaxDelay: 32 * time.Second,
		DefaultModel: "gemini-3-flash-preview",
		APIKeyEnv:    []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	},
}

// GetProviderInfo returns the catalog entry for a provider id or alias, or nil.
func GetProviderInfo(providerID string) *ProviderInfo {
	id := strings.ToLower(strings.TrimSpace(providerID))
	for i := range Providers {
		if Providers[i].ID == id {
			return &Providers[i]
		}
		for _, alias := range Providers[i].Aliases {
			if alias == id {
				return &Providers[i]
			}
		}
	}
	return nil
}

// CanonicalProviderID resolves aliases to the catalog id. Unknown ids are
// returned lower-cased.
func CanonicalProviderID(providerID string) string {
	if info := GetProviderInfo(providerID); info != nil {
		return info.ID
	}
	return strings.ToLower(strings.TrimSpace(providerID))
}

// ProviderDisplayName returns the human-readable vendor name used in
// user-facing messages.
func ProviderDisplayName(providerID string) string {
	if info := GetProviderInfo(providerID); info != nil {
		return info.DisplayName
	}
	if providerID == "" {
		return "the AI provider"
	}
	return providerID
}

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog used to infer a provider from a model id.
var Models = []ModelInfo{
	// Anthropic
	{ID: "claude-opus-4-6", Provider: "anthropic", DisplayName: "Claude Opus 4.6", ContextWindow: 200000, Aliases: []string{"opus", "claude-opus"}},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5", ContextWindow: 200000, Aliases: []string{"sonnet", "claude-sonnet"}},

	// OpenAI
	{ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2", ContextWindow: 1047576, Aliases: []string{"gpt5"}},
	{ID: "gpt-5.2-mini", Provider: "openai", DisplayName: "GPT-5.2 Mini", ContextWindow: 1047576, Aliases: []string{"gpt5-mini"}},

	// Gemini
	{ID: "gemini-3-pro-preview", Provider: "gemini", DisplayName: "Gemini 3 Pro (Preview)", ContextWindow: 1048576, Aliases: []string{"gemini-pro"}},
	{ID: "gemini-3-flash-preview", Provider: "gemini", DisplayName: "Gemini 3 Flash (Preview)", ContextWindow: 1048576, Aliases: []string{"gemini-flash"}},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// DefaultModel returns the default model id for a provider, or "".
func DefaultModel(providerID string) string {
	if info := GetProviderInfo(providerID); info != nil {
		return info.DefaultModel
	}
	return ""
}
