package unifiedllm

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the resilience settings. Every field is
// optional; unset values keep the built-in defaults.
//
//	default:
//	  max_retries: 3
//	  base_delay: 1s
//	  retryable_categories: [network, timeout, rate_limit, server_error]
//	providers:
//	  anthropic:
//	    max_delay: 90s
//	circuit_breaker:
//	  failure_threshold: 5
//	  reset_timeout: 60s
type Config struct {
	Default        RetrySettings            `yaml:"default"`
	Providers      map[string]RetrySettings `yaml:"providers"`
	CircuitBreaker BreakerSettings          `yaml:"circuit_breaker"`
}

// RetrySettings overlays a RetryConfig.
type RetrySettings struct {
	MaxRetries          *int           `yaml:"max_retries"`
	BaseDelay           *time.Duration `yaml:"base_delay"`
	MaxDelay            *time.Duration `yaml:"max_delay"`
	BackoffMultiplier   *float64       `yaml:"backoff_multiplier"`
	UseJitter           *bool          `yaml:"use_jitter"`
	RetryableCategories []string       `yaml:"retryable_categories"`
}

// BreakerSettings overlays a CircuitBreakerConfig.
type BreakerSettings struct {
	FailureThreshold *int           `yaml:"failure_threshold"`
	ResetTimeout     *time.Duration `yaml:"reset_timeout"`
}

// LoadConfig reads a YAML config file. ${VAR} references are expanded from
// the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config data.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the effective config of every section.
func (c *Config) Validate() error {
	def, err := c.Default.apply(DefaultRetryConfig())
	if err != nil {
		return fmt.Errorf("default: %w", err)
	}
	if err := def.Validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	for id, rs := range c.Providers {
		cfg, err := rs.apply(c.providerBase(def, id))
		if err != nil {
			return fmt.Errorf("providers.%s: %w", id, err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("providers.%s: %w", id, err)
		}
	}
	if err := c.CircuitBreaker.apply(DefaultCircuitBreakerConfig()).Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}
	return nil
}

// RetryConfigFor returns the effective retry config for providerID.
func (c *Config) RetryConfigFor(providerID string) (RetryConfig, error) {
	def, err := c.Default.apply(DefaultRetryConfig())
	if err != nil {
		return RetryConfig{}, err
	}
	base := c.providerBase(def, providerID)
	rs, ok := c.providerSettings(providerID)
	if !ok {
		return base, nil
	}
	return rs.apply(base)
}

// BreakerConfig returns the effective circuit breaker config.
func (c *Config) BreakerConfig() CircuitBreakerConfig {
	return c.CircuitBreaker.apply(DefaultCircuitBreakerConfig())
}

// Dispatcher builds a dispatcher from the config.
func (c *Config) Dispatcher(opts ...ExecutorOption) (*Dispatcher, error) {
	def, err := c.Default.apply(DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}
	dopts := []DispatcherOption{WithDefaultConfig(def), WithExecutorOptions(opts...)}
	ids := make(map[string]struct{}, len(Providers)+len(c.Providers))
	for _, p := range Providers {
		ids[p.ID] = struct{}{}
	}
	for id := range c.Providers {
		ids[id] = struct{}{}
	}
	for id := range ids {
		cfg, err := c.RetryConfigFor(id)
		if err != nil {
			return nil, fmt.Errorf("providers.%s: %w", id, err)
		}
		dopts = append(dopts, WithProviderConfig(id, cfg))
	}
	return NewDispatcher(dopts...), nil
}

// Breakers builds a breaker set from the config.
func (c *Config) Breakers(opts ...BreakerOption) *BreakerSet {
	return NewBreakerSet(c.BreakerConfig(), opts...)
}

// providerBase is the default config with a catalogued provider's delays.
func (c *Config) providerBase(def RetryConfig, providerID string) RetryConfig {
	base := def.clone()
	if info := GetProviderInfo(providerID); info != nil {
		if c.Default.BaseDelay == nil {
			base.BaseDelay = info.BaseDelay
		}
		if c.Default.MaxDelay == nil {
			base.MaxDelay = info.MaxDelay
		}
	}
	return base
}

func (c *Config) providerSettings(providerID string) (RetrySettings, bool) {
	want := CanonicalProviderID(providerID)
	for id, rs := range c.Providers {
		if CanonicalProviderID(id) == want {
			return rs, true
		}
	}
	return RetrySettings{}, false
}

func (r RetrySettings) apply(cfg RetryConfig) (RetryConfig, error) {
	if r.MaxRetries != nil {
		cfg.MaxRetries = *r.MaxRetries
	}
	if r.BaseDelay != nil {
		cfg.BaseDelay = *r.BaseDelay
	}
	if r.MaxDelay != nil {
		cfg.MaxDelay = *r.MaxDelay
	}
	if r.BackoffMultiplier != nil {
		cfg.BackoffMultiplier = *r.BackoffMultiplier
	}
	if r.UseJitter != nil {
		cfg.UseJitter = *r.UseJitter
	}
	if r.RetryableCategories != nil {
		set := make(CategorySet, len(r.RetryableCategories))
		for _, raw := range r.RetryableCategories {
			cat, err := ParseCategory(raw)
			if err != nil {
				return RetryConfig{}, err
			}
			set[cat] = struct{}{}
		}
		cfg.RetryableCategories = set
	}
	return cfg, nil
}

func (b BreakerSettings) apply(cfg CircuitBreakerConfig) CircuitBreakerConfig {
	if b.FailureThreshold != nil {
		cfg.FailureThreshold = *b.FailureThreshold
	}
	if b.ResetTimeout != nil {
		cfg.ResetTimeout = *b.ResetTimeout
	}
	return cfg
}

// LoadEnv loads .env files into the process environment. Files that do not
// exist are skipped; with no arguments ".env" is tried. Variables already
// set are not overridden.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ErrMissingAPIKey is returned when no key variable is set for a provider.
var ErrMissingAPIKey = errors.New("missing API key")

// APIKeyFromEnv returns the first non-empty key variable listed for the
// provider in the catalog.
func APIKeyFromEnv(providerID string) (string, error) {
	info := GetProviderInfo(providerID)
	if info == nil {
		return "", fmt.Errorf("unknown provider %q", providerID)
	}
	for _, name := range info.APIKeyEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	return "", &Error{
		Message:    fmt.Sprintf("no API key configured for %s (set %s)", info.DisplayName, strings.Join(info.APIKeyEnv, " or ")),
		Kind:       KindConfiguration,
		ProviderID: info.ID,
		Category:   CategoryAuthentication,
		Code:       string(CategoryAuthentication),
		Severity:   SeverityCritical,
		Cause:      ErrMissingAPIKey,
	}
}
