package provider

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Config describes one reachable backend: which protocol to speak, which
// model to ask for, and where its credential comes from.
type Config struct {
	Type      string        `json:"type" yaml:"type" mapstructure:"type"` // "anthropic", "openai", "ollama", "mock"
	Model     string        `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL   string        `json:"base_url,omitempty" yaml:"base_url" mapstructure:"base_url"`
	APIKey    string        `json:"-" yaml:"api_key" mapstructure:"api_key"`
	APIKeyEnv string        `json:"api_key_env,omitempty" yaml:"api_key_env" mapstructure:"api_key_env"`
	MaxTokens int           `json:"max_tokens,omitempty" yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout" mapstructure:"timeout"`
	Pricing   *Pricing      `json:"pricing,omitempty" yaml:"pricing" mapstructure:"pricing"`
	// Scenario is a scripted-response file for the mock backend.
	Scenario string `json:"scenario,omitempty" yaml:"scenario" mapstructure:"scenario"`
}

// defaultKeyEnv maps cloud backends to the environment variable consulted
// when no key is configured.
var defaultKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// IsLocal reports whether the backend runs without cloud credentials.
func (c Config) IsLocal() bool {
	switch strings.ToLower(c.Type) {
	case "ollama", "mock":
		return true
	}
	return false
}

// ResolveAPIKey returns the configured key, falling back to the backend's
// environment variable. getenv may be nil to use os.Getenv.
func (c Config) ResolveAPIKey(getenv func(string) string) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	env := c.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv[strings.ToLower(c.Type)]
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(getenv(env))
}

// HasCredentials reports whether the backend can be constructed.
func (c Config) HasCredentials(getenv func(string) string) bool {
	return c.IsLocal() || c.ResolveAPIKey(getenv) != ""
}

// EffectivePricing returns the configured pricing or the list price for the model.
func (c Config) EffectivePricing() Pricing {
	if c.Pricing != nil {
		return *c.Pricing
	}
	if c.IsLocal() {
		return Pricing{}
	}
	return LookupPricing(c.Model)
}

// Factory builds a provider from a config with an already-resolved API key.
type Factory func(cfg Config, apiKey string) (Provider, error)

var factories = map[string]Factory{
	"anthropic": func(cfg Config, apiKey string) (Provider, error) {
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:     apiKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			MaxTokens:  cfg.MaxTokens,
			HTTPClient: httpClient(cfg),
		}), nil
	},
	"openai": func(cfg Config, apiKey string) (Provider, error) {
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     apiKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			MaxTokens:  cfg.MaxTokens,
			HTTPClient: httpClient(cfg),
		}), nil
	},
	"ollama": func(cfg Config, apiKey string) (Provider, error) {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaBaseURL
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     apiKey,
			Model:      cfg.Model,
			BaseURL:    baseURL,
			MaxTokens:  cfg.MaxTokens,
			HTTPClient: httpClient(cfg),
			Label:      "ollama",
		}), nil
	},
}

// RegisterFactory installs a constructor for a backend type. It is intended
// for process setup (e.g. the mock backend) and is not safe to call
// concurrently with New.
func RegisterFactory(typ string, f Factory) {
	factories[strings.ToLower(typ)] = f
}

// New constructs the backend described by cfg. A cloud backend without a
// resolvable credential fails with a KindConfig error.
func New(cfg Config) (Provider, error) {
	typ := strings.ToLower(cfg.Type)
	f, ok := factories[typ]
	if !ok {
		return nil, ConfigError(typ, "unsupported provider type %q", cfg.Type)
	}
	apiKey := cfg.ResolveAPIKey(nil)
	if apiKey == "" && !cfg.IsLocal() {
		return nil, ConfigError(typ, "no API key configured for model %q", cfg.Model)
	}
	p, err := f(cfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("build %s provider: %w", typ, err)
	}
	return p, nil
}

func httpClient(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		return http.DefaultClient
	}
	return &http.Client{Timeout: cfg.Timeout}
}
