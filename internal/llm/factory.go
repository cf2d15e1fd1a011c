package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/samsaffron/term-llm/internal/config"
)

// ParseProviderModel parses "provider:model" or just "provider" from a flag value.
// Returns (provider, model, error). Model will be empty if not specified.
func ParseProviderModel(s string, cfg *config.Config) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider := strings.TrimSpace(parts[0])
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}

	if provider == "debug" {
		return provider, model, nil
	}
	if cfg != nil {
		if _, ok := cfg.Providers[provider]; ok {
			return provider, model, nil
		}
	}
	for _, name := range GetBuiltInProviderNames() {
		if provider == name {
			return provider, model, nil
		}
	}
	return "", "", fmt.Errorf("unknown provider: %s", provider)
}

// GetBuiltInProviderNames lists the provider type names this runtime
// actually implements (see DESIGN.md Open Question #1 for why the
// teacher's CLI-shim and voice/bot providers were dropped).
func GetBuiltInProviderNames() []string {
	return []string{"anthropic", "openai", "gemini", "openai_compatible"}
}

// NewProvider creates a provider from the config's default provider,
// wrapped with automatic retry for rate limits and transient errors.
func NewProvider(cfg *config.Config) (Provider, error) {
	provider, err := newProviderInternal(cfg)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(provider, DefaultRetryConfig()), nil
}

// NewProviderByName creates a provider by name with an optional model
// override, used for per-request provider selection (e.g. sub-agents
// pinned to a specific backend).
func NewProviderByName(cfg *config.Config, name string, model string) (Provider, error) {
	if name == "debug" {
		return WrapWithRetry(NewDebugProvider(model), DefaultRetryConfig()), nil
	}

	providerCfg, ok := cfg.Providers[name]
	if !ok {
		providerType := config.InferProviderType(name, "")
		provider, err := newUnconfiguredProvider(providerType, name, model)
		if err != nil {
			return nil, err
		}
		return WrapWithRetry(provider, DefaultRetryConfig()), nil
	}

	if model != "" {
		providerCfg.Model = model
	}
	provider, err := createProviderFromConfig(name, &providerCfg)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(provider, DefaultRetryConfig()), nil
}

func newProviderInternal(cfg *config.Config) (Provider, error) {
	if cfg.DefaultProvider == "debug" {
		return NewDebugProvider(""), nil
	}
	providerCfg, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		providerType := config.InferProviderType(cfg.DefaultProvider, "")
		return newUnconfiguredProvider(providerType, cfg.DefaultProvider, "")
	}
	return createProviderFromConfig(cfg.DefaultProvider, &providerCfg)
}

// newUnconfiguredProvider builds a provider for a built-in type that has no
// explicit entry in cfg.Providers, falling back to environment variables
// for credentials.
func newUnconfiguredProvider(providerType config.ProviderType, name, model string) (Provider, error) {
	switch providerType {
	case config.ProviderTypeAnthropic:
		return NewAnthropicProvider("", model, "")
	case config.ProviderTypeOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("provider %q requires OPENAI_API_KEY environment variable or explicit config", name)
		}
		return NewOpenAIProvider(apiKey, model), nil
	case config.ProviderTypeGemini:
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("provider %q requires GEMINI_API_KEY environment variable or explicit config", name)
		}
		return NewGeminiProvider(apiKey, model), nil
	default:
		return nil, fmt.Errorf("provider %q not configured", name)
	}
}

// createProviderFromConfig creates a provider from an explicit ProviderConfig.
func createProviderFromConfig(name string, cfg *config.ProviderConfig) (Provider, error) {
	if err := cfg.ResolveForInference(); err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}

	providerType := config.InferProviderType(name, cfg.Type)
	switch providerType {
	case config.ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.ResolvedAPIKey, cfg.Model, cfg.Credentials)
	case config.ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.ResolvedAPIKey, cfg.Model), nil
	case config.ProviderTypeGemini:
		return NewGeminiProvider(cfg.ResolvedAPIKey, cfg.Model), nil
	case config.ProviderTypeOpenAICompat:
		baseURL := cfg.BaseURL
		chatURL := cfg.URL
		if cfg.ResolvedURL != "" {
			chatURL = cfg.ResolvedURL
		}
		if baseURL == "" && chatURL == "" {
			return nil, fmt.Errorf("provider %q requires base_url or url", name)
		}
		displayName := strings.ToUpper(name[:1]) + name[1:]
		return NewOpenAICompatProviderFull(baseURL, chatURL, cfg.ResolvedAPIKey, cfg.Model, displayName, nil), nil
	default:
		return nil, fmt.Errorf("unknown or unsupported provider type: %s", providerType)
	}
}
