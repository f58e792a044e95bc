package llmfactory

import (
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// Config lists the model providers.
type Config struct {
	Providers []*ProviderConfig `json:"providers" yaml:"providers" validate:"dive"`
	// DefaultProvider is the provider name used when no model matches,
	// the first provider when empty or unknown.
	DefaultProvider string `json:"default_provider" yaml:"default_provider"`
	// AssistantModels maps an assistant name to the models it prefers,
	// the `default` entry applies to assistants without their own.
	AssistantModels map[string][]string `json:"assistant_models" yaml:"assistant_models"`
}

// ProviderConfig describes one provider account.
type ProviderConfig struct {
	Name            string    `json:"name" yaml:"name" validate:"required"`
	Token           string    `json:"token,omitempty" yaml:"token,omitempty"`
	DefaultModel    string    `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	AvailableModels []string  `json:"available_models,omitempty" yaml:"available_models,omitempty"`
	API             APIConfig `json:"api" yaml:"api"`
}

// APIConfig holds the provider API settings.
type APIConfig struct {
	// APIType is GOOGLEAI or VERTEX, case insensitive.
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty" validate:"required"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Project and Location select the Vertex AI endpoint.
	Project  string `json:"project,omitempty" yaml:"project,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	TopK        int     `json:"top_k,omitempty" yaml:"top_k,omitempty" validate:"gte=0"`
	TopP        float64 `json:"top_p,omitempty" yaml:"top_p,omitempty" validate:"gte=0,lte=1"`
	// HarmThreshold is a Gemini HarmBlockThreshold, for example BLOCK_ONLY_HIGH.
	HarmThreshold string `json:"harm_threshold,omitempty" yaml:"harm_threshold,omitempty"`
}

// Type returns the provider type of the API.
func (c *ProviderConfig) Type() llms.ProviderType {
	return llms.ProviderType(strings.ToUpper(c.API.APIType))
}

// FindModel returns the first available model among models,
// or the provider default.
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if c.Offers(model) {
			return model
		}
	}
	return c.DefaultModel
}

// Offers reports whether the model is available from the provider.
func (c *ProviderConfig) Offers(model string) bool {
	return model != "" && slices.Contains(c.AvailableModels, model)
}

// Validate checks the provider settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid providers configuration")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if seen[p.Name] {
			return errors.Newf("duplicate provider: %s", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// LoadConfig loads the providers file, an empty location returns empty configuration.
// Environment variables in values are expanded.
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}
	if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
