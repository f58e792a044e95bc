package llmfactory

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/pkg/llms/googleai"
	"github.com/effective-security/xlog"
	"google.golang.org/genai"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolchat", "llmfactory")

// NewLLM creates the model client, tests may replace it.
var NewLLM = CreateLLM

// Factory selects model clients, created clients are reused.
type Factory interface {
	// DefaultModel returns the default model of the default provider.
	DefaultModel() (llms.Model, error)
	// ModelByType returns the default model of the first provider of the type, e.g. GOOGLEAI.
	ModelByType(providerType string) (llms.Model, error)
	// ModelByName returns the first model available from a provider,
	// or the default model when none is.
	ModelByName(models ...string) (llms.Model, error)
	// AssistantModel returns the model configured for the assistant,
	// or the first available of preferred.
	AssistantModel(assistant string, preferred ...string) (llms.Model, error)
}

// Load returns the factory for the providers file.
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	providers  []*ProviderConfig
	fallback   *ProviderConfig
	assistants map[string][]string

	lock   sync.Mutex
	models map[string]llms.Model
}

// New returns the factory for the configuration.
func New(cfg *Config) Factory {
	f := &factory{
		providers:  cfg.Providers,
		assistants: cfg.AssistantModels,
		models:     make(map[string]llms.Model),
	}
	for _, p := range cfg.Providers {
		if p.Name == cfg.DefaultProvider {
			f.fallback = p
			break
		}
	}
	if f.fallback == nil && len(cfg.Providers) > 0 {
		f.fallback = cfg.Providers[0]
	}
	return f
}

func (f *factory) DefaultModel() (llms.Model, error) {
	if f.fallback == nil {
		return nil, errors.New("no providers configured")
	}
	return f.get(f.fallback, f.fallback.DefaultModel)
}

func (f *factory) ModelByType(providerType string) (llms.Model, error) {
	for _, p := range f.providers {
		if strings.EqualFold(p.API.APIType, providerType) {
			return f.get(p, p.DefaultModel)
		}
	}
	return nil, errors.Errorf("provider not found for type: %s", providerType)
}

func (f *factory) ModelByName(models ...string) (llms.Model, error) {
	for _, name := range models {
		for _, p := range f.providers {
			if !p.Offers(name) {
				continue
			}
			m, err := f.get(p, name)
			if err != nil {
				logger.KV(xlog.ERROR,
					"provider", p.Name,
					"model", name,
					"err", err.Error(),
				)
				continue
			}
			return m, nil
		}
	}
	return f.DefaultModel()
}

func (f *factory) AssistantModel(assistant string, preferred ...string) (llms.Model, error) {
	if models, ok := f.assistants[assistant]; ok {
		return f.ModelByName(models...)
	}
	if models, ok := f.assistants["default"]; ok {
		return f.ModelByName(models...)
	}
	return f.ModelByName(preferred...)
}

// get returns the cached client of the provider model.
func (f *factory) get(p *ProviderConfig, model string) (llms.Model, error) {
	key := p.Name + "/" + model

	f.lock.Lock()
	defer f.lock.Unlock()

	if m, ok := f.models[key]; ok {
		return m, nil
	}
	m, err := NewLLM(p, model)
	if err != nil {
		return nil, err
	}
	logger.KV(xlog.DEBUG,
		"status", "created_llm",
		"provider", p.Name,
		"type", p.API.APIType,
		"model", m.GetName(),
	)
	f.models[key] = m
	return m, nil
}

// CreateLLM returns the client of the first preferred model offered by the provider,
// or of its default model.
func CreateLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithModel(cfg.FindModel(preferredModels...)),
	}

	switch cfg.Type() {
	case llms.ProviderGoogleAI:
		if cfg.Token != "" {
			opts = append(opts, googleai.WithAPIKey(cfg.Token))
		}
	case llms.ProviderVertexAI:
		opts = append(opts, googleai.WithVertex(cfg.API.Project, cfg.API.Location))
	default:
		return nil, errors.Errorf("unsupported provider type: %s", cfg.Type())
	}

	api := cfg.API
	if api.BaseURL != "" {
		opts = append(opts, googleai.WithBaseURL(api.BaseURL))
	}
	if api.MaxTokens > 0 {
		opts = append(opts, googleai.WithMaxTokens(api.MaxTokens))
	}
	if api.Temperature > 0 {
		opts = append(opts, googleai.WithTemperature(api.Temperature))
	}
	if api.TopK > 0 || api.TopP > 0 {
		opts = append(opts, googleai.WithSampling(api.TopK, api.TopP))
	}
	if api.HarmThreshold != "" {
		opts = append(opts, googleai.WithHarmThreshold(genai.HarmBlockThreshold(strings.ToUpper(api.HarmThreshold))))
	}
	return googleai.New(context.Background(), opts...)
}
