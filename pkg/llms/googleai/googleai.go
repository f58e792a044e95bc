// Package googleai implements llms.Model on Gemini, served either by
// the Gemini Developer API or by Vertex AI.
package googleai

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/llms"
	"google.golang.org/genai"
)

// ErrNoContentInResponse is returned when Gemini answers without candidates.
var ErrNoContentInResponse = errors.New("no content in generation response")

var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryDangerousContent,
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
}

// GoogleAI is a Gemini model client.
type GoogleAI struct {
	client *genai.Client
	opts   Options
}

var _ llms.Model = (*GoogleAI)(nil)

// New returns a Gemini client.
// Without explicit authentication GOOGLE_API_KEY is used, or for Vertex AI
// GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION.
func New(ctx context.Context, opts ...Option) (*GoogleAI, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.applyEnv()

	cc := &genai.ClientConfig{
		HTTPClient: o.HTTPClient,
	}
	if o.Vertex {
		if o.Project == "" || o.Location == "" {
			return nil, errors.New("googleai: project and location are required for Vertex AI")
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = o.Project
		cc.Location = o.Location
		cc.Credentials = o.Credentials
	} else {
		if o.APIKey == "" {
			return nil, errors.New("googleai: API key is required")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = o.APIKey
	}
	if o.BaseURL != "" {
		cc.HTTPOptions.BaseURL = o.BaseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, errors.Wrap(err, "googleai: failed to create client")
	}
	return &GoogleAI{client: client, opts: o}, nil
}

// GetName returns the default model.
func (g *GoogleAI) GetName() string {
	return g.opts.Model
}

// GetProviderType returns the backend serving the model.
func (g *GoogleAI) GetProviderType() llms.ProviderType {
	if g.opts.Vertex {
		return llms.ProviderVertexAI
	}
	return llms.ProviderGoogleAI
}

// GenerateContent sends the conversation to Gemini.
// A system message becomes the system instruction.
func (g *GoogleAI) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	call := llms.CallOptions{
		Model:       g.opts.Model,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	}.Apply(options...)

	system, contents, err := convertMessages(messages)
	if err != nil {
		return nil, err
	}
	tools, err := convertTools(call.Tools)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Tools:             tools,
		MaxOutputTokens:   int32(call.MaxTokens),
		Temperature:       nonZero(float32(call.Temperature)),
		TopK:              nonZero(float32(g.opts.TopK)),
		TopP:              nonZero(float32(g.opts.TopP)),
	}
	for _, category := range harmCategories {
		cfg.SafetySettings = append(cfg.SafetySettings, &genai.SafetySetting{
			Category:  category,
			Threshold: g.opts.HarmThreshold,
		})
	}

	resp, err := g.client.Models.GenerateContent(ctx, call.Model, contents, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "googleai: %s", call.Model)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrNoContentInResponse
	}
	return convertResponse(resp)
}

func nonZero[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}
