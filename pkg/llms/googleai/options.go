package googleai

import (
	"net/http"
	"os"

	"cloud.google.com/go/auth"
	"github.com/effective-security/x/values"
	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.0-flash"

// Options configure a GoogleAI client.
type Options struct {
	// Model is used by calls that do not name one.
	Model       string
	MaxTokens   int
	Temperature float64
	TopK        int
	TopP        float64
	// HarmThreshold applies to every harm category.
	HarmThreshold genai.HarmBlockThreshold

	// APIKey authenticates Gemini Developer API calls.
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client

	// Vertex selects the Vertex AI backend, authenticated by Credentials
	// or Application Default Credentials.
	Vertex      bool
	Project     string
	Location    string
	Credentials *auth.Credentials
}

// Option updates Options.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		Model:         DefaultModel,
		MaxTokens:     8192,
		Temperature:   0.5,
		TopK:          3,
		TopP:          0.95,
		HarmThreshold: genai.HarmBlockThresholdBlockOnlyHigh,
	}
}

// applyEnv fills the authentication settings left empty
// from the standard Google environment variables.
func (o *Options) applyEnv() {
	if o.Vertex {
		o.Project = values.StringsCoalesce(o.Project, os.Getenv("GOOGLE_CLOUD_PROJECT"))
		o.Location = values.StringsCoalesce(o.Location, os.Getenv("GOOGLE_CLOUD_LOCATION"))
		return
	}
	o.APIKey = values.StringsCoalesce(o.APIKey, os.Getenv("GOOGLE_API_KEY"))
}

// WithAPIKey sets the Gemini API key.
func WithAPIKey(apiKey string) Option {
	return func(o *Options) {
		o.APIKey = apiKey
	}
}

// WithVertex selects the Vertex AI backend for the project and location.
func WithVertex(project, location string) Option {
	return func(o *Options) {
		o.Vertex = true
		o.Project = project
		o.Location = location
	}
}

// WithCredentials sets the Vertex AI credentials, nil is ignored.
func WithCredentials(credentials *auth.Credentials) Option {
	return func(o *Options) {
		if credentials != nil {
			o.Credentials = credentials
		}
	}
}

// WithHTTPClient sets the HTTP client for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = client
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *Options) {
		o.BaseURL = baseURL
	}
}

// WithModel sets the default model, empty is ignored.
func WithModel(model string) Option {
	return func(o *Options) {
		if model != "" {
			o.Model = model
		}
	}
}

// WithMaxTokens sets the default limit of generated tokens.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Options) {
		o.MaxTokens = maxTokens
	}
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(o *Options) {
		o.Temperature = temperature
	}
}

// WithSampling sets top-k and top-p sampling, zero values disable them.
func WithSampling(topK int, topP float64) Option {
	return func(o *Options) {
		o.TopK = topK
		o.TopP = topP
	}
}

// WithHarmThreshold sets the blocking threshold of the safety filters.
func WithHarmThreshold(threshold genai.HarmBlockThreshold) Option {
	return func(o *Options) {
		o.HarmThreshold = threshold
	}
}
