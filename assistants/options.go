package assistants

import (
	"time"

	"github.com/effective-security/toolchat/pkg/llms"
)

const (
	// DefaultMaxToolRounds is the default number of tool rounds per message.
	DefaultMaxToolRounds = 10
	// DefaultMaxRetries is the default number of model calls made when the response is empty.
	DefaultMaxRetries = 2
	// DefaultModelTimeout is the default deadline of a single model call.
	DefaultModelTimeout = 60 * time.Second
)

// Option updates the Assistant Config.
type Option func(*Config)

// Config of the turn engine.
type Config struct {
	// Call overrides the model defaults, zero fields are not sent.
	Call llms.CallOptions

	CallbackHandler Callback

	// Name is used in logs and callbacks.
	Name string
	// SystemPrompt is sent before the history when the provider supports it.
	SystemPrompt string
	// MaxToolRounds is the number of tool rounds allowed per message.
	MaxToolRounds int
	// MaxRetries is the number of model calls made when the response is empty.
	MaxRetries int
	// ModelTimeout bounds a single model call.
	ModelTimeout time.Duration
}

// NewConfig returns the defaults updated by opts.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxToolRounds: DefaultMaxToolRounds,
		MaxRetries:    DefaultMaxRetries,
		ModelTimeout:  DefaultModelTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithMaxToolRounds limits the tool rounds per message, non-positive values are ignored.
func WithMaxToolRounds(rounds int) Option {
	return func(c *Config) {
		if rounds > 0 {
			c.MaxToolRounds = rounds
		}
	}
}

// WithMaxRetries limits the model calls on empty response, non-positive values are ignored.
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		if retries > 0 {
			c.MaxRetries = retries
		}
	}
}

// WithModelTimeout bounds a single model call, non-positive values are ignored.
func WithModelTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ModelTimeout = timeout
		}
	}
}

// WithModel overrides the model name in calls.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Call.Model = model
	}
}

// WithMaxTokens overrides the limit of generated tokens.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) {
		c.Call.MaxTokens = maxTokens
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(c *Config) {
		c.Call.Temperature = temperature
	}
}

func WithCallback(callbackHandler Callback) Option {
	return func(c *Config) {
		c.CallbackHandler = callbackHandler
	}
}

// GetCallOptions returns the overrides that are set, followed by extra.
func (c *Config) GetCallOptions(extra ...llms.CallOption) []llms.CallOption {
	var opts []llms.CallOption
	if c.Call.Model != "" {
		opts = append(opts, llms.WithModel(c.Call.Model))
	}
	if c.Call.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.Call.MaxTokens))
	}
	if c.Call.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.Call.Temperature))
	}
	return append(opts, extra...)
}
