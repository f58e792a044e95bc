// Package config loads the process configuration from an optional YAML file
// and the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/llmfactory"
	"github.com/effective-security/toolchat/pkg/llms"
	"github.com/effective-security/toolchat/tools/emailtool"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// EnvConfigFile is the environment variable with the config file location
const EnvConfigFile = "TOOLCHAT_CONFIG"

// Defaults
const (
	DefaultModel           = "gemini-2.0-flash"
	DefaultChatPort        = 3002
	DefaultToolsPort       = 3001
	DefaultToolsURL        = "http://localhost:3001/sse"
	DefaultSMTPHost        = "smtp.gmail.com"
	DefaultSMTPPort        = 587
	DefaultLogLevel        = "INFO"
	DefaultMaxToolRounds   = 10
	DefaultMaxRetries      = 2
	DefaultModelTimeout    = 60 * time.Second
	DefaultToolTimeout     = 60 * time.Second
	DefaultRegistryTimeout = 30 * time.Second
)

// Config of the chat and tool servers
type Config struct {
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LLM      LLM    `json:"llm" yaml:"llm"`
	Chat     Chat   `json:"chat" yaml:"chat"`
	Tools    Tools  `json:"tools" yaml:"tools"`
	SMTP     SMTP   `json:"smtp" yaml:"smtp"`
	Limits   Limits `json:"limits" yaml:"limits"`
}

// LLM configures the model
type LLM struct {
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
	// SystemPrompt is optional instruction sent with every request
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// ProvidersFile is optional location of the llmfactory configuration,
	// when set it replaces APIKey and Model
	ProvidersFile string `json:"providers_file,omitempty" yaml:"providers_file,omitempty"`
}

// Chat configures the chat server
type Chat struct {
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// ToolsURL is the SSE endpoint of the tool server
	ToolsURL string `json:"tools_url,omitempty" yaml:"tools_url,omitempty"`
}

// Tools configures the tool server
type Tools struct {
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// BaseDir is the directory relative file paths are resolved against
	BaseDir      string `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`
	TavilyAPIKey string `json:"tavily_api_key,omitempty" yaml:"tavily_api_key,omitempty"`
}

// SMTP configures the email tools
type SMTP struct {
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Secure   bool   `json:"secure,omitempty" yaml:"secure,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Limits of the turn engine, durations are in time.ParseDuration format
type Limits struct {
	MaxToolRounds   int    `json:"max_tool_rounds,omitempty" yaml:"max_tool_rounds,omitempty"`
	MaxRetries      int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	ModelTimeout    string `json:"model_timeout,omitempty" yaml:"model_timeout,omitempty"`
	ToolTimeout     string `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty"`
	RegistryTimeout string `json:"registry_timeout,omitempty" yaml:"registry_timeout,omitempty"`
}

// Load returns the configuration from the file, the environment and defaults.
// If file is empty, TOOLCHAT_CONFIG is used, and if that is empty
// only the environment is used.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	file = values.StringsCoalesce(file, os.Getenv(EnvConfigFile))
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.WithMessagef(err, "failed to load config %s", file)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LLM.APIKey = values.StringsCoalesce(os.Getenv("GOOGLE_API_KEY"), c.LLM.APIKey)
	c.LLM.Model = values.StringsCoalesce(os.Getenv("GOOGLE_MODEL"), c.LLM.Model)
	c.Chat.ToolsURL = values.StringsCoalesce(os.Getenv("MCP_URL"), c.Chat.ToolsURL)
	c.Tools.TavilyAPIKey = values.StringsCoalesce(os.Getenv("TAVILY_API_KEY"), c.Tools.TavilyAPIKey)
	c.SMTP.Host = values.StringsCoalesce(os.Getenv("SMTP_HOST"), c.SMTP.Host)
	c.SMTP.User = values.StringsCoalesce(os.Getenv("SMTP_USER"), c.SMTP.User)
	c.SMTP.Password = values.StringsCoalesce(os.Getenv("SMTP_PASS"), c.SMTP.Password)
	c.LogLevel = values.StringsCoalesce(os.Getenv("LOG_LEVEL"), c.LogLevel)

	var err error
	if c.Chat.Port, err = envInt("PORT", c.Chat.Port); err != nil {
		return err
	}
	if c.Tools.Port, err = envInt("MCP_PORT", c.Tools.Port); err != nil {
		return err
	}
	if c.SMTP.Port, err = envInt("SMTP_PORT", c.SMTP.Port); err != nil {
		return err
	}
	if s := os.Getenv("SMTP_SECURE"); s != "" {
		c.SMTP.Secure, err = strconv.ParseBool(s)
		if err != nil {
			return errors.Wrapf(err, "invalid SMTP_SECURE value %q", s)
		}
	}
	return nil
}

func envInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s value %q", name, s)
	}
	return v, nil
}

func (c *Config) applyDefaults() {
	c.LLM.Model = values.StringsCoalesce(c.LLM.Model, DefaultModel)
	c.Chat.Port = values.NumbersCoalesce(c.Chat.Port, DefaultChatPort)
	c.Chat.ToolsURL = values.StringsCoalesce(c.Chat.ToolsURL, DefaultToolsURL)
	c.Tools.Port = values.NumbersCoalesce(c.Tools.Port, DefaultToolsPort)
	c.SMTP.Host = values.StringsCoalesce(c.SMTP.Host, DefaultSMTPHost)
	c.SMTP.Port = values.NumbersCoalesce(c.SMTP.Port, DefaultSMTPPort)
	c.LogLevel = strings.ToUpper(values.StringsCoalesce(c.LogLevel, DefaultLogLevel))
	c.Limits.MaxToolRounds = values.NumbersCoalesce(c.Limits.MaxToolRounds, DefaultMaxToolRounds)
	c.Limits.MaxRetries = values.NumbersCoalesce(c.Limits.MaxRetries, DefaultMaxRetries)
}

// Validate returns error if the configuration is not usable
func (c *Config) Validate() error {
	for name, d := range map[string]string{
		"model_timeout":    c.Limits.ModelTimeout,
		"tool_timeout":     c.Limits.ToolTimeout,
		"registry_timeout": c.Limits.RegistryTimeout,
	} {
		if d == "" {
			continue
		}
		if v, err := time.ParseDuration(d); err != nil || v <= 0 {
			return errors.Newf("invalid %s value %q", name, d)
		}
	}
	if _, ok := logLevels[c.LogLevel]; !ok {
		return errors.Newf("invalid log level %q", c.LogLevel)
	}
	return nil
}

// GetModelTimeout returns the bound of one model call
func (l Limits) GetModelTimeout() time.Duration {
	return duration(l.ModelTimeout, DefaultModelTimeout)
}

// GetToolTimeout returns the bound of one tool call
func (l Limits) GetToolTimeout() time.Duration {
	return duration(l.ToolTimeout, DefaultToolTimeout)
}

// GetRegistryTimeout returns the bound of the tool discovery
func (l Limits) GetRegistryTimeout() time.Duration {
	return duration(l.RegistryTimeout, DefaultRegistryTimeout)
}

func duration(s string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(s); err == nil && v > 0 {
		return v
	}
	return def
}

// LLMFactory returns configuration for the model factory,
// a single Gemini provider is used unless ProvidersFile is set.
func (c *Config) LLMFactory() (*llmfactory.Config, error) {
	if c.LLM.ProvidersFile != "" {
		return llmfactory.LoadConfig(c.LLM.ProvidersFile)
	}
	if c.LLM.APIKey == "" {
		return nil, errors.New("GOOGLE_API_KEY is not set")
	}
	return &llmfactory.Config{
		DefaultProvider: "gemini",
		Providers: []*llmfactory.ProviderConfig{
			{
				Name:            "gemini",
				Token:           c.LLM.APIKey,
				DefaultModel:    c.LLM.Model,
				AvailableModels: []string{c.LLM.Model},
				API: llmfactory.APIConfig{
					APIType: string(llms.ProviderGoogleAI),
				},
			},
		},
	}, nil
}

// Email returns configuration for the email tools
func (c *Config) Email() emailtool.Config {
	return emailtool.Config{
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Secure:   c.SMTP.Secure,
		User:     c.SMTP.User,
		Password: c.SMTP.Password,
	}
}

var logLevels = map[string]xlog.LogLevel{
	"CRITICAL": xlog.CRITICAL,
	"ERROR":    xlog.ERROR,
	"WARNING":  xlog.WARNING,
	"NOTICE":   xlog.NOTICE,
	"INFO":     xlog.INFO,
	"DEBUG":    xlog.DEBUG,
	"TRACE":    xlog.TRACE,
}

// ConfigureLogger sets the global log formatter and level
func (c *Config) ConfigureLogger() {
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if level, ok := logLevels[c.LogLevel]; ok {
		xlog.SetGlobalLogLevel(level)
	}
}
