package llms

import (
	"github.com/invopop/jsonschema"
)

// ToolTypeFunction is the only tool type models are offered.
const ToolTypeFunction = "function"

// CallOptions are the per-call settings of GenerateContent.
// Zero values leave the provider defaults in place.
type CallOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Tools       []Tool
}

// CallOption updates CallOptions.
type CallOption func(*CallOptions)

// Apply returns a copy of the options updated by opts.
func (o CallOptions) Apply(opts ...CallOption) CallOptions {
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// HasTools reports whether tool declarations are attached to the call.
func (o CallOptions) HasTools() bool {
	return len(o.Tools) > 0
}

// Tool is a tool declaration offered to the model.
type Tool struct {
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is the JSON schema of the arguments object.
	Parameters *jsonschema.Schema `json:"parameters,omitempty"`
}

// NewFunctionTool returns the declaration of a function tool.
func NewFunctionTool(name, description string, parameters *jsonschema.Schema) Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: &FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// WithModel overrides the model name.
func WithModel(model string) CallOption {
	return func(o *CallOptions) {
		o.Model = model
	}
}

// WithMaxTokens limits the generated tokens.
func WithMaxTokens(maxTokens int) CallOption {
	return func(o *CallOptions) {
		o.MaxTokens = maxTokens
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = temperature
	}
}

// WithTools offers the tools to the model.
func WithTools(tools []Tool) CallOption {
	return func(o *CallOptions) {
		o.Tools = tools
	}
}
