package llms

import (
	"context"
)

//go:generate mockgen -source=llms.go -destination=../../mocks/mockllms/llms_mock.gen.go -package mockllms

// ProviderType names the backend serving a Model.
type ProviderType string

const (
	// ProviderGoogleAI is the Gemini Developer API, authenticated by API key.
	ProviderGoogleAI ProviderType = "GOOGLEAI"
	// ProviderVertexAI is Gemini on Vertex AI, authenticated by Google Cloud credentials.
	ProviderVertexAI ProviderType = "VERTEX"
)

// Model produces the next step of a conversation.
type Model interface {
	// GetName returns the model name used for calls.
	GetName() string
	// GetProviderType returns the backend of the model.
	GetProviderType() ProviderType
	// GenerateContent returns the candidate replies for the conversation.
	// Each candidate carries text, tool calls requested by the model, or both.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}

// Capability is a feature a provider may offer.
type Capability uint8

const (
	// CapabilitySystemPrompt means the provider accepts a system instruction.
	CapabilitySystemPrompt Capability = 1 << iota
	// CapabilityFunctionCalling means the provider accepts tool declarations
	// and may answer with a tool call.
	CapabilityFunctionCalling
)

// Capabilities returns the features of the provider.
func (p ProviderType) Capabilities() Capability {
	switch p {
	case ProviderGoogleAI, ProviderVertexAI:
		return CapabilitySystemPrompt | CapabilityFunctionCalling
	default:
		return 0
	}
}

// Supports reports whether the provider offers every feature in c.
func (p ProviderType) Supports(c Capability) bool {
	return c != 0 && p.Capabilities()&c == c
}
