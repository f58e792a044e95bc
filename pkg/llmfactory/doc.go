// Package llmfactory loads the provider configuration, creates model
// clients on demand and caches them by provider and model name.
package llmfactory
