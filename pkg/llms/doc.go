// Package llms defines the Model abstraction used by the turn engine:
// conversation messages, candidate replies with tool calls, token usage
// and per-call options.
//
// Providers live in subpackages, see googleai.
package llms
