// Package assistants provides the conversation turn engine: it drives a session
// through model inference and tool invocation rounds until the model produces a final answer.
package assistants
