package chatmodel

import "github.com/cockroachdb/errors"

var (
	// ErrRegistryUnavailable is returned when the tool registry can not be fetched.
	ErrRegistryUnavailable = errors.New("tool registry unavailable")
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrValidation is returned when a request misses required fields.
	ErrValidation = errors.New("validation error")
	// ErrEmptyModelResponse is returned when the model returns neither text nor a tool call.
	ErrEmptyModelResponse = errors.New("empty model response")
	// ErrModelTimeout is returned when the model call exceeds its deadline.
	ErrModelTimeout = errors.New("model timeout")
	// ErrUnknownTool is returned when the model requests a tool absent from the registry.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDispatchFailure is returned when a tool call can not be delivered or executed remotely.
	ErrDispatchFailure = errors.New("tool dispatch failure")
	// ErrToolTimeout is returned when the tool call exceeds its deadline.
	ErrToolTimeout = errors.New("tool timeout")
	// ErrToolLoopExceeded is returned when the model keeps requesting tools past the round limit.
	ErrToolLoopExceeded = errors.New("tool loop exceeded")
)

// IsClientError returns true for errors caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrValidation)
}
