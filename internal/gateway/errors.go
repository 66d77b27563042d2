package gateway

import (
	"errors"
	"strings"
)

var (
	// ErrTransport marks network failures and non-2xx responses.
	ErrTransport = errors.New("gateway: transport failure")
	// ErrApplication marks errors reported by the commerce backend in the GraphQL payload.
	ErrApplication = errors.New("gateway: application error")
	// ErrNotFound is returned when a single-entity lookup resolves to null.
	ErrNotFound = errors.New("gateway: not found")
)

// GraphQLError carries the messages of a GraphQL errors array.
type GraphQLError struct {
	Operation string
	Messages  []string
}

// Error implements error using the first reported message.
func (e *GraphQLError) Error() string {
	return "gateway: " + e.Operation + ": " + e.Message()
}

// Message returns the first backend message, suitable for showing to a buyer.
func (e *GraphQLError) Message() string {
	for _, msg := range e.Messages {
		if msg = strings.TrimSpace(msg); msg != "" {
			return msg
		}
	}
	return "GraphQL error"
}

// Is lets callers branch with errors.Is(err, ErrApplication).
func (e *GraphQLError) Is(target error) bool {
	return target == ErrApplication
}
