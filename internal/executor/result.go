package executor

import (
	"errors"

	"github.com/hanpama/entityplan/internal/gqlerror"
)

type Path []PathElement

type PathElement any

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// locate turns err into a GraphQLError at path. Structured errors report
// their kind, validation failures also their messages.
func locate(err error, path Path) GraphQLError {
	out := GraphQLError{Message: err.Error(), Path: path}
	var verr *gqlerror.ValidationError
	var gerr *gqlerror.Error
	switch {
	case errors.As(err, &verr):
		out.Extensions = map[string]any{"kind": string(gqlerror.ValidationFailed), "messages": verr.Messages}
	case errors.As(err, &gerr):
		out.Extensions = map[string]any{"kind": string(gerr.Kind)}
	}
	return out
}
