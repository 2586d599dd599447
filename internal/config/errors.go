package config

import "fmt"

// ErrorCode classifies a configuration problem.
type ErrorCode string

const (
	ErrorInvalidYAML  ErrorCode = "invalid_yaml"
	ErrorMissingIndex ErrorCode = "missing_index"
	ErrorInvalidValue ErrorCode = "invalid_value"
	ErrorMissingEnv   ErrorCode = "missing_env"
)

// Error describes an invalid or incomplete configuration.
type Error struct {
	Code  ErrorCode
	Field string
	Value string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "invalid docfinder config"
	}
	switch e.Code {
	case ErrorInvalidYAML:
		return fmt.Sprintf("invalid YAML in %s: %v", e.Value, e.Cause)
	case ErrorMissingIndex:
		return "search.index is required"
	case ErrorInvalidValue:
		return fmt.Sprintf("invalid value %s=%s", e.Field, e.Value)
	case ErrorMissingEnv:
		return fmt.Sprintf("%s is required", e.Field)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("invalid docfinder config: %v", e.Cause)
		}
		return "invalid docfinder config"
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
