package contracts

import (
	"errors"
	"fmt"
)

// ErrConfig is the class of every configuration failure. The process must not
// start when loading returns an error wrapping it.
var ErrConfig = errors.New("configuration error")

// ErrInferenceUnavailable is returned when the inference service cannot be
// reached, times out or answers with an unexpected status.
var ErrInferenceUnavailable = errors.New("inference service unavailable")

var ErrEmptyDocument = errors.New("document text is empty")
var ErrUnsupportedFormat = errors.New("unsupported document format")
var ErrTemplateNotFound = errors.New("template not found")

// ConfigError describes a malformed configuration artifact.
type ConfigError struct {
	Source string // artifact path, may be empty
	Field  string // offending field or group name, may be empty
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "invalid configuration"
	if e.Source != "" {
		msg += " in " + e.Source
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" for field %q", e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() []error { return []error{ErrConfig, e.Err} }

// InferenceError wraps a transport failure of a ChatClient.
type InferenceError struct {
	Backend    string
	Op         string
	StatusCode int // 0 when no HTTP status was received
	Err        error
}

func (e *InferenceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Backend, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *InferenceError) Unwrap() []error { return []error{ErrInferenceUnavailable, e.Err} }
