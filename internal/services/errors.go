package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrWorkflowNotFound is returned when no workflow exists for the id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrRevisionNotFound is returned when a rollback targets an unknown
// revision id.
var ErrRevisionNotFound = errors.New("revision not found")

// errTerminated aborts a pipeline run after the workflow was terminated.
// It is not an error condition for the caller; the terminate operation
// already persisted the final state.
var errTerminated = errors.New("workflow terminated")

// ValidationError reports machine-readable problems with a request.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Messages, ", ")
}

// ConfigError means the generation backend is unusable, typically a
// missing API key. Requests should be rejected as service-unavailable
// rather than retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

// StageError wraps the failure of one pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SchemaError reports structural problems with a generated artifact. It
// is fatal only when strict schema mode is enabled.
type SchemaError struct {
	Artifact string
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s schema invalid: %s", e.Artifact, strings.Join(e.Problems, ", "))
}
