package session

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineInit is fatal: the controller refuses every later call.
	ErrEngineInit             = errors.New("engine initialization failed")
	ErrInvalidInput           = errors.New("invalid input")
	ErrToolUnavailable        = errors.New("tool unavailable")
	ErrOrientationUnsupported = errors.New("orientation change unsupported")
	ErrLoad                   = errors.New("load failed")
	ErrNotInitialized         = errors.New("session not initialized")
	ErrClosed                 = errors.New("session closed")
)

// EngineInitError reports a viewport that could not be bound.
type EngineInitError struct {
	ContainerID string
	Err         error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("binding container %q: %v", e.ContainerID, e.Err)
}

func (e *EngineInitError) Is(target error) bool { return target == ErrEngineInit }
func (e *EngineInitError) Unwrap() error        { return e.Err }

// ToolUnavailableError reports a tool that cannot be selected right now.
// Suggestion names the closest registered tool when the name was unknown.
type ToolUnavailableError struct {
	Name       string
	Reason     string
	Suggestion string
	Err        error
}

func (e *ToolUnavailableError) Error() string {
	msg := fmt.Sprintf("tool %q unavailable: %s", e.Name, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolUnavailableError) Is(target error) bool { return target == ErrToolUnavailable }
func (e *ToolUnavailableError) Unwrap() error        { return e.Err }

// LoadError is an engine-reported failure of one load generation.
type LoadError struct {
	Generation int64
	Detail     ErrorDetail
}

func (e *LoadError) Error() string {
	if e.Detail.DataID != "" {
		return fmt.Sprintf("load %d failed (%s, data %s): %s", e.Generation, e.Detail.Code, e.Detail.DataID, e.Detail.Message)
	}
	return fmt.Sprintf("load %d failed (%s): %s", e.Generation, e.Detail.Code, e.Detail.Message)
}

func (e *LoadError) Is(target error) bool { return target == ErrLoad }
