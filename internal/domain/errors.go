package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. They are matched with errors.Is against a *FrameworkError.
var (
	// ErrRemoteUnavailable indicates the ACP endpoint could not be reached.
	ErrRemoteUnavailable = errors.New("acp: remote unavailable")

	// ErrAborted indicates the run was cancelled by the caller or timed out.
	ErrAborted = errors.New("acp: run aborted")

	// ErrFramework is the kind of every other wrapped lower-level failure.
	ErrFramework = errors.New("acp: framework error")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("acp: invalid input")

	// ErrForbidden indicates the admission policy blocked the run.
	ErrForbidden = errors.New("acp: forbidden")

	// ErrRunNotFound indicates the run id is unknown.
	ErrRunNotFound = errors.New("acp: run not found")

	// ErrRunFinished indicates the run is already terminal.
	ErrRunFinished = errors.New("acp: run already finished")
)

// AgentError reports that a named agent is not known or not available.
type AgentError struct {
	Agent   string
	Message string
}

func (e *AgentError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("agent %q: %s", e.Agent, e.Message)
	}
	return fmt.Sprintf("agent %q not found", e.Agent)
}

// NewAgentNotFound builds the AgentError used for unknown agents.
func NewAgentNotFound(name string) *AgentError {
	return &AgentError{Agent: name, Message: "not found"}
}

// IsAgentError reports whether err contains an *AgentError.
func IsAgentError(err error) bool {
	var agentErr *AgentError
	return errors.As(err, &agentErr)
}

// FrameworkError wraps a lower-level failure with a human readable explanation.
// Kind is one of the kind sentinels above and Err is the cause.
type FrameworkError struct {
	Kind    error
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	if e.Kind != nil {
		return e.Kind.Error()
	}
	return ErrFramework.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *FrameworkError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewFrameworkError wraps err with a message under the given kind.
// A nil kind defaults to ErrFramework.
func NewFrameworkError(kind error, message string, err error) *FrameworkError {
	if kind == nil {
		kind = ErrFramework
	}
	return &FrameworkError{Kind: kind, Message: message, Err: err}
}

// Aborted wraps a cancellation cause as an ErrAborted framework error.
func Aborted(err error) *FrameworkError {
	return NewFrameworkError(ErrAborted, "run aborted", err)
}

// IsAborted reports whether err is a caller-driven cancellation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RunNotFoundError reports an unknown run id. It matches ErrRunNotFound.
type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run %q not found", e.RunID)
}

// Is makes errors.Is(err, ErrRunNotFound) hold.
func (e *RunNotFoundError) Is(target error) bool {
	return target == ErrRunNotFound
}

// ErrorBody is the protocol-level error representation.
type ErrorBody struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *ErrorBody) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToErrorBody translates an error into an ErrorBody and the HTTP status to send it with.
func ToErrorBody(err error) (int, *ErrorBody) {
	var agentErr *AgentError
	var runErr *RunNotFoundError
	var body *ErrorBody
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.As(err, &body):
		return statusForCode(body.Code), body
	case errors.As(err, &agentErr):
		return http.StatusNotFound, &ErrorBody{
			Code:    ErrorCodeNotFound,
			Message: agentErr.Error(),
			Data:    map[string]any{"agent_name": agentErr.Agent},
		}
	case errors.As(err, &runErr):
		return http.StatusNotFound, &ErrorBody{
			Code:    ErrorCodeNotFound,
			Message: runErr.Error(),
			Data:    map[string]any{"run_id": runErr.RunID},
		}
	case errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound, &ErrorBody{Code: ErrorCodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest, &ErrorBody{Code: ErrorCodeInvalidInput, Message: err.Error()}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, &ErrorBody{Code: ErrorCodeForbidden, Message: err.Error()}
	case errors.Is(err, ErrRunFinished):
		return http.StatusConflict, &ErrorBody{Code: ErrorCodeConflict, Message: err.Error()}
	case errors.Is(err, ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, &ErrorBody{Code: ErrorCodeServerError, Message: err.Error()}
	}
	return http.StatusInternalServerError, &ErrorBody{Code: ErrorCodeServerError, Message: err.Error()}
}

func statusForCode(code ErrorCode) int {
	switch code {
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeInvalidInput:
		return http.StatusBadRequest
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
