// Package domain defines the core domain models for the ACP server and client.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusCreated    RunStatus = "created"
	RunStatusInProgress RunStatus = "in-progress"
	RunStatusCancelling RunStatus = "cancelling"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunMode selects how a run result is delivered to the caller.
type RunMode string

const (
	RunModeSync   RunMode = "sync"
	RunModeStream RunMode = "stream"
	RunModeAsync  RunMode = "async"
)

// Valid reports whether m is a known mode. The empty mode is treated as sync.
func (m RunMode) Valid() bool {
	switch m {
	case "", RunModeSync, RunModeStream, RunModeAsync:
		return true
	}
	return false
}

// EventType represents the type of a run event.
type EventType string

const (
	EventTypeRunCreated       EventType = "run.created"
	EventTypeRunInProgress    EventType = "run.in-progress"
	EventTypeMessagePart      EventType = "message.part"
	EventTypeGeneric          EventType = "generic"
	EventTypeMessageCompleted EventType = "message.completed"
	EventTypeRunCompleted     EventType = "run.completed"
	EventTypeRunFailed        EventType = "run.failed"
	EventTypeRunCancelled     EventType = "run.cancelled"
	EventTypeError            EventType = "error"
)

// Terminal reports whether the event closes a run stream.
func (t EventType) Terminal() bool {
	switch t {
	case EventTypeRunCompleted, EventTypeRunFailed, EventTypeRunCancelled:
		return true
	}
	return false
}

// IsUpdate reports whether the event carries an intermediate update.
func (t EventType) IsUpdate() bool {
	return t == EventTypeMessagePart || t == EventTypeGeneric
}

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleControl   Role = "control"
	RoleSystem    Role = "system"
)

// ErrorCode is the machine readable code of an ErrorBody.
type ErrorCode string

const (
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeInvalidInput ErrorCode = "invalid_input"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeServerError  ErrorCode = "server_error"
)
