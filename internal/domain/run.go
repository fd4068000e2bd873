package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Run represents a single invocation of an agent.
type Run struct {
	RunID      string     `json:"run_id"`
	AgentName  string     `json:"agent_name"`
	SessionID  string     `json:"session_id,omitempty"`
	Mode       RunMode    `json:"mode"`
	Status     RunStatus  `json:"status"`
	Output     []Message  `json:"output"`
	Error      *ErrorBody `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// OutputText concatenates the text of every output message.
func (r *Run) OutputText() string {
	var parts []string
	for _, m := range r.Output {
		if t := m.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// Update is an intermediate, non-terminal notification emitted during a run.
// Text updates become message.part events, everything else becomes generic.
type Update struct {
	Seq  int             `json:"seq"`
	Kind string          `json:"kind,omitempty"`
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventType returns the wire event type used for the update.
func (u Update) EventType() EventType {
	if u.Kind == "" && u.Text != "" && len(u.Data) == 0 {
		return EventTypeMessagePart
	}
	return EventTypeGeneric
}

// Event is one entry in a run's event stream.
type Event struct {
	EventID string     `json:"event_id,omitempty"`
	RunID   string     `json:"run_id"`
	Seq     int        `json:"seq"`
	Ts      int64      `json:"ts"`
	Type    EventType  `json:"type"`
	Run     *Run       `json:"run,omitempty"`
	Update  *Update    `json:"update,omitempty"`
	Message *Message   `json:"message,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// RunOutput is what an agent returns when it finishes.
type RunOutput struct {
	Messages []Message `json:"messages"`
}

// TextOutput builds a single assistant message output.
func TextOutput(text string) *RunOutput {
	return &RunOutput{Messages: []Message{NewMessage(RoleAssistant, text)}}
}
