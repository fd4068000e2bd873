package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// MessagePart is one piece of message content. Text parts use Content,
// structured parts use Data.
type MessagePart struct {
	ContentType string          `json:"content_type,omitempty"`
	Content     string          `json:"content,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Name        string          `json:"name,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) MessagePart {
	return MessagePart{ContentType: "text/plain", Content: text}
}

// Message represents a single conversational message.
type Message struct {
	Role  Role          `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// NewMessage builds a text message with the given role.
func NewMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []MessagePart{TextPart(text)}}
}

// Text concatenates the text content of all parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Content)
	}
	return b.String()
}

// Empty reports whether the message has no content at all.
func (m Message) Empty() bool {
	for _, p := range m.Parts {
		if p.Content != "" || len(p.Data) > 0 {
			return false
		}
	}
	return true
}

// Input is what a caller hands to a run: a list of messages.
type Input []Message

// Prompt wraps a single user prompt as run input.
func Prompt(text string) Input {
	return Input{NewMessage(RoleUser, text)}
}

// Messages wraps a message list as run input.
func Messages(msgs ...Message) Input {
	return Input(msgs)
}

// LastUserText returns the text of the last user message, or "".
func (in Input) LastUserText() string {
	for i := len(in) - 1; i >= 0; i-- {
		if in[i].Role == RoleUser {
			return in[i].Text()
		}
	}
	return ""
}

// StoredMessage is a message persisted in a session history.
type StoredMessage struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id,omitempty"`
	Message   Message   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Session represents a conversation session shared by runs.
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}
