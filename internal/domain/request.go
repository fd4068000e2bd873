package domain

// RunCreateRequest is the body of POST /runs.
type RunCreateRequest struct {
	AgentName string  `json:"agent_name"`
	Input     Input   `json:"input"`
	SessionID string  `json:"session_id,omitempty"`
	Mode      RunMode `json:"mode,omitempty"`
}

// AgentsListResponse is the body of GET /agents.
type AgentsListResponse struct {
	Agents []AgentDescriptor `json:"agents"`
}

// EventsListResponse is the body of GET /runs/:run_id/events.
type EventsListResponse struct {
	Events []Event `json:"events"`
}

// MessagesListResponse is the body of GET /sessions/:session_id/messages.
type MessagesListResponse struct {
	Messages []StoredMessage `json:"messages"`
	HasMore  bool            `json:"has_more"`
}
