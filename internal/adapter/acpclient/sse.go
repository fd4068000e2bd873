package acpclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// SSEEvent represents a parsed SSE event.
type SSEEvent struct {
	Event string
	Data  string
}

// EventHandler is called for each SSE event from the server.
type EventHandler func(event SSEEvent) error

const maxEventSize = 4 * 1024 * 1024

// parseSSE parses an SSE stream and calls the handler for each event.
func parseSSE(reader io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
		// Comments (": keepalive") and other fields are ignored.
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// ParseEvent decodes the data of an SSE event into a run event.
// The SSE event name wins over the type inside the payload.
func ParseEvent(sse SSEEvent) (*domain.Event, error) {
	var evt domain.Event
	if err := json.Unmarshal([]byte(sse.Data), &evt); err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", sse.Event, err)
	}
	if sse.Event != "" {
		evt.Type = domain.EventType(sse.Event)
	}
	return &evt, nil
}
