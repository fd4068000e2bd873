// Package acpclient provides an HTTP client for remote ACP agents with SSE streaming.
package acpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/acp/internal/domain"
	"github.com/xiaot623/gogo/acp/internal/logger"
)

// Client talks to one named agent on a remote ACP server.
type Client struct {
	baseURL    string
	agentName  string
	sessionID  string
	timeout    time.Duration
	httpClient *http.Client
	log        *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client is not modified;
// WithTimeout applies to a copy. A nil client keeps the default.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSessionID makes every run of the client share a server-side session.
func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

// WithTimeout sets the overall HTTP timeout. Streaming runs should keep it generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for agentName served at baseURL.
func New(baseURL, agentName string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		agentName: agentName,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for streaming
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	c.log = logger.WithComponent("acpclient").WithField("agent", agentName)
	return c
}

// AgentName returns the remote agent name.
func (c *Client) AgentName() string { return c.agentName }

// SessionID returns the session shared by runs, or "".
func (c *Client) SessionID() string { return c.sessionID }

// UpdateFunc observes intermediate updates.
type UpdateFunc func(domain.Update)

// EventFunc observes every decoded stream event.
type EventFunc func(domain.Event)

type runConfig struct {
	onUpdate []UpdateFunc
	onEvent  []EventFunc
}

// RunOption configures a single run.
type RunOption func(*runConfig)

// OnUpdate registers an update observer. Observers run sequentially in emission order.
func OnUpdate(fn UpdateFunc) RunOption {
	return func(rc *runConfig) { rc.onUpdate = append(rc.onUpdate, fn) }
}

// OnEvent registers an observer for every stream event, terminal ones included.
func OnEvent(fn EventFunc) RunOption {
	return func(rc *runConfig) { rc.onEvent = append(rc.onEvent, fn) }
}

// Result is the terminal value of a run.
type Result struct {
	Run     *domain.Run
	Updates int
}

// Text returns the response text of the run.
func (r *Result) Text() string {
	if r == nil || r.Run == nil {
		return ""
	}
	return r.Run.OutputText()
}

// Run invokes the agent and streams events until the run terminates.
func (c *Client) Run(ctx context.Context, input domain.Input, opts ...RunOption) (*Result, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: input is required", domain.ErrInvalidInput)
	}
	rc := &runConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	body, err := json.Marshal(domain.RunCreateRequest{
		AgentName: c.agentName,
		Input:     input,
		SessionID: c.sessionID,
		Mode:      domain.RunModeStream,
	})
	if err != nil {
		return nil, domain.NewFrameworkError(nil, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewFrameworkError(nil, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	result := &Result{}
	var terminal error
	finished := false
	err = parseSSE(resp.Body, func(sse SSEEvent) error {
		evt, err := ParseEvent(sse)
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed event")
			return nil
		}
		for _, fn := range rc.onEvent {
			fn(*evt)
		}
		switch {
		case evt.Type.IsUpdate() && evt.Update != nil:
			result.Updates++
			for _, fn := range rc.onUpdate {
				fn(*evt.Update)
			}
		case evt.Type == domain.EventTypeRunCompleted:
			result.Run = evt.Run
			finished = true
		case evt.Type == domain.EventTypeRunFailed:
			terminal = c.failedError(evt)
			finished = true
		case evt.Type == domain.EventTypeRunCancelled:
			terminal = domain.Aborted(errors.New("run cancelled by server"))
			finished = true
		case evt.Type == domain.EventTypeError:
			terminal = c.failedError(evt)
			finished = true
		}
		if finished {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, c.transportError(ctx, err)
	}
	if terminal != nil {
		return nil, terminal
	}
	if !finished {
		if ctx.Err() != nil {
			return nil, domain.Aborted(ctx.Err())
		}
		return nil, domain.NewFrameworkError(nil, "stream ended before the run finished", nil)
	}
	if result.Run == nil {
		return nil, domain.NewFrameworkError(nil, "run.completed event carried no run", nil)
	}
	return result, nil
}

var errStop = errors.New("stop")

// Start runs the agent asynchronously and returns a handle to the pending run.
func (c *Client) Start(ctx context.Context, input domain.Input, opts ...RunOption) *Pending {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pending{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer cancel()
		p.result, p.err = c.Run(ctx, input, opts...)
		close(p.done)
	}()
	return p
}

// Submit creates the run in async mode and returns it without waiting for it to finish.
// Progress can be followed with GetRun, Events or Watch.
func (c *Client) Submit(ctx context.Context, input domain.Input) (*domain.Run, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: input is required", domain.ErrInvalidInput)
	}
	body, err := json.Marshal(domain.RunCreateRequest{
		AgentName: c.agentName,
		Input:     input,
		SessionID: c.sessionID,
		Mode:      domain.RunModeAsync,
	})
	if err != nil {
		return nil, domain.NewFrameworkError(nil, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewFrameworkError(nil, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var run domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, domain.NewFrameworkError(nil, "failed to decode run", err)
	}
	return &run, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.getJSON(ctx, "/ping", nil)
}

// ListAgents lists every agent exposed by the server.
func (c *Client) ListAgents(ctx context.Context) ([]domain.AgentDescriptor, error) {
	var resp domain.AgentsListResponse
	if err := c.getJSON(ctx, "/agents", &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// GetAgent fetches one agent descriptor.
func (c *Client) GetAgent(ctx context.Context, name string) (*domain.AgentDescriptor, error) {
	var desc domain.AgentDescriptor
	if err := c.getJSON(ctx, "/agents/"+url.PathEscape(name), &desc); err != nil {
		var agentErr *domain.AgentError
		if errors.As(err, &agentErr) {
			agentErr.Agent = name
		}
		return nil, err
	}
	return &desc, nil
}

// CheckAgentExists succeeds iff the remote lists the client's agent.
func (c *Client) CheckAgentExists(ctx context.Context) error {
	agents, err := c.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.Name == c.agentName {
			return nil
		}
	}
	return domain.NewAgentNotFound(c.agentName)
}

// GetRun fetches a run by id.
func (c *Client) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	if err := c.getJSON(ctx, "/runs/"+url.PathEscape(runID), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelRun asks the server to cancel an in-flight run.
func (c *Client) CancelRun(ctx context.Context, runID string) (*domain.Run, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs/"+url.PathEscape(runID)+"/cancel", nil)
	if err != nil {
		return nil, domain.NewFrameworkError(nil, "failed to create request", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}
	var run domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, domain.NewFrameworkError(nil, "failed to decode run", err)
	}
	return &run, nil
}

// Events replays the persisted events of a run.
func (c *Client) Events(ctx context.Context, runID string) ([]domain.Event, error) {
	var resp domain.EventsListResponse
	if err := c.getJSON(ctx, "/runs/"+url.PathEscape(runID)+"/events", &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.NewFrameworkError(nil, "failed to create request", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewFrameworkError(nil, "failed to decode response", err)
	}
	return nil
}

// transportError classifies a failed round trip: caller cancellation is an abort,
// everything else means the endpoint could not be reached.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.Aborted(ctx.Err())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Aborted(err)
	}
	return domain.NewFrameworkError(domain.ErrRemoteUnavailable, "failed to reach agent server "+c.baseURL, err)
}

func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body domain.ErrorBody
	decoded := json.Unmarshal(data, &body) == nil && body.Code != ""

	if resp.StatusCode == http.StatusNotFound && (!decoded || body.Code == domain.ErrorCodeNotFound) {
		if runID, ok := body.Data["run_id"].(string); ok {
			return &domain.RunNotFoundError{RunID: runID}
		}
		if name, ok := body.Data["agent_name"].(string); ok && name != "" {
			return domain.NewAgentNotFound(name)
		}
		return domain.NewAgentNotFound(c.agentName)
	}
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
		return domain.NewFrameworkError(domain.ErrRemoteUnavailable, fmt.Sprintf("agent server returned status %d", resp.StatusCode), nil)
	}
	if decoded {
		return domain.NewFrameworkError(nil, fmt.Sprintf("agent server returned status %d", resp.StatusCode), &body)
	}
	return domain.NewFrameworkError(nil, fmt.Sprintf("agent server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
}

func (c *Client) failedError(evt *domain.Event) error {
	body := evt.Error
	if body == nil && evt.Run != nil {
		body = evt.Run.Error
	}
	if body == nil {
		body = &domain.ErrorBody{Code: domain.ErrorCodeServerError, Message: "run failed"}
	}
	if body.Code == domain.ErrorCodeNotFound {
		return &domain.AgentError{Agent: c.agentName, Message: body.Message}
	}
	return domain.NewFrameworkError(nil, "agent run failed", body)
}
