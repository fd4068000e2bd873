package agent

import (
	"context"

	"github.com/xiaot623/gogo/acp/internal/adapter/acpclient"
	"github.com/xiaot623/gogo/acp/internal/domain"
)

// RemoteAgent exposes an agent of another ACP server as a local Agent.
type RemoteAgent struct {
	client      *acpclient.Client
	name        string
	description string
	memory      Memory
}

// RemoteOption configures a RemoteAgent.
type RemoteOption func(*RemoteAgent)

// WithLocalName serves the remote agent under a different local name.
func WithLocalName(name string) RemoteOption {
	return func(a *RemoteAgent) { a.name = name }
}

// WithDescription overrides the description.
func WithDescription(desc string) RemoteOption {
	return func(a *RemoteAgent) { a.description = desc }
}

// WithMemory records each exchange in memory.
func WithMemory(m Memory) RemoteOption {
	return func(a *RemoteAgent) { a.memory = m }
}

// NewRemoteAgent wraps client as an Agent.
func NewRemoteAgent(client *acpclient.Client, opts ...RemoteOption) *RemoteAgent {
	a := &RemoteAgent{
		client:      client,
		name:        client.AgentName(),
		description: "Remote ACP agent " + client.AgentName(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *RemoteAgent) Name() string        { return a.name }
func (a *RemoteAgent) Description() string { return a.description }

// Memory returns the agent's history, which may be nil.
func (a *RemoteAgent) Memory() Memory { return a.memory }

// CheckAgentExists probes the remote for the wrapped agent.
func (a *RemoteAgent) CheckAgentExists(ctx context.Context) error {
	return a.client.CheckAgentExists(ctx)
}

func (a *RemoteAgent) Run(ctx context.Context, input domain.Input, emit Emitter) (*domain.RunOutput, error) {
	var emitErr error
	res, err := a.client.Run(ctx, input, acpclient.OnUpdate(func(u domain.Update) {
		if emitErr != nil {
			return
		}
		u.Seq = 0
		emitErr = emit.Emit(ctx, u)
	}))
	if err != nil {
		return nil, err
	}
	if emitErr != nil {
		return nil, emitErr
	}

	out := &domain.RunOutput{Messages: res.Run.Output}
	if a.memory != nil {
		if err := a.memory.Add(ctx, append(lastUser(input), out.Messages...)...); err != nil {
			return nil, err
		}
	}
	return out, nil
}
