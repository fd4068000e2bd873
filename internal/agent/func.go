package agent

import (
	"context"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// RunFunc is the body of a FuncAgent.
type RunFunc func(ctx context.Context, input domain.Input, emit Emitter) (*domain.RunOutput, error)

// FuncAgent turns a plain function into an Agent.
type FuncAgent struct {
	name        string
	description string
	fn          RunFunc
}

// NewFuncAgent wraps fn as an agent.
func NewFuncAgent(name, description string, fn RunFunc) *FuncAgent {
	return &FuncAgent{name: name, description: description, fn: fn}
}

func (a *FuncAgent) Name() string        { return a.name }
func (a *FuncAgent) Description() string { return a.description }

func (a *FuncAgent) Run(ctx context.Context, input domain.Input, emit Emitter) (*domain.RunOutput, error) {
	return a.fn(ctx, input, emit)
}
