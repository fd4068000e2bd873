package agent

import (
	"context"
	"strings"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// EchoAgent replies with the last user message, streaming it word by word.
type EchoAgent struct {
	name   string
	memory Memory
}

// NewEchoAgent creates an echo agent. A nil memory keeps no history.
func NewEchoAgent(name string, memory Memory) *EchoAgent {
	if name == "" {
		name = "echo"
	}
	return &EchoAgent{name: name, memory: memory}
}

func (a *EchoAgent) Name() string        { return a.name }
func (a *EchoAgent) Description() string { return "Echoes the last user message back." }

// Memory returns the agent's history, which may be nil.
func (a *EchoAgent) Memory() Memory { return a.memory }

func (a *EchoAgent) Run(ctx context.Context, input domain.Input, emit Emitter) (*domain.RunOutput, error) {
	text := input.LastUserText()
	words := strings.Fields(text)
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			w = " " + w
		}
		if err := EmitText(ctx, emit, w); err != nil {
			return nil, err
		}
	}

	out := domain.TextOutput(text)
	if a.memory != nil {
		if err := a.memory.Add(ctx, append(lastUser(input), out.Messages...)...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func lastUser(input domain.Input) []domain.Message {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == domain.RoleUser {
			return []domain.Message{input[i]}
		}
	}
	return nil
}
