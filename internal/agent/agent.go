// Package agent defines the agent contract served over ACP and the built-in agents.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaot623/gogo/acp/internal/domain"
)

// Agent is a callable unit that accepts conversational input and produces a response.
// Run may emit any number of updates before returning.
type Agent interface {
	Name() string
	Description() string
	Run(ctx context.Context, input domain.Input, emit Emitter) (*domain.RunOutput, error)
}

// TypeTagger is implemented by values that declare a stable registry type tag.
type TypeTagger interface {
	AgentType() string
}

// Emitter receives updates from a running agent.
type Emitter interface {
	Emit(ctx context.Context, u domain.Update) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, u domain.Update) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, u domain.Update) error {
	return f(ctx, u)
}

// Discard drops every update.
var Discard Emitter = EmitterFunc(func(context.Context, domain.Update) error { return nil })

// EmitText emits a text update.
func EmitText(ctx context.Context, emit Emitter, text string) error {
	return emit.Emit(ctx, domain.Update{Text: text})
}

// EmitData emits a structured update of the given kind.
func EmitData(ctx context.Context, emit Emitter, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}
	return emit.Emit(ctx, domain.Update{Kind: kind, Data: data})
}
