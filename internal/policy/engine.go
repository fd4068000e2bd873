// Package policy evaluates run admission with OPA.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by the admission policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.acp_policy.decision"),
		rego.Module("acp_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads the policy from path, or uses DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Input is the document a run admission is evaluated against.
type Input struct {
	Agent     AgentInput `json:"agent"`
	SessionID string     `json:"session_id,omitempty"`
	Mode      string     `json:"mode"`
	Text      string     `json:"text"`
	Messages  int        `json:"messages"`
}

// AgentInput is the agent part of Input.
type AgentInput struct {
	Name     string         `json:"name"`
	Tags     []string       `json:"tags"`
	Metadata map[string]any `json:"metadata"`
}

// Evaluate checks the run admission policy.
// The rule may produce a string decision or an object {decision, reason}.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(toMap(input)))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			decision = DecisionAllow
		}
		return decision, reason, nil
	}
	return DecisionAllow, "unexpected return type", nil
}

// toMap hands rego plain JSON-like values so input paths resolve by json name.
func toMap(in Input) map[string]interface{} {
	tags := make([]interface{}, len(in.Agent.Tags))
	for i, t := range in.Agent.Tags {
		tags[i] = t
	}
	metadata := make(map[string]interface{}, len(in.Agent.Metadata))
	for k, v := range in.Agent.Metadata {
		metadata[k] = v
	}
	return map[string]interface{}{
		"agent": map[string]interface{}{
			"name":     in.Agent.Name,
			"tags":     tags,
			"metadata": metadata,
		},
		"session_id": in.SessionID,
		"mode":       in.Mode,
		"text":       in.Text,
		"messages":   in.Messages,
	}
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package acp_policy

default decision = "allow"

# Agents can be switched off through registration metadata.
decision = {"decision": "block", "reason": "agent is disabled"} {
	input.agent.metadata.disabled == true
}
`
