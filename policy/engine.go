// Package policy evaluates tool-approval rules written in Rego.
//
// An Engine implements agent.ApprovalPolicy: for every tool call the agent
// requests, the policy decides whether a human must approve it, or whether
// it is allowed or denied outright.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
)

// Query is the rule every policy module must define. It evaluates to an
// object with a "verdict" of require, allow or deny and an optional
// "reason".
const Query = "data.runchat.approval.decision"

// DefaultPolicy asks for approval on everything except read-only demo tools.
const DefaultPolicy = `
package runchat.approval

default decision = {"verdict": "require"}

read_only = {"current_time", "word_count"}

decision = {"verdict": "allow", "reason": "read-only tool"} {
	read_only[input.tool.name]
}
`

// Engine is a prepared Rego query.
type Engine struct {
	query rego.PreparedEvalQuery
}

var _ agent.ApprovalPolicy = (*Engine)(nil)

// NewEngine compiles the policy module.
func NewEngine(ctx context.Context, module string) (*Engine, error) {
	r := rego.New(
		rego.Query(Query),
		rego.Module("approval.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Load compiles the policy stored at path. An empty path loads DefaultPolicy.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewEngine(ctx, string(data))
}

// Input is the document a policy sees as input.
type Input struct {
	Tool InputTool `json:"tool"`
}

// InputTool describes the call under evaluation. Arguments holds the
// decoded argument object, or the raw string when it is not valid JSON.
type InputTool struct {
	Name        string `json:"name"`
	ServerLabel string `json:"server_label,omitempty"`
	Arguments   any    `json:"arguments"`
}

// NewInput builds the policy input for call.
func NewInput(call runchat.ToolCall) Input {
	var args any = call.Arguments
	if call.Arguments != "" {
		var decoded any
		if err := json.Unmarshal([]byte(call.Arguments), &decoded); err == nil {
			args = decoded
		}
	}
	return Input{Tool: InputTool{Name: call.Name, ServerLabel: call.ServerLabel, Arguments: args}}
}

// Evaluate implements agent.ApprovalPolicy.
func (e *Engine) Evaluate(ctx context.Context, call runchat.ToolCall) (agent.Verdict, string, error) {
	input, err := toMap(NewInput(call))
	if err != nil {
		return "", "", err
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return agent.VerdictRequire, "", nil
	}

	val, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("policy decision is %T, want object", results[0].Expressions[0].Value)
	}
	reason, _ := val["reason"].(string)

	switch v, _ := val["verdict"].(string); agent.Verdict(v) {
	case agent.VerdictRequire, agent.VerdictAllow, agent.VerdictDeny:
		return agent.Verdict(v), reason, nil
	default:
		return "", "", fmt.Errorf("policy returned unknown verdict %q", v)
	}
}

// toMap round-trips v through JSON so Rego sees plain maps and slices.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode policy input: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode policy input: %w", err)
	}
	return out, nil
}
