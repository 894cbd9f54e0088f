package agent

import (
	"context"
	"slices"

	"github.com/spetersoncode/runchat"
)

// Verdict is an approval policy outcome for a single tool call.
type Verdict string

const (
	// VerdictRequire asks a human to decide.
	VerdictRequire Verdict = "require"
	// VerdictAllow approves the call without asking.
	VerdictAllow Verdict = "allow"
	// VerdictDeny rejects the call without asking.
	VerdictDeny Verdict = "deny"
)

// ApprovalPolicy decides whether a tool call needs a human decision.
// The returned reason accompanies automatic decisions.
type ApprovalPolicy interface {
	Evaluate(ctx context.Context, call runchat.ToolCall) (Verdict, string, error)
}

// PolicyFunc adapts a function to the ApprovalPolicy interface.
type PolicyFunc func(ctx context.Context, call runchat.ToolCall) (Verdict, string, error)

// Evaluate calls f.
func (f PolicyFunc) Evaluate(ctx context.Context, call runchat.ToolCall) (Verdict, string, error) {
	return f(ctx, call)
}

// RequireAll asks for approval on every call.
type RequireAll struct{}

// Evaluate always returns VerdictRequire.
func (RequireAll) Evaluate(context.Context, runchat.ToolCall) (Verdict, string, error) {
	return VerdictRequire, "", nil
}

// ToolList requires approval only for the listed tool names. An empty list
// requires approval for every tool.
type ToolList []string

// Evaluate returns VerdictRequire for listed tools and VerdictAllow otherwise.
func (l ToolList) Evaluate(_ context.Context, call runchat.ToolCall) (Verdict, string, error) {
	if len(l) == 0 || slices.Contains(l, call.Name) {
		return VerdictRequire, "", nil
	}
	return VerdictAllow, "tool does not require approval", nil
}
