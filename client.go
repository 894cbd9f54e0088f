package runchat

import "context"

// ToolConfig wires the tool subsystem into a run.
type ToolConfig struct {
	// Instructions are sent with each run and override the agent defaults.
	Instructions string
	// ServerLabel names the tool server the agent may call.
	ServerLabel string
	// ServerURL is the tool server endpoint, empty when the agent already knows it.
	ServerURL string
	// Headers are forwarded to the tool server (e.g. an authorization header
	// carrying the tool-subsystem token).
	Headers map[string]string
	// RequireApproval asks the backend to pause on every tool call.
	RequireApproval bool
}

// RunClient is the remote run service boundary the driver depends on.
//
// Implementations return categorized errors (see Categorize) so the driver can
// tell transient failures from permanent ones.
type RunClient interface {
	// CreateThread creates a new conversation thread.
	CreateThread(ctx context.Context) (string, error)

	// PostUserMessage appends a user message to the thread.
	PostUserMessage(ctx context.Context, threadID, text string) error

	// StartRun starts the agent on the thread and returns the run id.
	StartRun(ctx context.Context, threadID string, cfg ToolConfig) (string, error)

	// GetRun returns the current snapshot of the run.
	GetRun(ctx context.Context, threadID, runID string) (*Snapshot, error)

	// SubmitToolDecisions delivers one decision per call of the pending
	// required action, in a single request.
	SubmitToolDecisions(ctx context.Context, threadID, runID string, decisions []ToolDecision) error
}

// ToolExecutor runs an approved tool call and returns its textual output.
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (string, error)
}
