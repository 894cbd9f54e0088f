package runchat

// RunStatus is the lifecycle status reported by the remote run service.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether the status ends the run's lifecycle.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete:
		return true
	}
	return false
}

// Failed reports whether the status is terminal and not a success.
func (s RunStatus) Failed() bool {
	return s.Terminal() && s != RunCompleted
}

// CitationKind identifies the source type of a citation.
type CitationKind string

const (
	CitationFile CitationKind = "file_citation"
	CitationURL  CitationKind = "url_citation"
)

// Citation is a source annotation attached to assistant text.
type Citation struct {
	MessageID string       `json:"messageId,omitempty"`
	Kind      CitationKind `json:"kind"`
	// Source is the file id for file citations or the URL for URL citations.
	Source string `json:"source"`
	Title  string `json:"title,omitempty"`
	// Quote is the annotated span of the message text (e.g. "【4:0†source】").
	Quote string `json:"quote,omitempty"`
	// Offset and End are character offsets into the message text.
	Offset int `json:"offset"`
	End    int `json:"end"`
}

// ToolCall is a tool invocation requested by the agent.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments is the raw JSON argument object as produced by the agent.
	Arguments   string `json:"arguments,omitempty"`
	ServerLabel string `json:"serverLabel,omitempty"`
	// Output is set once the tool has run.
	Output string `json:"output,omitempty"`
}

// ToolDecision is the user's verdict on a single pending tool call.
type ToolDecision struct {
	CallID   string `json:"callId"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// MessageSnapshot is the cumulative state of one assistant message.
type MessageSnapshot struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}

// RequiredAction lists the tool calls awaiting a decision.
type RequiredAction struct {
	ToolCalls []ToolCall `json:"toolCalls"`
}

// RunError is the backend-supplied failure detail.
type RunError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Snapshot is one observation of a remote run.
//
// Messages carry cumulative text in generation order; consumers derive deltas
// by comparing against what they already delivered. RequiredAction is set only
// when Status is RunRequiresAction.
type Snapshot struct {
	RunID          string            `json:"runId"`
	ThreadID       string            `json:"threadId"`
	Status         RunStatus         `json:"status"`
	Messages       []MessageSnapshot `json:"messages,omitempty"`
	ToolCalls      []ToolCall        `json:"toolCalls,omitempty"`
	RequiredAction *RequiredAction   `json:"requiredAction,omitempty"`
	FinalText      string            `json:"finalText,omitempty"`
	LastError      *RunError         `json:"lastError,omitempty"`
}
