// Package event defines the typed events produced while a remote run is
// observed. Events are classified from run snapshots and delivered in order
// to a Sink; the type set maps onto the AG-UI protocol in the agui package.
package event

import (
	"time"

	"github.com/spetersoncode/runchat"
)

// Type identifies the kind of event.
type Type string

// Content events
const (
	// TextDelta carries the newly generated suffix of an assistant message.
	TextDelta Type = "text_delta"

	// Citation fires once per source annotation attached to assistant text.
	Citation Type = "citation"
)

// Tool call events
const (
	// ToolCallRequested fires when the agent is observed calling a tool.
	ToolCallRequested Type = "tool_call_requested"

	// ApprovalRequested fires when a tool call is paused awaiting a decision.
	ApprovalRequested Type = "approval_requested"

	// ApprovalResolved fires after a decided call has been delivered to the
	// backend. Approved carries the decision; Auto is set when no human was asked.
	ApprovalResolved Type = "approval_resolved"
)

// Run lifecycle events
const (
	// RunCompleted fires once when the run completes successfully.
	RunCompleted Type = "run_completed"

	// RunFailed fires once when the run ends without completing.
	RunFailed Type = "run_failed"
)

// Terminal reports whether the event type ends a run.
func (t Type) Terminal() bool {
	return t == RunCompleted || t == RunFailed
}

// Event represents an observable occurrence during a run.
type Event struct {
	// Type identifies the kind of event.
	Type Type `json:"type"`

	// RunID identifies the run the event belongs to. Stamped at delivery.
	RunID string `json:"runId,omitempty"`

	// MessageID identifies the message for TextDelta events.
	MessageID string `json:"messageId,omitempty"`

	// Delta contains the incremental text for TextDelta events.
	Delta string `json:"delta,omitempty"`

	// Citation is set for Citation events.
	Citation *runchat.Citation `json:"citation,omitempty"`

	// ToolCall is set for tool and approval events.
	ToolCall *runchat.ToolCall `json:"toolCall,omitempty"`

	// Approved and Auto describe the decision for ApprovalResolved events.
	Approved bool `json:"approved,omitempty"`
	Auto     bool `json:"auto,omitempty"`

	// Reason is the denial reason (ApprovalResolved) or failure reason (RunFailed).
	Reason string `json:"reason,omitempty"`

	// Code is the backend error code for RunFailed events.
	Code string `json:"code,omitempty"`

	// Text is the final text for RunCompleted events.
	Text string `json:"text,omitempty"`

	// Citations collects every citation of the run for RunCompleted events.
	Citations []runchat.Citation `json:"citations,omitempty"`

	// Timestamp is when the event was delivered.
	Timestamp time.Time `json:"timestamp"`
}
