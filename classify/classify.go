// Package classify turns run snapshots into events.
//
// Classification is a pure function of a Cursor (what has already been
// delivered) and a Snapshot (what the backend reports now). The same inputs
// always yield the same events and the same next cursor, so a snapshot that
// is fetched twice after a transient error never produces duplicate events.
package classify

import (
	"fmt"
	"strings"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/event"
)

// Cursor records what has been emitted for a run. It is a value: Classify
// never mutates the cursor it is given. The exported fields make it
// serializable so a session can be persisted and restored.
type Cursor struct {
	// Order lists message ids in the order they were first seen.
	Order []string `json:"order,omitempty"`

	// Text is the text already delivered per message id.
	Text map[string]string `json:"text,omitempty"`

	// Citations is the number of citations already delivered per message id.
	Citations map[string]int `json:"citations,omitempty"`

	// ToolCalls holds the ids of observed tool calls already emitted.
	ToolCalls map[string]bool `json:"toolCalls,omitempty"`

	// Approvals holds the ids of approval requests already emitted.
	Approvals map[string]bool `json:"approvals,omitempty"`

	// Terminal is set once a terminal event has been emitted.
	Terminal bool `json:"terminal,omitempty"`
}

// Delivered returns the concatenated text delivered so far, in message order.
func (c Cursor) Delivered() string {
	var b strings.Builder
	for _, id := range c.Order {
		b.WriteString(c.Text[id])
	}
	return b.String()
}

// Seen reports whether an approval request for callID was already emitted.
func (c Cursor) Seen(callID string) bool {
	return c.Approvals[callID]
}

func (c Cursor) clone() Cursor {
	out := Cursor{
		Order:     append([]string(nil), c.Order...),
		Text:      make(map[string]string, len(c.Text)),
		Citations: make(map[string]int, len(c.Citations)),
		ToolCalls: make(map[string]bool, len(c.ToolCalls)),
		Approvals: make(map[string]bool, len(c.Approvals)),
		Terminal:  c.Terminal,
	}
	for k, v := range c.Text {
		out.Text[k] = v
	}
	for k, v := range c.Citations {
		out.Citations[k] = v
	}
	for k, v := range c.ToolCalls {
		out.ToolCalls[k] = v
	}
	for k, v := range c.Approvals {
		out.Approvals[k] = v
	}
	return out
}

// Classify returns the events a snapshot contributes beyond what cur has
// already delivered, and the cursor to use for the next snapshot.
//
// Events are ordered: for each message in generation order its text delta
// followed by its new citations; then newly observed tool calls; then new
// approval requests; then the terminal event. Text therefore always precedes
// a pause. Nothing is emitted once the cursor is terminal.
func Classify(cur Cursor, snap runchat.Snapshot) ([]event.Event, Cursor) {
	next := cur.clone()
	if cur.Terminal {
		return nil, next
	}

	var events []event.Event

	for _, m := range snap.Messages {
		delivered, known := next.Text[m.ID]
		if !known {
			next.Order = append(next.Order, m.ID)
			next.Text[m.ID] = ""
		}
		// Cumulative text only ever grows. A shorter or rewritten text
		// cannot be expressed as a suffix and is skipped.
		if len(m.Text) > len(delivered) && strings.HasPrefix(m.Text, delivered) {
			events = append(events, event.Event{
				Type:      event.TextDelta,
				MessageID: m.ID,
				Delta:     m.Text[len(delivered):],
			})
			next.Text[m.ID] = m.Text
		}

		for i := next.Citations[m.ID]; i < len(m.Citations); i++ {
			c := m.Citations[i]
			if c.MessageID == "" {
				c.MessageID = m.ID
			}
			events = append(events, event.Event{Type: event.Citation, MessageID: m.ID, Citation: &c})
		}
		if len(m.Citations) > next.Citations[m.ID] {
			next.Citations[m.ID] = len(m.Citations)
		}
	}

	for _, tc := range snap.ToolCalls {
		if next.ToolCalls[tc.ID] {
			continue
		}
		next.ToolCalls[tc.ID] = true
		call := tc
		events = append(events, event.Event{Type: event.ToolCallRequested, ToolCall: &call})
	}

	if snap.Status == runchat.RunRequiresAction && snap.RequiredAction != nil {
		for _, tc := range snap.RequiredAction.ToolCalls {
			if next.Approvals[tc.ID] {
				continue
			}
			next.Approvals[tc.ID] = true
			call := tc
			events = append(events, event.Event{Type: event.ApprovalRequested, ToolCall: &call})
		}
	}

	if snap.Status.Terminal() {
		next.Terminal = true
		events = append(events, terminalEvent(snap, next))
	}

	return events, next
}

func terminalEvent(snap runchat.Snapshot, cur Cursor) event.Event {
	if snap.Status == runchat.RunCompleted {
		text := snap.FinalText
		if text == "" {
			if len(snap.Messages) > 0 {
				var b strings.Builder
				for _, m := range snap.Messages {
					b.WriteString(m.Text)
				}
				text = b.String()
			} else {
				text = cur.Delivered()
			}
		}
		var citations []runchat.Citation
		for _, m := range snap.Messages {
			for _, c := range m.Citations {
				if c.MessageID == "" {
					c.MessageID = m.ID
				}
				citations = append(citations, c)
			}
		}
		return event.Event{Type: event.RunCompleted, Text: text, Citations: citations}
	}

	ev := event.Event{Type: event.RunFailed, Reason: fmt.Sprintf("run %s", snap.Status)}
	if snap.LastError != nil {
		ev.Code = snap.LastError.Code
		if snap.LastError.Message != "" {
			ev.Reason = snap.LastError.Message
		}
	}
	return ev
}
