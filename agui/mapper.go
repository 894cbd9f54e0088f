package agui

import (
	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/runchat/event"
)

// RoleAssistant is the AG-UI role of agent messages.
const RoleAssistant = "assistant"

// Mapper converts runchat events to AG-UI events. It tracks the open text
// message so that AG-UI's Start-Content-End sequence is honored.
//
// Create a new Mapper per turn with NewMapper.
type Mapper struct {
	threadID string
	runID    string
	started  bool
	message  string          // id of the open text message
	text     bool            // any text delivered this run
	tools    map[string]bool // tool calls already announced
}

// NewMapper creates a Mapper. An empty runID is taken from the first event.
func NewMapper(threadID, runID string) *Mapper {
	if threadID == "" {
		threadID = events.GenerateThreadID()
	}
	return &Mapper{
		threadID: threadID,
		runID:    runID,
		tools:    make(map[string]bool),
	}
}

// ThreadID returns the thread ID for this mapper.
func (m *Mapper) ThreadID() string {
	return m.threadID
}

// RunID returns the run ID for this mapper.
func (m *Mapper) RunID() string {
	return m.runID
}

// RunStarted returns a RUN_STARTED event.
func (m *Mapper) RunStarted() events.Event {
	return events.NewRunStartedEvent(m.threadID, m.runID)
}

// RunFinished returns a RUN_FINISHED event.
func (m *Mapper) RunFinished() events.Event {
	return events.NewRunFinishedEvent(m.threadID, m.runID)
}

// RunError returns a RUN_ERROR event.
func (m *Mapper) RunError(err error) events.Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return events.NewRunErrorEvent(msg)
}

// MapEvent converts a runchat event into zero or more AG-UI events.
func (m *Mapper) MapEvent(e event.Event) []events.Event {
	var out []events.Event

	if e.RunID != "" && e.RunID != m.runID {
		// A new run on the same thread: start over.
		m.runID = e.RunID
		m.started = false
		m.message = ""
		m.text = false
		m.tools = make(map[string]bool)
	}
	if !m.started {
		if m.runID == "" {
			m.runID = events.GenerateRunID()
		}
		m.started = true
		out = append(out, m.RunStarted())
	}

	switch e.Type {
	case event.TextDelta:
		if e.Delta == "" {
			break
		}
		if m.message != e.MessageID {
			out = m.endMessage(out)
			m.message = e.MessageID
			out = append(out, events.NewTextMessageStartEvent(e.MessageID, events.WithRole(RoleAssistant)))
		}
		m.text = true
		out = append(out, events.NewTextMessageContentEvent(e.MessageID, e.Delta))

	case event.ToolCallRequested:
		if e.ToolCall == nil {
			break
		}
		out = m.endMessage(out)
		out = m.announceTool(out, e)
		if e.ToolCall.Output != "" {
			out = append(out, events.NewToolCallResultEvent(events.GenerateMessageID(), e.ToolCall.ID, e.ToolCall.Output))
		}

	case event.ApprovalRequested:
		if e.ToolCall == nil {
			break
		}
		out = m.endMessage(out)
		out = m.announceTool(out, e)

	case event.RunCompleted:
		out = m.endMessage(out)
		if !m.text && e.Text != "" {
			// The run finished without streaming any text.
			id := events.GenerateMessageID()
			out = append(out,
				events.NewTextMessageStartEvent(id, events.WithRole(RoleAssistant)),
				events.NewTextMessageContentEvent(id, e.Text),
				events.NewTextMessageEndEvent(id),
			)
		}
		out = append(out, m.RunFinished())

	case event.RunFailed:
		out = m.endMessage(out)
		reason := e.Reason
		if reason == "" {
			reason = "run failed"
		}
		out = append(out, events.NewRunErrorEvent(reason))

	case event.Citation, event.ApprovalResolved:
		// No AG-UI equivalent.
	}

	return out
}

func (m *Mapper) endMessage(out []events.Event) []events.Event {
	if m.message == "" {
		return out
	}
	out = append(out, events.NewTextMessageEndEvent(m.message))
	m.message = ""
	return out
}

// announceTool emits the start, args and end of a tool call once per call id.
func (m *Mapper) announceTool(out []events.Event, e event.Event) []events.Event {
	tc := e.ToolCall
	if m.tools[tc.ID] {
		return out
	}
	m.tools[tc.ID] = true
	out = append(out, events.NewToolCallStartEvent(tc.ID, tc.Name))
	if tc.Arguments != "" {
		out = append(out, events.NewToolCallArgsEvent(tc.ID, tc.Arguments))
	}
	return append(out, events.NewToolCallEndEvent(tc.ID))
}
