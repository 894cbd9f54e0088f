package agui

import (
	"errors"
	"strings"
	"testing"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/event"
)

func types(evs []events.Event) []events.EventType {
	out := make([]events.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type()
	}
	return out
}

func assertTypes(t *testing.T, got []events.Event, want ...events.EventType) {
	t.Helper()
	gotTypes := types(got)
	if len(gotTypes) != len(want) {
		t.Fatalf("expected %v, got %v", want, gotTypes)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], gotTypes[i])
		}
	}
}

func assertJSON(t *testing.T, ev events.Event, fragment string) {
	t.Helper()
	data, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(data), fragment) {
		t.Errorf("expected %s in %s", fragment, data)
	}
}

func TestNewMapper(t *testing.T) {
	t.Run("with provided IDs", func(t *testing.T) {
		m := NewMapper("thread-123", "run-456")
		if m.ThreadID() != "thread-123" {
			t.Errorf("expected thread ID 'thread-123', got %q", m.ThreadID())
		}
		if m.RunID() != "run-456" {
			t.Errorf("expected run ID 'run-456', got %q", m.RunID())
		}
	})

	t.Run("generates thread ID when empty", func(t *testing.T) {
		m := NewMapper("", "")
		if m.ThreadID() == "" {
			t.Error("expected generated thread ID, got empty")
		}
	})

	t.Run("takes run ID from first event", func(t *testing.T) {
		m := NewMapper("thread-1", "")
		m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-9", MessageID: "m1", Delta: "hi"})
		if m.RunID() != "run-9" {
			t.Errorf("expected run ID 'run-9', got %q", m.RunID())
		}
	})
}

func TestMapper_LifecycleEvents(t *testing.T) {
	m := NewMapper("thread-1", "run-1")

	if ev := m.RunStarted(); ev.Type() != events.EventTypeRunStarted {
		t.Errorf("expected RUN_STARTED, got %s", ev.Type())
	}
	if ev := m.RunFinished(); ev.Type() != events.EventTypeRunFinished {
		t.Errorf("expected RUN_FINISHED, got %s", ev.Type())
	}
	if ev := m.RunError(errors.New("boom")); ev.Type() != events.EventTypeRunError {
		t.Errorf("expected RUN_ERROR, got %s", ev.Type())
	}
}

func TestMapper_TextStream(t *testing.T) {
	m := NewMapper("thread-1", "run-1")

	first := m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m1", Delta: "Hel"})
	assertTypes(t, first,
		events.EventTypeRunStarted,
		events.EventTypeTextMessageStart,
		events.EventTypeTextMessageContent,
	)

	second := m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m1", Delta: "lo"})
	assertTypes(t, second, events.EventTypeTextMessageContent)

	t.Run("new message closes the previous one", func(t *testing.T) {
		got := m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m2", Delta: "again"})
		assertTypes(t, got,
			events.EventTypeTextMessageEnd,
			events.EventTypeTextMessageStart,
			events.EventTypeTextMessageContent,
		)
	})

	t.Run("completion closes the open message", func(t *testing.T) {
		got := m.MapEvent(event.Event{Type: event.RunCompleted, RunID: "run-1", Text: "Hello again"})
		assertTypes(t, got, events.EventTypeTextMessageEnd, events.EventTypeRunFinished)
	})

	t.Run("empty delta is dropped", func(t *testing.T) {
		m := NewMapper("thread-1", "run-1")
		m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m1", Delta: "x"})
		got := m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m1"})
		if len(got) != 0 {
			t.Errorf("expected no events, got %v", types(got))
		}
	})
}

func TestMapper_CompletionWithoutText(t *testing.T) {
	m := NewMapper("thread-1", "run-1")

	got := m.MapEvent(event.Event{Type: event.RunCompleted, RunID: "run-1", Text: "final answer"})
	assertTypes(t, got,
		events.EventTypeRunStarted,
		events.EventTypeTextMessageStart,
		events.EventTypeTextMessageContent,
		events.EventTypeTextMessageEnd,
		events.EventTypeRunFinished,
	)

	assertJSON(t, got[2], `"delta":"final answer"`)
}

func TestMapper_ToolCalls(t *testing.T) {
	call := &runchat.ToolCall{ID: "call_1", Name: "current_time", Arguments: `{"timezone":"UTC"}`}

	t.Run("approval announces the call", func(t *testing.T) {
		m := NewMapper("thread-1", "run-1")
		m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m1", Delta: "Let me check."})

		got := m.MapEvent(event.Event{Type: event.ApprovalRequested, RunID: "run-1", ToolCall: call})
		assertTypes(t, got,
			events.EventTypeTextMessageEnd,
			events.EventTypeToolCallStart,
			events.EventTypeToolCallArgs,
			events.EventTypeToolCallEnd,
		)

		t.Run("execution only adds the result", func(t *testing.T) {
			done := *call
			done.Output = "2025-06-01T12:00:00Z"
			got := m.MapEvent(event.Event{Type: event.ToolCallRequested, RunID: "run-1", ToolCall: &done})
			assertTypes(t, got, events.EventTypeToolCallResult)

			assertJSON(t, got[0], `"toolCallId":"call_1"`)
			assertJSON(t, got[0], `"content":"2025-06-01T12:00:00Z"`)
		})
	})

	t.Run("unapproved execution announces and reports", func(t *testing.T) {
		m := NewMapper("thread-1", "run-1")
		done := runchat.ToolCall{ID: "call_2", Name: "add", Output: "3"}
		got := m.MapEvent(event.Event{Type: event.ToolCallRequested, RunID: "run-1", ToolCall: &done})
		assertTypes(t, got,
			events.EventTypeRunStarted,
			events.EventTypeToolCallStart,
			events.EventTypeToolCallEnd,
			events.EventTypeToolCallResult,
		)
	})

	t.Run("nil tool call is ignored", func(t *testing.T) {
		m := NewMapper("thread-1", "run-1")
		m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m1", Delta: "x"})
		if got := m.MapEvent(event.Event{Type: event.ApprovalRequested, RunID: "run-1"}); len(got) != 0 {
			t.Errorf("expected no events, got %v", types(got))
		}
	})
}

func TestMapper_Failure(t *testing.T) {
	m := NewMapper("thread-1", "run-1")
	m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m1", Delta: "Working"})

	got := m.MapEvent(event.Event{Type: event.RunFailed, RunID: "run-1", Reason: "rate limited"})
	assertTypes(t, got, events.EventTypeTextMessageEnd, events.EventTypeRunError)

	assertJSON(t, got[1], `"message":"rate limited"`)
}

func TestMapper_NewRunResets(t *testing.T) {
	m := NewMapper("thread-1", "")
	m.MapEvent(event.Event{Type: event.RunFailed, RunID: "run-1", Reason: "x"})

	got := m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-2", MessageID: "m1", Delta: "retry"})
	assertTypes(t, got,
		events.EventTypeRunStarted,
		events.EventTypeTextMessageStart,
		events.EventTypeTextMessageContent,
	)
	if m.RunID() != "run-2" {
		t.Errorf("expected run ID 'run-2', got %q", m.RunID())
	}
}

func TestMapper_NoAGUIEquivalent(t *testing.T) {
	m := NewMapper("thread-1", "run-1")
	m.MapEvent(event.Event{Type: event.TextDelta, RunID: "run-1", MessageID: "m1", Delta: "x"})

	for _, typ := range []event.Type{event.Citation, event.ApprovalResolved} {
		if got := m.MapEvent(event.Event{Type: typ, RunID: "run-1"}); len(got) != 0 {
			t.Errorf("%s: expected no events, got %v", typ, types(got))
		}
	}
}
