package classify

import (
	"testing"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, text string, citations ...runchat.Citation) runchat.MessageSnapshot {
	return runchat.MessageSnapshot{ID: id, Text: text, Citations: citations}
}

func running(messages ...runchat.MessageSnapshot) runchat.Snapshot {
	return runchat.Snapshot{RunID: "run_1", Status: runchat.RunInProgress, Messages: messages}
}

func requiresAction(calls ...runchat.ToolCall) runchat.Snapshot {
	return runchat.Snapshot{
		RunID:          "run_1",
		Status:         runchat.RunRequiresAction,
		RequiredAction: &runchat.RequiredAction{ToolCalls: calls},
	}
}

// feed classifies snapshots in sequence and returns all events.
func feed(snaps ...runchat.Snapshot) ([]event.Event, Cursor) {
	var all []event.Event
	var cur Cursor
	for _, s := range snaps {
		var evs []event.Event
		evs, cur = Classify(cur, s)
		all = append(all, evs...)
	}
	return all, cur
}

func types(evs []event.Event) []event.Type {
	out := make([]event.Type, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestIncrementalTextThenApproval(t *testing.T) {
	evs, _ := feed(
		running(msg("m1", "Hel")),
		running(msg("m1", "Hello")),
		requiresAction(runchat.ToolCall{ID: "c1", Name: "search", Arguments: `{"q":"go"}`}),
	)

	require.Len(t, evs, 3)
	assert.Equal(t, event.TextDelta, evs[0].Type)
	assert.Equal(t, "Hel", evs[0].Delta)
	assert.Equal(t, event.TextDelta, evs[1].Type)
	assert.Equal(t, "lo", evs[1].Delta)
	assert.Equal(t, event.ApprovalRequested, evs[2].Type)
	assert.Equal(t, "c1", evs[2].ToolCall.ID)
	assert.Equal(t, "search", evs[2].ToolCall.Name)
}

func TestCompletionAfterApproval(t *testing.T) {
	_, cur := feed(
		running(msg("m1", "Hel")),
		running(msg("m1", "Hello")),
		requiresAction(runchat.ToolCall{ID: "c1", Name: "search"}),
	)

	evs, cur := Classify(cur, runchat.Snapshot{RunID: "run_1", Status: runchat.RunCompleted, FinalText: "Hello, done"})
	require.Len(t, evs, 1)
	assert.Equal(t, event.RunCompleted, evs[0].Type)
	assert.Equal(t, "Hello, done", evs[0].Text)
	assert.True(t, cur.Terminal)

	t.Run("nothing after terminal", func(t *testing.T) {
		again, _ := Classify(cur, runchat.Snapshot{Status: runchat.RunCompleted, FinalText: "Hello, done"})
		assert.Empty(t, again)
		more, _ := Classify(cur, running(msg("m1", "Hello, done and more")))
		assert.Empty(t, more)
	})
}

func TestTieBreakTextBeforeRequests(t *testing.T) {
	snap := runchat.Snapshot{
		Status:    runchat.RunRequiresAction,
		Messages:  []runchat.MessageSnapshot{msg("m1", "I will search first.")},
		ToolCalls: []runchat.ToolCall{{ID: "c0", Name: "lookup", Output: "42"}},
		RequiredAction: &runchat.RequiredAction{ToolCalls: []runchat.ToolCall{
			{ID: "c1", Name: "search"},
			{ID: "c2", Name: "fetch"},
		}},
	}

	evs, _ := Classify(Cursor{}, snap)
	assert.Equal(t, []event.Type{
		event.TextDelta,
		event.ToolCallRequested,
		event.ApprovalRequested,
		event.ApprovalRequested,
	}, types(evs))
	assert.Equal(t, "c1", evs[2].ToolCall.ID)
	assert.Equal(t, "c2", evs[3].ToolCall.ID)
}

func TestCatchUpPreservesGenerationOrder(t *testing.T) {
	evs, _ := feed(
		running(msg("m1", "First")),
		running(msg("m1", "First message."), msg("m2", "Second")),
	)

	require.Len(t, evs, 3)
	assert.Equal(t, "First", evs[0].Delta)
	assert.Equal(t, " message.", evs[1].Delta)
	assert.Equal(t, "m1", evs[1].MessageID)
	assert.Equal(t, "Second", evs[2].Delta)
	assert.Equal(t, "m2", evs[2].MessageID)
}

func TestIdempotent(t *testing.T) {
	snap := running(msg("m1", "Hello", runchat.Citation{Kind: runchat.CitationURL, Source: "https://go.dev"}))

	first, cur1 := Classify(Cursor{}, snap)
	second, cur2 := Classify(Cursor{}, snap)
	assert.Equal(t, first, second)
	assert.Equal(t, cur1, cur2)

	t.Run("same snapshot against advanced cursor emits nothing", func(t *testing.T) {
		evs, cur3 := Classify(cur1, snap)
		assert.Empty(t, evs)
		assert.Equal(t, cur1, cur3)
	})

	t.Run("input cursor is not mutated", func(t *testing.T) {
		var cur Cursor
		_, _ = Classify(cur, snap)
		assert.Empty(t, cur.Text)
		assert.Empty(t, cur.Order)
	})
}

func TestCitations(t *testing.T) {
	file := runchat.Citation{Kind: runchat.CitationFile, Source: "file_1", Quote: "【4:0†source】", Offset: 5, End: 17}
	url := runchat.Citation{Kind: runchat.CitationURL, Source: "https://go.dev", Title: "Go"}

	evs, cur := feed(
		running(msg("m1", "Hello", file)),
		running(msg("m1", "Hello world", file, url)),
	)

	assert.Equal(t, []event.Type{event.TextDelta, event.Citation, event.TextDelta, event.Citation}, types(evs))
	assert.Equal(t, "file_1", evs[1].Citation.Source)
	assert.Equal(t, "m1", evs[1].Citation.MessageID)
	assert.Equal(t, "Go", evs[3].Citation.Title)

	done, _ := Classify(cur, runchat.Snapshot{
		Status:   runchat.RunCompleted,
		Messages: []runchat.MessageSnapshot{msg("m1", "Hello world", file, url)},
	})
	require.Len(t, done, 1)
	assert.Equal(t, "Hello world", done[0].Text)
	assert.Len(t, done[0].Citations, 2)
}

func TestShrunkOrDivergentTextIsSkipped(t *testing.T) {
	evs, cur := feed(
		running(msg("m1", "Hello")),
		running(msg("m1", "Hel")),
		running(msg("m1", "Jello")),
	)
	require.Len(t, evs, 1)
	assert.Equal(t, "Hello", cur.Text["m1"])
}

func TestApprovalDedupe(t *testing.T) {
	call := runchat.ToolCall{ID: "c1", Name: "search"}
	evs, cur := feed(requiresAction(call), requiresAction(call))

	assert.Equal(t, []event.Type{event.ApprovalRequested}, types(evs))
	assert.True(t, cur.Seen("c1"))
	assert.False(t, cur.Seen("c2"))
}

func TestRequiredActionIgnoredOutsideRequiresAction(t *testing.T) {
	snap := runchat.Snapshot{
		Status:         runchat.RunInProgress,
		RequiredAction: &runchat.RequiredAction{ToolCalls: []runchat.ToolCall{{ID: "c1"}}},
	}
	evs, _ := Classify(Cursor{}, snap)
	assert.Empty(t, evs)
}

func TestFailures(t *testing.T) {
	tests := []struct {
		name   string
		snap   runchat.Snapshot
		reason string
		code   string
	}{
		{
			name:   "failed with backend reason",
			snap:   runchat.Snapshot{Status: runchat.RunFailed, LastError: &runchat.RunError{Code: "rate_limit_exceeded", Message: "quota exhausted"}},
			reason: "quota exhausted",
			code:   "rate_limit_exceeded",
		},
		{name: "cancelled", snap: runchat.Snapshot{Status: runchat.RunCancelled}, reason: "run cancelled"},
		{name: "expired", snap: runchat.Snapshot{Status: runchat.RunExpired}, reason: "run expired"},
		{name: "incomplete", snap: runchat.Snapshot{Status: runchat.RunIncomplete}, reason: "run incomplete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs, cur := Classify(Cursor{}, tt.snap)
			require.Len(t, evs, 1)
			assert.Equal(t, event.RunFailed, evs[0].Type)
			assert.Equal(t, tt.reason, evs[0].Reason)
			assert.Equal(t, tt.code, evs[0].Code)
			assert.True(t, cur.Terminal)
		})
	}
}

func TestCompletionFallsBackToDeliveredText(t *testing.T) {
	_, cur := feed(running(msg("m1", "Part one. "), msg("m2", "Part two.")))
	evs, _ := Classify(cur, runchat.Snapshot{Status: runchat.RunCompleted})
	require.Len(t, evs, 1)
	assert.Equal(t, "Part one. Part two.", evs[0].Text)
}

func TestDeterministicOverSequences(t *testing.T) {
	snaps := []runchat.Snapshot{
		running(msg("m1", "a")),
		running(msg("m1", "ab"), msg("m2", "c")),
		requiresAction(runchat.ToolCall{ID: "c1"}),
		{Status: runchat.RunInProgress, ToolCalls: []runchat.ToolCall{{ID: "c1", Output: "ok"}}},
		{Status: runchat.RunCompleted, Messages: []runchat.MessageSnapshot{msg("m1", "ab"), msg("m2", "cd")}},
	}

	first, _ := feed(snaps...)
	second, _ := feed(snaps...)
	assert.Equal(t, first, second)
	assert.Equal(t, []event.Type{
		event.TextDelta,
		event.TextDelta, event.TextDelta,
		event.ApprovalRequested,
		event.ToolCallRequested,
		event.TextDelta, event.RunCompleted,
	}, types(first))
}
