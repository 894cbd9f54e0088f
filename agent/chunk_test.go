package agent

import (
	"testing"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/event"
	"github.com/stretchr/testify/assert"
)

func TestChunkAdapter(t *testing.T) {
	var chunks []string
	var col event.Collector
	a := NewChunkAdapter(func(s string) { chunks = append(chunks, s) }, &col, nil)

	call := &runchat.ToolCall{ID: "c1"}
	for _, ev := range []event.Event{
		{RunID: "r1", Type: event.TextDelta, Delta: "Hel"},
		{RunID: "r1", Type: event.TextDelta, Delta: "lo"},
		{RunID: "r1", Type: event.ApprovalRequested, ToolCall: call},
		{RunID: "r1", Type: event.ApprovalResolved, ToolCall: call, Approved: true},
		{RunID: "r1", Type: event.TextDelta, Delta: " after"},
		{RunID: "r1", Type: event.RunCompleted, Text: "Hello after"},
		{RunID: "r1", Type: event.TextDelta, Delta: "late"},
	} {
		a.Accept(ev)
	}

	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	// Every event still reaches the downstream sink.
	assert.Len(t, col.Events(), 7)

	t.Run("new run reopens", func(t *testing.T) {
		a.Accept(event.Event{RunID: "r2", Type: event.TextDelta, Delta: "again"})
		assert.Equal(t, []string{"Hel", "lo", "again"}, chunks)
	})

	t.Run("closed by failure", func(t *testing.T) {
		a.Accept(event.Event{RunID: "r3", Type: event.RunFailed, Reason: "boom"})
		a.Accept(event.Event{RunID: "r3", Type: event.TextDelta, Delta: "x"})
		assert.Len(t, chunks, 3)
	})
}

func TestChunkAdapterWithDriver(t *testing.T) {
	client := newScripted(
		inProgress("m1", "Hel"),
		inProgress("m1", "Hello"),
		needsApproval(runchat.ToolCall{ID: "c1"}),
		inProgress("m1", "Hello, done"),
		completed("Hello, done"),
	)
	d := testDriver(client, WithApprovalRequired(false))

	var chunks []string
	a := NewChunkAdapter(func(s string) { chunks = append(chunks, s) }, nil, nil)
	_, err := d.Drive(t.Context(), d.NewSession(), "hi", a)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}
