package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeTerminal(t *testing.T) {
	assert.True(t, RunCompleted.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.False(t, TextDelta.Terminal())
	assert.False(t, ApprovalRequested.Terminal())
}

func TestMulti(t *testing.T) {
	var a, b Collector
	s := Multi(&a, nil, &b)

	s.Accept(Event{Type: TextDelta, Delta: "hi"})
	s.Accept(Event{Type: RunCompleted})

	assert.Equal(t, []Type{TextDelta, RunCompleted}, a.Types())
	assert.Equal(t, a.Events(), b.Events())
}

func TestSinkFunc(t *testing.T) {
	var got []string
	s := SinkFunc(func(ev Event) { got = append(got, ev.Delta) })
	s.Accept(Event{Type: TextDelta, Delta: "a"})
	s.Accept(Event{Type: TextDelta, Delta: "b"})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestChannelSink(t *testing.T) {
	t.Run("delivers in order", func(t *testing.T) {
		ch := NewChannel()
		s := NewChannelSink(context.Background(), ch)
		s.Accept(Event{Type: TextDelta, Delta: "1"})
		s.Accept(Event{Type: TextDelta, Delta: "2"})

		assert.Equal(t, "1", (<-ch).Delta)
		assert.Equal(t, "2", (<-ch).Delta)
	})

	t.Run("unblocks when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		s := NewChannelSink(ctx, make(chan Event))

		done := make(chan struct{})
		go func() {
			s.Accept(Event{Type: TextDelta})
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Accept did not return after cancel")
		}
	})
}

func TestCollectorConcurrent(t *testing.T) {
	var c Collector
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Accept(Event{Type: Citation})
		}()
	}
	wg.Wait()

	require.Len(t, c.Events(), 50)
	c.Reset()
	assert.Empty(t, c.Events())
}
