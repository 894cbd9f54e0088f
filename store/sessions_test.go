package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
	"github.com/spetersoncode/runchat/classify"
)

func sampleRecord() *Record {
	return &Record{
		Session: agent.SessionState{
			ID:       "sess-1",
			ThreadID: "thread_1",
			RunID:    "run_1",
			Status:   runchat.RunRequiresAction,
			Cursor: classify.Cursor{
				Order: []string{"m1"},
				Text:  map[string]string{"m1": "Checking the time."},
			},
			Pending: []agent.PendingApproval{{
				RunID: "run_1",
				Call:  runchat.ToolCall{ID: "call_1", Name: "current_time"},
				State: agent.StateRequested,
			}},
		},
	}
}

func TestSessions_RoundTrip(t *testing.T) {
	ctx := context.Background()
	sqlite, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer sqlite.Close()

	for name, adapter := range map[string]Adapter{"memory": NewMemoryAdapter(), "sqlite": sqlite} {
		t.Run(name, func(t *testing.T) {
			s := NewSessions(adapter)
			fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
			s.now = func() time.Time { return fixed }

			rec := sampleRecord()
			rec.Append(Turn{Prompt: "hi", RunID: "run_0", Status: runchat.RunCompleted, Reply: "You said: hi", At: fixed})
			require.NoError(t, s.Save(ctx, rec))
			assert.Equal(t, fixed, rec.UpdatedAt)

			got, err := s.Load(ctx, "sess-1")
			require.NoError(t, err)
			assert.Equal(t, rec.Session.ThreadID, got.Session.ThreadID)
			assert.Equal(t, rec.Session.Cursor.Text, got.Session.Cursor.Text)
			require.Len(t, got.Session.Pending, 1)
			assert.Equal(t, "call_1", got.Session.Pending[0].Call.ID)
			require.Len(t, got.Transcript, 1)
			assert.Equal(t, "You said: hi", got.Transcript[0].Reply)

			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"sess-1"}, ids)

			require.NoError(t, s.Delete(ctx, "sess-1"))
			_, err = s.Load(ctx, "sess-1")
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestSessions_Restore(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(nil)
	require.NoError(t, s.Save(ctx, sampleRecord()))

	rec, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)

	sess, err := rec.Restore(nil)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "run_1", sess.RunID())
	assert.True(t, sess.Gate().Outstanding())

	t.Run("snapshot captures decisions", func(t *testing.T) {
		require.NoError(t, sess.Gate().Approve("call_1"))
		require.NoError(t, s.Snapshot(ctx, rec, sess))

		again, err := s.Load(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, again.Session.Pending, 1)
		assert.Equal(t, agent.StateDecided, again.Session.Pending[0].State)
		assert.True(t, again.Session.Pending[0].Approved)
	})
}

func TestSessions_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(nil)

	t.Run("missing id", func(t *testing.T) {
		assert.Error(t, s.Save(ctx, &Record{}))
	})

	t.Run("corrupt record", func(t *testing.T) {
		adapter := NewMemoryAdapter()
		require.NoError(t, adapter.Set(ctx, "session/bad", json.RawMessage(`{"session":`)))
		_, err := NewSessions(adapter).Load(ctx, "bad")
		var serr *SerializationError
		assert.True(t, errors.As(err, &serr))
		assert.Equal(t, "session/bad", serr.Key)
	})
}

func TestTurnFrom(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("completed", func(t *testing.T) {
		turn := TurnFrom("hi", &agent.Outcome{RunID: "run_1", Status: runchat.RunCompleted, Text: "hello"}, nil, at)
		assert.Equal(t, Turn{Prompt: "hi", RunID: "run_1", Status: runchat.RunCompleted, Reply: "hello", At: at}, turn)
	})

	t.Run("failed", func(t *testing.T) {
		err := &runchat.RunFailedError{RunID: "run_2", Status: runchat.RunFailed, Reason: "boom"}
		turn := TurnFrom("hi", nil, err, at)
		assert.Equal(t, "run_2", turn.RunID)
		assert.Equal(t, runchat.RunFailed, turn.Status)
		assert.Contains(t, turn.Error, "boom")
	})
}
