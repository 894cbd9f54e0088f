package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
)

const sessionPrefix = "session/"

// Turn is one completed exchange in a session transcript.
type Turn struct {
	Prompt    string             `json:"prompt"`
	RunID     string             `json:"runId,omitempty"`
	Status    runchat.RunStatus  `json:"status"`
	Reply     string             `json:"reply,omitempty"`
	Error     string             `json:"error,omitempty"`
	Citations []runchat.Citation `json:"citations,omitempty"`
	At        time.Time          `json:"at"`
}

// Record is the persisted form of a session.
type Record struct {
	Session    agent.SessionState `json:"session"`
	Transcript []Turn             `json:"transcript,omitempty"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// ID returns the session id.
func (r Record) ID() string {
	return r.Session.ID
}

// Restore rebuilds the live session.
func (r Record) Restore(logger *slog.Logger) (*agent.Session, error) {
	return agent.RestoreSession(r.Session, logger)
}

// Sessions stores session records through an Adapter.
type Sessions struct {
	adapter Adapter
	now     func() time.Time
}

// NewSessions creates a session store. A nil adapter uses a MemoryAdapter.
func NewSessions(adapter Adapter) *Sessions {
	if adapter == nil {
		adapter = NewMemoryAdapter()
	}
	return &Sessions{adapter: adapter, now: time.Now}
}

func sessionKey(id string) string {
	return sessionPrefix + id
}

// Save writes rec, stamping UpdatedAt.
func (s *Sessions) Save(ctx context.Context, rec *Record) error {
	if rec.ID() == "" {
		return errors.New("store: session record has no id")
	}
	rec.UpdatedAt = s.now().UTC()

	key := sessionKey(rec.ID())
	data, err := json.Marshal(rec)
	if err != nil {
		return &SerializationError{Key: key, Err: err}
	}
	return s.adapter.Set(ctx, key, data)
}

// Snapshot captures the session's current state into rec and saves it.
func (s *Sessions) Snapshot(ctx context.Context, rec *Record, sess *agent.Session) error {
	rec.Session = sess.State()
	return s.Save(ctx, rec)
}

// Load reads the record for id. It returns ErrKeyNotFound when absent.
func (s *Sessions) Load(ctx context.Context, id string) (*Record, error) {
	key := sessionKey(id)
	data, ok, err := s.adapter.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrKeyNotFound)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &SerializationError{Key: key, Err: err}
	}
	return &rec, nil
}

// List returns the stored session ids, sorted.
func (s *Sessions) List(ctx context.Context) ([]string, error) {
	keys, err := s.adapter.Keys(ctx, sessionPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, sessionPrefix))
	}
	return ids, nil
}

// Delete removes the record for id.
func (s *Sessions) Delete(ctx context.Context, id string) error {
	return s.adapter.Delete(ctx, sessionKey(id))
}

// Append adds a turn to the transcript.
func (r *Record) Append(t Turn) {
	r.Transcript = append(r.Transcript, t)
}

// TurnFrom builds a transcript entry from a driver result.
func TurnFrom(prompt string, out *agent.Outcome, err error, at time.Time) Turn {
	t := Turn{Prompt: prompt, At: at.UTC()}
	if out != nil {
		t.RunID = out.RunID
		t.Status = out.Status
		t.Reply = out.Text
		t.Citations = out.Citations
	}
	if err != nil {
		t.Error = err.Error()
		var rf *runchat.RunFailedError
		if errors.As(err, &rf) {
			t.RunID = rf.RunID
			t.Status = rf.Status
		}
	}
	return t
}
