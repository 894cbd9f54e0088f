package agent

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/classify"
)

// Session is one conversation with the remote agent. The thread is created
// on the first turn and reused afterwards; each turn starts a new run.
//
// A session is driven by one goroutine at a time. Its Gate may be used
// concurrently to supply decisions.
type Session struct {
	ID string

	mu       sync.Mutex
	threadID string
	runID    string
	status   runchat.RunStatus
	cursor   classify.Cursor
	gate     *Gate
}

// NewSession creates a session with a fresh id. A nil logger uses slog.Default().
func NewSession(logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		ID:   id,
		gate: NewGate(logger.With("session_id", id)),
	}
}

// Gate returns the session's approval gate.
func (s *Session) Gate() *Gate {
	return s.gate
}

// ThreadID returns the remote thread id, or "" before the first turn.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// RunID returns the current or most recent run id.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Status returns the last observed run status.
func (s *Session) Status() runchat.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Cursor returns a copy of the classifier cursor of the current run.
func (s *Session) Cursor() classify.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Session) setThread(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadID = id
}

func (s *Session) startRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = id
	s.status = runchat.RunQueued
	s.cursor = classify.Cursor{}
}

func (s *Session) observe(status runchat.RunStatus, cur classify.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.cursor = cur
}

// SessionState is the persistable form of a session.
type SessionState struct {
	ID       string            `json:"id"`
	ThreadID string            `json:"threadId,omitempty"`
	RunID    string            `json:"runId,omitempty"`
	Status   runchat.RunStatus `json:"status,omitempty"`
	Cursor   classify.Cursor   `json:"cursor"`
	Pending  []PendingApproval `json:"pending,omitempty"`
}

// State captures the session for persistence.
func (s *Session) State() SessionState {
	s.mu.Lock()
	st := SessionState{
		ID:       s.ID,
		ThreadID: s.threadID,
		RunID:    s.runID,
		Status:   s.status,
		Cursor:   s.cursor,
	}
	s.mu.Unlock()
	st.Pending = s.gate.Pending()
	return st
}

// RestoreSession rebuilds a session from persisted state, reopening any
// approval batch that was still outstanding.
func RestoreSession(st SessionState, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id := st.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:       id,
		threadID: st.ThreadID,
		runID:    st.RunID,
		status:   st.Status,
		cursor:   st.Cursor,
		gate:     NewGate(logger.With("session_id", id)),
	}
	if err := s.gate.Restore(st.Pending); err != nil {
		return nil, err
	}
	return s, nil
}
