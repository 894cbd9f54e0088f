// Package sim is an in-memory agent service implementing runchat.RunClient.
//
// Runs follow a scripted Plan: each GetRun advances the run by one tick,
// revealing assistant text a few characters at a time, pausing in
// requires_action for tool approval and executing approved calls through a
// runchat.ToolExecutor. It lets the chat flow run end to end without a
// hosted agent.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/spetersoncode/runchat"
)

// DeniedOutput is the tool output recorded for a denied call.
const DeniedOutput = "Tool call denied by user."

// Option configures a Service.
type Option func(*Service)

// WithResponder sets the plan generator.
func WithResponder(r Responder) Option {
	return func(s *Service) {
		s.responder = r
	}
}

// WithTools sets the executor for approved tool calls.
func WithTools(t runchat.ToolExecutor) Option {
	return func(s *Service) {
		s.tools = t
	}
}

// WithChunkSize sets how many characters of text each poll reveals.
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunk = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// Service is a simulated agent service. It is safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	responder Responder
	tools     runchat.ToolExecutor
	chunk     int
	logger    *slog.Logger
	threads   map[string]*thread
	runs      map[string]*run
	failGets  int
}

var _ runchat.RunClient = (*Service)(nil)

type thread struct {
	id      string
	prompts []string
	active  string
}

type run struct {
	id        string
	threadID  string
	cfg       runchat.ToolConfig
	plan      Plan
	status    runchat.RunStatus
	phase     int
	revealed  int
	speaking  bool
	messages  []runchat.MessageSnapshot
	full      []string
	executed  []runchat.ToolCall
	pending   []runchat.ToolCall
	lastError *runchat.RunError
}

// New creates a Service.
func New(opts ...Option) *Service {
	s := &Service{
		responder: DefaultResponder,
		chunk:     8,
		logger:    slog.Default(),
		threads:   make(map[string]*thread),
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectFailures makes the next n GetRun calls fail with a transient error.
func (s *Service) InjectFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGets = n
}

// CreateThread implements runchat.RunClient.
func (s *Service) CreateThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "thread_" + uuid.NewString()
	s.threads[id] = &thread{id: id}
	return id, nil
}

// PostUserMessage implements runchat.RunClient.
func (s *Service) PostUserMessage(ctx context.Context, threadID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.thread(threadID)
	if err != nil {
		return err
	}
	if th.active != "" {
		return runchat.NewUserInputError(fmt.Sprintf("thread %s has an active run", threadID), 409, nil)
	}
	th.prompts = append(th.prompts, text)
	return nil
}

// StartRun implements runchat.RunClient.
func (s *Service) StartRun(ctx context.Context, threadID string, cfg runchat.ToolConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.thread(threadID)
	if err != nil {
		return "", err
	}
	if th.active != "" {
		return "", runchat.NewUserInputError(fmt.Sprintf("thread %s has an active run", threadID), 409, nil)
	}
	if len(th.prompts) == 0 {
		return "", runchat.NewUserInputError("thread has no messages", 400, nil)
	}

	r := &run{
		id:       "run_" + uuid.NewString(),
		threadID: threadID,
		cfg:      cfg,
		plan:     s.responder(th.prompts[len(th.prompts)-1]),
		status:   runchat.RunQueued,
	}
	s.runs[r.id] = r
	th.active = r.id
	s.logger.Debug("sim run started", "thread_id", threadID, "run_id", r.id, "steps", len(r.plan.Steps))
	return r.id, nil
}

// GetRun implements runchat.RunClient. Every call advances the run one tick.
func (s *Service) GetRun(ctx context.Context, threadID, runID string) (*runchat.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failGets > 0 {
		s.failGets--
		return nil, runchat.NewTransientError("get run", 503, fmt.Errorf("service unavailable"))
	}

	r, err := s.run(threadID, runID)
	if err != nil {
		return nil, err
	}
	s.advance(ctx, r)
	return r.snapshot(), nil
}

// SubmitToolDecisions implements runchat.RunClient. Approved calls are
// executed; denied calls are recorded with DeniedOutput.
func (s *Service) SubmitToolDecisions(ctx context.Context, threadID, runID string, decisions []runchat.ToolDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.run(threadID, runID)
	if err != nil {
		return err
	}
	if r.status != runchat.RunRequiresAction {
		return runchat.NewUserInputError(fmt.Sprintf("run %s is not awaiting action", runID), 400, nil)
	}

	byID := make(map[string]runchat.ToolDecision, len(decisions))
	for _, d := range decisions {
		byID[d.CallID] = d
	}
	for _, call := range r.pending {
		if _, ok := byID[call.ID]; !ok {
			return runchat.NewUserInputError(fmt.Sprintf("missing decision for tool call %s", call.ID), 400, nil)
		}
	}

	for _, call := range r.pending {
		d := byID[call.ID]
		if d.Approved {
			call.Output = s.execute(ctx, call)
		} else {
			call.Output = DeniedOutput
			if d.Reason != "" {
				call.Output += " Reason: " + d.Reason
			}
		}
		r.executed = append(r.executed, call)
	}
	r.pending = nil
	r.phase++
	r.status = runchat.RunInProgress
	return nil
}

func (s *Service) execute(ctx context.Context, call runchat.ToolCall) string {
	if s.tools == nil {
		return "no tool executor configured"
	}
	out, err := s.tools.Execute(ctx, call)
	if err != nil {
		s.logger.Warn("sim tool failed", "call_id", call.ID, "tool", call.Name, "error", err)
		return "Error: " + err.Error()
	}
	return out
}

func (s *Service) thread(id string) (*thread, error) {
	th, ok := s.threads[id]
	if !ok {
		return nil, runchat.NewUserInputError(fmt.Sprintf("thread %s not found", id), 404, nil)
	}
	return th, nil
}

func (s *Service) run(threadID, runID string) (*run, error) {
	r, ok := s.runs[runID]
	if !ok || r.threadID != threadID {
		return nil, runchat.NewUserInputError(fmt.Sprintf("run %s not found", runID), 404, nil)
	}
	return r, nil
}

// advance moves the run forward by one tick.
func (s *Service) advance(ctx context.Context, r *run) {
	switch r.status {
	case runchat.RunQueued:
		r.status = runchat.RunInProgress
		return
	case runchat.RunInProgress:
	default:
		return
	}

	if r.phase >= len(r.plan.Steps) {
		s.finish(r)
		return
	}

	step := r.plan.Steps[r.phase]
	switch {
	case step.Fail != nil:
		r.status = runchat.RunFailed
		r.lastError = step.Fail
		s.release(r)

	case len(step.Ask) > 0:
		calls := make([]runchat.ToolCall, len(step.Ask))
		for i, c := range step.Ask {
			if c.ID == "" {
				c.ID = "call_" + uuid.NewString()
			}
			c.ServerLabel = r.cfg.ServerLabel
			calls[i] = c
		}
		if !r.cfg.RequireApproval {
			for _, c := range calls {
				c.Output = s.execute(ctx, c)
				r.executed = append(r.executed, c)
			}
			r.phase++
			return
		}
		r.pending = calls
		r.status = runchat.RunRequiresAction

	default:
		s.reveal(r, step)
	}
}

func (s *Service) reveal(r *run, step Step) {
	if !r.speaking {
		r.speaking = true
		text := step.Say
		if step.SayFunc != nil {
			text = step.SayFunc(r.executed)
		}
		r.messages = append(r.messages, runchat.MessageSnapshot{ID: "msg_" + uuid.NewString()})
		r.full = append(r.full, text)
	}

	i := len(r.messages) - 1
	full := []rune(r.full[i])
	end := r.revealed + s.chunk
	if end > len(full) {
		end = len(full)
	}
	r.revealed = end
	r.messages[i].Text = string(full[:end])

	if end == len(full) {
		r.messages[i].Citations = step.Citations
		r.revealed = 0
		r.speaking = false
		r.phase++
	}
}

func (s *Service) finish(r *run) {
	r.status = runchat.RunCompleted
	s.release(r)
}

func (s *Service) release(r *run) {
	if th, ok := s.threads[r.threadID]; ok && th.active == r.id {
		th.active = ""
	}
}

func (r *run) snapshot() *runchat.Snapshot {
	snap := &runchat.Snapshot{
		RunID:    r.id,
		ThreadID: r.threadID,
		Status:   r.status,
		Messages: make([]runchat.MessageSnapshot, len(r.messages)),
	}
	for i, m := range r.messages {
		m.Citations = append([]runchat.Citation(nil), m.Citations...)
		snap.Messages[i] = m
	}
	if len(r.executed) > 0 {
		snap.ToolCalls = append([]runchat.ToolCall(nil), r.executed...)
	}
	if r.status == runchat.RunRequiresAction {
		snap.RequiredAction = &runchat.RequiredAction{ToolCalls: append([]runchat.ToolCall(nil), r.pending...)}
	}
	if r.status == runchat.RunCompleted {
		snap.FinalText = r.plan.FinalText
		if snap.FinalText == "" {
			snap.FinalText = strings.Join(r.full, "")
		}
	}
	if r.lastError != nil {
		e := *r.lastError
		snap.LastError = &e
	}
	return snap
}
