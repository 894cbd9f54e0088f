package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/internal/retry"
)

// ApprovalState is the lifecycle position of a pending tool call.
type ApprovalState string

const (
	// StateRequested means the call is waiting for a decision.
	StateRequested ApprovalState = "requested"

	// StateDecided means the call has a decision that has not yet been
	// delivered to the backend.
	StateDecided ApprovalState = "decided"

	// StateResolved means the decision was delivered.
	StateResolved ApprovalState = "resolved"
)

// PendingApproval is one tool call held by the gate.
type PendingApproval struct {
	RunID     string           `json:"runId"`
	Call      runchat.ToolCall `json:"call"`
	State     ApprovalState    `json:"state"`
	Approved  bool             `json:"approved"`
	Reason    string           `json:"reason,omitempty"`
	Auto      bool             `json:"auto,omitempty"`
	DecidedAt time.Time        `json:"decidedAt,omitempty"`
}

// Decision returns the decision to submit for this call.
func (p PendingApproval) Decision() runchat.ToolDecision {
	return runchat.ToolDecision{CallID: p.Call.ID, Approved: p.Approved, Reason: p.Reason}
}

// SubmitFunc delivers a fully decided batch for runID in a single request.
type SubmitFunc func(ctx context.Context, runID string, decisions []runchat.ToolDecision) error

// Gate holds the approval batch of a session.
//
// Each call moves Requested → Decided → Resolved. A call is decided exactly
// once; later attempts return runchat.ErrAlreadyDecided and leave the first
// decision in place. The batch is submitted only once every call in it has
// been decided, and a session never has more than one batch open.
//
// Decisions may arrive from any goroutine, typically an HTTP handler, while
// the driver blocks in Wait.
type Gate struct {
	mu      sync.Mutex
	logger  *slog.Logger
	runID   string
	batch   []*PendingApproval
	index   map[string]*PendingApproval
	settled map[string]bool
	ready   chan struct{}
}

// NewGate creates an empty gate. A nil logger uses slog.Default().
func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		logger:  logger,
		index:   make(map[string]*PendingApproval),
		settled: make(map[string]bool),
	}
}

// Open starts a new batch for runID. Opening with no calls is a no-op.
// It fails with runchat.ErrApprovalOutstanding while a batch is open.
func (g *Gate) Open(runID string, calls []runchat.ToolCall) error {
	if len(calls) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.batch) > 0 {
		return fmt.Errorf("open approvals for run %s: %w", runID, runchat.ErrApprovalOutstanding)
	}

	g.runID = runID
	g.index = make(map[string]*PendingApproval, len(calls))
	g.ready = make(chan struct{})
	for _, call := range calls {
		p := &PendingApproval{RunID: runID, Call: call, State: StateRequested}
		g.batch = append(g.batch, p)
		g.index[call.ID] = p
	}

	g.logger.Info("approval requested", "run_id", runID, "calls", len(calls))
	return nil
}

// Decide records the decision for callID.
func (g *Gate) Decide(callID string, approved bool, reason string) error {
	return g.decide(callID, approved, reason, false)
}

// Approve is a convenience method to approve a tool call.
func (g *Gate) Approve(callID string) error {
	return g.Decide(callID, true, "")
}

// Reject is a convenience method to deny a tool call.
func (g *Gate) Reject(callID, reason string) error {
	return g.Decide(callID, false, reason)
}

// AutoDecide records a decision that did not come from the user, such as
// when approval is globally disabled or a policy allows or blocks the call.
func (g *Gate) AutoDecide(callID string, approved bool, reason string) error {
	return g.decide(callID, approved, reason, true)
}

// DecideAll applies the same decision to every undecided call in the batch
// and returns how many calls it decided.
func (g *Gate) DecideAll(approved bool, reason string) int {
	g.mu.Lock()
	var ids []string
	for _, p := range g.batch {
		if p.State == StateRequested {
			ids = append(ids, p.Call.ID)
		}
	}
	g.mu.Unlock()

	n := 0
	for _, id := range ids {
		if g.Decide(id, approved, reason) == nil {
			n++
		}
	}
	return n
}

func (g *Gate) decide(callID string, approved bool, reason string, auto bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.index[callID]
	if !ok {
		if g.settled[callID] {
			g.logger.Warn("decision ignored", "call_id", callID, "error", runchat.ErrAlreadyDecided)
			return fmt.Errorf("decide %s: %w", callID, runchat.ErrAlreadyDecided)
		}
		return fmt.Errorf("decide %s: %w", callID, runchat.ErrUnknownCall)
	}
	if p.State != StateRequested {
		g.logger.Warn("decision ignored", "call_id", callID, "run_id", p.RunID, "error", runchat.ErrAlreadyDecided)
		return fmt.Errorf("decide %s: %w", callID, runchat.ErrAlreadyDecided)
	}

	p.State = StateDecided
	p.Approved = approved
	p.Reason = reason
	p.Auto = auto
	p.DecidedAt = time.Now()

	g.logger.Info("approval decided",
		"run_id", p.RunID,
		"call_id", callID,
		"tool", p.Call.Name,
		"approved", approved,
		"auto", auto,
	)

	if g.allDecidedLocked() {
		close(g.ready)
	}
	return nil
}

func (g *Gate) allDecidedLocked() bool {
	for _, p := range g.batch {
		if p.State == StateRequested {
			return false
		}
	}
	return true
}

// Outstanding reports whether a batch is open (decided or not).
func (g *Gate) Outstanding() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.batch) > 0
}

// RunID returns the run that owns the open batch, or "".
func (g *Gate) RunID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.batch) == 0 {
		return ""
	}
	return g.runID
}

// Pending returns a copy of the open batch in request order.
func (g *Gate) Pending() []PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingApproval, len(g.batch))
	for i, p := range g.batch {
		out[i] = *p
	}
	return out
}

// Lookup returns the pending approval for callID in the open batch.
func (g *Gate) Lookup(callID string) (PendingApproval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.index[callID]
	if !ok {
		return PendingApproval{}, false
	}
	return *p, true
}

// Wait blocks until every call in the open batch has been decided or ctx is
// done. It returns immediately when no batch is open.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if len(g.batch) == 0 {
		g.mu.Unlock()
		return nil
	}
	ready := g.ready
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve submits the decided batch with submit, retrying transient failures
// according to cfg. On success every call is marked resolved, the batch is
// cleared and the resolved approvals are returned. On failure the batch stays
// decided and a *runchat.ResolutionFailedError is returned; calling Resolve
// again resubmits it.
func (g *Gate) Resolve(ctx context.Context, cfg retry.Config, submit SubmitFunc) ([]PendingApproval, error) {
	g.mu.Lock()
	if len(g.batch) == 0 {
		g.mu.Unlock()
		return nil, nil
	}
	if !g.allDecidedLocked() {
		g.mu.Unlock()
		return nil, fmt.Errorf("resolve run %s: %w", g.runID, runchat.ErrUndecided)
	}
	runID := g.runID
	decisions := make([]runchat.ToolDecision, len(g.batch))
	for i, p := range g.batch {
		decisions[i] = p.Decision()
	}
	g.mu.Unlock()

	attempts := 0
	_, err := retry.Do(ctx, cfg, func() (struct{}, error) {
		attempts++
		return struct{}{}, submit(ctx, runID, decisions)
	})
	if err != nil {
		g.logger.Error("approval resolution failed", "run_id", runID, "attempts", attempts, "error", err)
		return nil, &runchat.ResolutionFailedError{RunID: runID, Attempts: attempts, Cause: err}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	resolved := make([]PendingApproval, len(g.batch))
	for i, p := range g.batch {
		p.State = StateResolved
		resolved[i] = *p
		g.settled[p.Call.ID] = true
	}
	g.batch = nil
	g.index = make(map[string]*PendingApproval)
	g.ready = nil

	g.logger.Info("approvals resolved", "run_id", runID, "calls", len(resolved), "attempts", attempts)
	return resolved, nil
}

// Restore reopens a batch from persisted approvals. Resolved entries are
// remembered as settled; the rest form the open batch.
func (g *Gate) Restore(pending []PendingApproval) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.batch) > 0 {
		return runchat.ErrApprovalOutstanding
	}
	g.index = make(map[string]*PendingApproval)
	for i := range pending {
		p := pending[i]
		if p.State == StateResolved {
			g.settled[p.Call.ID] = true
			continue
		}
		g.runID = p.RunID
		g.batch = append(g.batch, &p)
		g.index[p.Call.ID] = &p
	}
	if len(g.batch) == 0 {
		return nil
	}
	g.ready = make(chan struct{})
	if g.allDecidedLocked() {
		close(g.ready)
	}
	return nil
}
