package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/classify"
	"github.com/spetersoncode/runchat/credential"
	"github.com/spetersoncode/runchat/event"
	"github.com/spetersoncode/runchat/internal/retry"
)

// Driver runs turns against a remote run service by polling.
type Driver struct {
	client runchat.RunClient
	opts   *Options
}

// New creates a Driver for client.
func New(client runchat.RunClient, opts ...Option) *Driver {
	return &Driver{client: client, opts: ApplyOptions(opts...)}
}

// Options returns the driver's effective options.
func (d *Driver) Options() Options {
	return *d.opts
}

// NewSession creates a session that logs through the driver's logger.
func (d *Driver) NewSession() *Session {
	return NewSession(d.opts.Logger)
}

// Outcome is the result of a completed run.
type Outcome struct {
	RunID     string
	ThreadID  string
	Status    runchat.RunStatus
	Text      string
	Citations []runchat.Citation
	// Polls is the number of status fetches made during this call.
	Polls int
}

// Drive posts prompt to the session's thread, starts a run and polls it
// until it reaches a terminal status. Events are delivered to sink in order.
//
// When the run asks for tool approval, Drive blocks until every call in the
// batch is decided through the session's Gate, submits the batch and keeps
// polling. A failed run returns a *runchat.RunFailedError.
func (d *Driver) Drive(ctx context.Context, s *Session, prompt string, sink event.Sink) (*Outcome, error) {
	if s.gate.Outstanding() {
		return nil, fmt.Errorf("drive session %s: %w", s.ID, runchat.ErrApprovalOutstanding)
	}

	threadID, err := d.EnsureThread(ctx, s)
	if err != nil {
		return nil, err
	}

	if err := d.checkAuth(ctx); err != nil {
		return nil, err
	}
	if err := d.client.PostUserMessage(ctx, threadID, prompt); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}

	if err := d.checkAuth(ctx); err != nil {
		return nil, err
	}
	runID, err := d.client.StartRun(ctx, threadID, d.opts.Tools)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	s.startRun(runID)

	d.opts.Logger.Info("run started", "session_id", s.ID, "thread_id", threadID, "run_id", runID)
	return d.poll(ctx, s, sink)
}

// EnsureThread returns the session's thread id, creating the remote thread
// if the session has none yet.
func (d *Driver) EnsureThread(ctx context.Context, s *Session) (string, error) {
	if id := s.ThreadID(); id != "" {
		return id, nil
	}
	if err := d.checkAuth(ctx); err != nil {
		return "", err
	}
	id, err := d.client.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	s.setThread(id)
	d.opts.Logger.Info("thread created", "session_id", s.ID, "thread_id", id)
	return id, nil
}

// Resume continues a session whose run was interrupted, for example after a
// ResolutionFailedError or a process restart. An outstanding batch is settled
// first, then polling continues.
func (d *Driver) Resume(ctx context.Context, s *Session, sink event.Sink) (*Outcome, error) {
	if s.RunID() == "" {
		return nil, fmt.Errorf("resume session %s: %w", s.ID, runchat.ErrNoActiveRun)
	}
	if s.gate.Outstanding() {
		if err := d.settle(ctx, s, sink); err != nil {
			return nil, err
		}
	}
	return d.poll(ctx, s, sink)
}

func (d *Driver) poll(ctx context.Context, s *Session, sink event.Sink) (*Outcome, error) {
	threadID, runID := s.ThreadID(), s.RunID()
	log := d.opts.Logger.With("session_id", s.ID, "thread_id", threadID, "run_id", runID)

	polls := 0
	for {
		if err := d.checkAuth(ctx); err != nil {
			return nil, err
		}

		snap, err := retry.DoWithHook(ctx, d.opts.FetchRetry, d.retryHook(log, "get_run"), func() (*runchat.Snapshot, error) {
			return d.client.GetRun(ctx, threadID, runID)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, runchat.ErrAuthExpired) {
				return nil, err
			}
			log.Error("run status unavailable", "error", err)
			d.deliver(log, sink, runID, event.Event{Type: event.RunFailed, Reason: "run status unavailable: " + err.Error()})
			return nil, &runchat.RunFailedError{RunID: runID, Status: s.Status(), Reason: "run status unavailable", Cause: err}
		}
		polls++
		d.opts.Observer.Polled(snap.Status)

		events, next := classify.Classify(s.Cursor(), *snap)

		var approvals []runchat.ToolCall
		for _, ev := range events {
			if ev.Type == event.ApprovalRequested {
				approvals = append(approvals, *ev.ToolCall)
			}
		}
		if len(approvals) > 0 {
			// The cursor stays put on failure so a resume classifies these
			// events again.
			if err := s.gate.Open(runID, approvals); err != nil {
				log.Warn("approval batch not opened, events held back", "events", len(events), "error", err)
				return nil, err
			}
			d.autoDecide(ctx, log, s.gate, approvals)
		}
		s.observe(snap.Status, next)

		for _, ev := range events {
			if ev.Type == event.ApprovalRequested {
				if p, ok := s.gate.Lookup(ev.ToolCall.ID); ok && p.Auto {
					ev.Auto = true
					ev.Approved = p.Approved
					ev.Reason = p.Reason
				}
			}
			d.deliver(log, sink, runID, ev)
		}

		if len(approvals) > 0 {
			if err := d.settle(ctx, s, sink); err != nil {
				return nil, err
			}
		}

		if snap.Status.Terminal() {
			return d.finish(log, s, snap, events, polls)
		}

		log.Debug("run polled", "status", snap.Status, "events", len(events))

		timer := time.NewTimer(d.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("polling stopped", "reason", ctx.Err())
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *Driver) finish(log *slog.Logger, s *Session, snap *runchat.Snapshot, events []event.Event, polls int) (*Outcome, error) {
	var terminal *event.Event
	for i := range events {
		if events[i].Type.Terminal() {
			terminal = &events[i]
		}
	}

	if snap.Status == runchat.RunCompleted {
		out := &Outcome{RunID: snap.RunID, ThreadID: s.ThreadID(), Status: snap.Status, Text: snap.FinalText, Polls: polls}
		if out.RunID == "" {
			out.RunID = s.RunID()
		}
		if terminal != nil {
			out.Text = terminal.Text
			out.Citations = terminal.Citations
		}
		log.Info("run completed", "polls", polls)
		return out, nil
	}

	rf := &runchat.RunFailedError{RunID: s.RunID(), Status: snap.Status, Reason: fmt.Sprintf("run %s", snap.Status)}
	if snap.LastError != nil {
		rf.Code = snap.LastError.Code
		if snap.LastError.Message != "" {
			rf.Reason = snap.LastError.Message
		}
	}
	log.Warn("run failed", "status", snap.Status, "code", rf.Code, "reason", rf.Reason)
	return nil, rf
}

// autoDecide applies the global toggle and the approval policy to a freshly
// opened batch. Calls the policy leaves to a human stay requested.
func (d *Driver) autoDecide(ctx context.Context, log *slog.Logger, gate *Gate, calls []runchat.ToolCall) {
	for _, call := range calls {
		if !d.opts.ApprovalRequired {
			_ = gate.AutoDecide(call.ID, true, "approval not required")
			continue
		}

		verdict, reason, err := d.opts.Policy.Evaluate(ctx, call)
		if err != nil {
			log.Warn("approval policy failed, asking user", "call_id", call.ID, "tool", call.Name, "error", err)
			continue
		}
		switch verdict {
		case VerdictAllow:
			_ = gate.AutoDecide(call.ID, true, reason)
		case VerdictDeny:
			_ = gate.AutoDecide(call.ID, false, reason)
		}
	}
}

// settle waits for the open batch to be decided, submits it and delivers the
// resolution events. No remote call is made while waiting.
func (d *Driver) settle(ctx context.Context, s *Session, sink event.Sink) error {
	gate := s.gate
	runID := gate.RunID()
	log := d.opts.Logger.With("session_id", s.ID, "run_id", runID)

	if err := gate.Wait(ctx); err != nil {
		log.Info("approval wait stopped", "reason", err)
		return err
	}

	threadID := s.ThreadID()
	resolved, err := gate.Resolve(ctx, d.opts.resolveRetry(), func(ctx context.Context, runID string, decisions []runchat.ToolDecision) error {
		if err := d.checkAuth(ctx); err != nil {
			return err
		}
		return d.client.SubmitToolDecisions(ctx, threadID, runID, decisions)
	})
	if err != nil {
		d.opts.Observer.Resolved(ResolutionFailed, len(gate.Pending()))
		return err
	}
	d.opts.Observer.Resolved(ResolutionSucceeded, len(resolved))

	for _, p := range resolved {
		call := p.Call
		d.deliver(log, sink, runID, event.Event{
			Type:     event.ApprovalResolved,
			ToolCall: &call,
			Approved: p.Approved,
			Reason:   p.Reason,
			Auto:     p.Auto,
		})
	}
	return nil
}

func (d *Driver) deliver(log *slog.Logger, sink event.Sink, runID string, ev event.Event) {
	ev.RunID = runID
	ev.Timestamp = time.Now()
	if sink == nil {
		log.Warn("event discarded", "type", ev.Type, "cause", "no sink")
		return
	}
	sink.Accept(ev)
	d.opts.Observer.Delivered(ev.Type)
}

func (d *Driver) checkAuth(ctx context.Context) error {
	if _, err := credential.Check(ctx, d.opts.Credentials); err != nil {
		d.opts.Logger.Error("credential unavailable", "error", err)
		return err
	}
	return nil
}

func (d *Driver) retryHook(log *slog.Logger, op string) retry.Hook {
	return func(ev retry.Event) {
		if ev.Type != retry.EventRetrying {
			return
		}
		d.opts.Observer.Retried(op)
		log.Warn("retrying", "op", op, "attempt", ev.Attempt, "max_attempts", ev.MaxAttempts, "delay", ev.Delay)
	}
}
