package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
	"github.com/spetersoncode/runchat/store"
)

// ChatCmd runs the terminal REPL.
type ChatCmd struct {
	Session string `name:"session" help:"Continue a stored session by id."`
}

const chatHelp = `Commands:
  /retry   ask the agent to continue after a failed run
  /resume  resubmit decisions that could not be delivered
  /quit    leave
`

// Run implements the chat command.
func (c *ChatCmd) Run(g *Globals) error {
	app, err := NewApp(g.Ctx, g.Config, g.Logger)
	if err != nil {
		return err
	}
	defer app.Close()

	rec, sess, err := openSession(g.Ctx, app, c.Session)
	if err != nil {
		return err
	}

	in := bufio.NewReader(g.Stdin)
	term := newTerminal(in, g.Stdout, sess.Gate(), g.Logger)
	repl := &chatLoop{app: app, rec: rec, sess: sess, term: term, out: g.Stdout}

	fmt.Fprintf(g.Stdout, "Session %s. Type /quit to leave.\n", sess.ID)
	for {
		line, err := term.ask("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if done := repl.handle(g.Ctx, line); done {
			return nil
		}
		if g.Ctx.Err() != nil {
			return nil
		}
	}
}

// openSession loads the stored session id, or starts a new one.
func openSession(ctx context.Context, app *App, id string) (*store.Record, *agent.Session, error) {
	if id == "" {
		sess := app.Driver.NewSession()
		return &store.Record{Session: sess.State()}, sess, nil
	}
	rec, err := app.Sessions.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sess, err := rec.Restore(app.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("restore session %s: %w", id, err)
	}
	return rec, sess, nil
}

type chatLoop struct {
	app  *App
	rec  *store.Record
	sess *agent.Session
	term *terminal
	out  io.Writer

	failed bool // last turn ended in a failed run
}

// handle processes one input line and reports whether the REPL should end.
func (l *chatLoop) handle(ctx context.Context, line string) bool {
	switch strings.ToLower(line) {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprint(l.out, chatHelp)
		return false
	case "/resume":
		l.term.askPending()
		out, err := l.app.Driver.Resume(ctx, l.sess, l.term.sink())
		l.finish("(resume)", out, err)
		return false
	case "/retry":
		if !l.failed {
			fmt.Fprintln(l.out, "Nothing to retry.")
			return false
		}
		line = agent.RetryInstruction
	}

	out, err := l.app.Driver.Drive(ctx, l.sess, line, l.term.sink())
	l.finish(line, out, err)
	return false
}

func (l *chatLoop) finish(prompt string, out *agent.Outcome, err error) {
	var failed *runchat.RunFailedError
	var stuck *runchat.ResolutionFailedError

	l.failed = false
	switch {
	case err == nil:
	case errors.As(err, &failed):
		l.failed = true
		fmt.Fprintln(l.out, "Type /retry to ask the agent to continue.")
	case errors.As(err, &stuck):
		fmt.Fprintf(l.out, "Could not deliver your decisions: %v\nType /resume to try again.\n", stuck.Cause)
	case errors.Is(err, runchat.ErrAuthExpired):
		fmt.Fprintln(l.out, "Credentials expired. Restart runchat to sign in again.")
	case errors.Is(err, runchat.ErrApprovalOutstanding):
		fmt.Fprintln(l.out, "Tool decisions are still pending. Type /resume to submit them.")
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(l.out, "\nCancelled.")
	default:
		fmt.Fprintf(l.out, "Error: %v\n", err)
	}

	if out != nil || err != nil {
		l.rec.Append(store.TurnFrom(prompt, out, err, time.Now()))
	}
	if err := l.app.Sessions.Snapshot(context.Background(), l.rec, l.sess); err != nil {
		l.app.Logger.Warn("session not saved", "session_id", l.sess.ID, "error", err)
	}
}
