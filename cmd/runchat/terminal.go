package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
	"github.com/spetersoncode/runchat/event"
)

// terminal renders a turn on a text console and asks the user for tool
// approvals. Text streams through a ChunkAdapter until the first approval;
// whatever was withheld is printed when the run completes.
type terminal struct {
	in     *bufio.Reader
	out    io.Writer
	gate   *agent.Gate
	logger *slog.Logger

	streamed strings.Builder
}

func newTerminal(in *bufio.Reader, out io.Writer, gate *agent.Gate, logger *slog.Logger) *terminal {
	return &terminal{in: in, out: out, gate: gate, logger: logger}
}

// sink returns the event sink for one turn.
func (t *terminal) sink() event.Sink {
	t.streamed.Reset()
	return agent.NewChunkAdapter(t.chunk, event.SinkFunc(t.accept), t.logger)
}

func (t *terminal) chunk(s string) {
	t.streamed.WriteString(s)
	fmt.Fprint(t.out, s)
}

func (t *terminal) accept(ev event.Event) {
	switch ev.Type {
	case event.ToolCallRequested:
		if ev.ToolCall != nil && ev.ToolCall.Output != "" {
			fmt.Fprintf(t.out, "\n  [%s → %s]\n", ev.ToolCall.Name, ev.ToolCall.Output)
		}

	case event.ApprovalRequested:
		t.approval(ev)

	case event.ApprovalResolved:
		if ev.ToolCall != nil && !ev.Approved {
			fmt.Fprintf(t.out, "  [%s denied]\n", ev.ToolCall.Name)
		}

	case event.RunCompleted:
		streamed := t.streamed.String()
		if rest, ok := strings.CutPrefix(ev.Text, streamed); ok {
			fmt.Fprint(t.out, rest)
		} else {
			fmt.Fprintf(t.out, "\n%s", ev.Text)
		}
		fmt.Fprintln(t.out)
		t.citations(ev.Citations)

	case event.RunFailed:
		fmt.Fprintf(t.out, "\nRun failed: %s\n", ev.Reason)
	}
}

func (t *terminal) approval(ev event.Event) {
	call := ev.ToolCall
	if call == nil {
		return
	}
	if ev.Auto {
		verdict := "approved"
		if !ev.Approved {
			verdict = "denied"
		}
		fmt.Fprintf(t.out, "\n  [%s %s automatically: %s]\n", call.Name, verdict, ev.Reason)
		return
	}

	fmt.Fprintf(t.out, "\n\nThe agent wants to call %s", call.Name)
	if call.ServerLabel != "" {
		fmt.Fprintf(t.out, " on %s", call.ServerLabel)
	}
	fmt.Fprintln(t.out)
	if call.Arguments != "" {
		fmt.Fprintf(t.out, "  arguments: %s\n", call.Arguments)
	}

	for {
		answer, err := t.ask("Approve? [y/n] ")
		if err != nil {
			// No input left: deny rather than hang.
			t.decide(call, false, "no input")
			return
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			t.decide(call, true, "")
			return
		case "n", "no":
			reason, _ := t.ask("Reason (optional): ")
			t.decide(call, false, reason)
			return
		}
	}
}

// askPending prompts for calls restored from storage that still wait for a
// decision. They were announced by an earlier process.
func (t *terminal) askPending() {
	for _, p := range t.gate.Pending() {
		if p.State != agent.StateRequested {
			continue
		}
		call := p.Call
		t.approval(event.Event{Type: event.ApprovalRequested, RunID: p.RunID, ToolCall: &call})
	}
}

func (t *terminal) decide(call *runchat.ToolCall, approved bool, reason string) {
	if err := t.gate.Decide(call.ID, approved, reason); err != nil {
		t.logger.Warn("decision not recorded", "call_id", call.ID, "error", err)
	}
}

func (t *terminal) citations(cits []runchat.Citation) {
	if len(cits) == 0 {
		return
	}
	fmt.Fprintln(t.out, "Sources:")
	for i, c := range cits {
		label := c.Source
		if c.Title != "" {
			label = c.Title + " (" + c.Source + ")"
		}
		fmt.Fprintf(t.out, "  [%d] %s\n", i+1, label)
	}
}

// ask prints prompt and reads one trimmed line.
func (t *terminal) ask(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
