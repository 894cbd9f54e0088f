// Package runchat drives conversations with a remote AI agent that executes
// runs on a hosted service.
//
// A turn posts the user's message to a thread, starts a run and then polls the
// run until it reaches a terminal status. Every poll produces a [Snapshot];
// the classify package turns successive snapshots into an event stream of text
// deltas, citations, tool calls, approval requests and a final completion or
// failure event.
//
// When the agent wants to call a tool and approval is required, the run pauses
// in the requires_action state. The driver opens an approval batch, waits for
// a decision on every call, submits the whole batch in one request and resumes
// polling.
//
// # Packages
//
//   - [github.com/spetersoncode/runchat/agent]: the polling driver, the approval gate
//     and the streaming chunk adapter
//   - [github.com/spetersoncode/runchat/classify]: pure snapshot-to-event classification
//   - [github.com/spetersoncode/runchat/event]: the event model and sinks
//   - [github.com/spetersoncode/runchat/backend/assistants]: a [RunClient] for
//     Assistants-style REST APIs
//   - [github.com/spetersoncode/runchat/backend/sim]: an in-memory [RunClient] for demos and tests
//   - [github.com/spetersoncode/runchat/mcp]: tool execution over the Model Context Protocol
//   - [github.com/spetersoncode/runchat/agui]: AG-UI protocol mapping and approval input
//   - [github.com/spetersoncode/runchat/store]: session persistence
//
// # Basic Usage
//
//	d := agent.New(client, agent.WithPollInterval(time.Second))
//	s := agent.NewSession()
//
//	out, err := d.Drive(ctx, s, "What time is it?", event.SinkFunc(func(ev event.Event) {
//	    if ev.Type == event.TextDelta {
//	        fmt.Print(ev.Delta)
//	    }
//	}))
package runchat
