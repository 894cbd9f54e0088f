// Package agent drives remote agent runs to completion.
//
// The [Driver] polls a run through a [runchat.RunClient], classifies each
// snapshot into events and delivers them to an [event.Sink]. Tool calls that
// need consent are held in the session's [Gate] until every call in the batch
// has a decision; the batch is then submitted in a single request and polling
// resumes.
//
// # Basic Usage
//
//	d := agent.New(client,
//	    agent.WithPollInterval(time.Second),
//	    agent.WithMaxResolutionRetries(3),
//	)
//	s := d.NewSession()
//
//	sink := event.SinkFunc(func(ev event.Event) {
//	    switch ev.Type {
//	    case event.TextDelta:
//	        fmt.Print(ev.Delta)
//	    case event.ApprovalRequested:
//	        if !ev.Auto {
//	            s.Gate().Approve(ev.ToolCall.ID)
//	        }
//	    }
//	})
//
//	out, err := d.Drive(ctx, s, "What time is it in Paris?", sink)
//
// # Approval
//
// Decisions may come from any goroutine. Deciding a call twice returns
// [runchat.ErrAlreadyDecided] and keeps the first decision. With
// [WithApprovalRequired](false) every request is still emitted, then
// auto-approved. An [ApprovalPolicy] can allow or deny individual calls
// without asking; [ToolList] mirrors a per-tool approval list.
//
// # Streaming
//
// [ChunkAdapter] turns text deltas into plain chunks for streaming widgets.
// Chunk delivery stops at the first approval request of a run.
package agent
