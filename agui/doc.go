// Package agui streams runchat events to AG-UI compatible frontends.
//
// AG-UI (Agent-User Interface) is an event-based protocol for connecting
// agents to user-facing applications. This package converts the driver's
// event stream into AG-UI events and writes them as server-sent events.
//
// # Usage
//
// Create a Sink per turn and hand it to the driver:
//
//	out, err := agui.NewWriter(w)
//	if err != nil {
//	    return err
//	}
//	sink := agui.NewSink(agui.NewMapper(threadID, ""), out, logger)
//	outcome, err := driver.Drive(ctx, session, prompt, sink)
//
// Decisions posted by the frontend are applied with [HandleApproval].
//
// # Event Mapping
//
//   - TextDelta → TEXT_MESSAGE_START (first delta of a message), TEXT_MESSAGE_CONTENT
//   - ToolCallRequested → TOOL_CALL_START, TOOL_CALL_ARGS, TOOL_CALL_END, TOOL_CALL_RESULT
//   - ApprovalRequested → TOOL_CALL_START, TOOL_CALL_ARGS, TOOL_CALL_END
//   - RunCompleted → TEXT_MESSAGE_END (if a message is open), RUN_FINISHED
//   - RunFailed → TEXT_MESSAGE_END (if a message is open), RUN_ERROR
//
// RUN_STARTED precedes the first event of every run. Citations and approval
// state have no AG-UI equivalent; the Sink writes them as runchat.* frames
// alongside the protocol events.
//
// # Thread Safety
//
// The Mapper is NOT safe for concurrent use. The Sink and Writer serialize
// their own writes.
package agui
