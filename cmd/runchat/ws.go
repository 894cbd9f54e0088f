package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/agent"
	"github.com/spetersoncode/runchat/agui"
)

const (
	wsMaxMessageSize = 64 << 10
	wsWriteTimeout   = 10 * time.Second
)

// Client message types.
const (
	wsTypeMessage  = "message"
	wsTypeResume   = "resume"
	wsTypeApproval = "approval"
)

// Server-only frame types.
const (
	wsFrameError    = "error"
	wsFrameDecision = "runchat.decision_recorded"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Same open policy as the CORS middleware.
		return true
	},
}

// wsMessage is a client frame. Content is set for "message"; the approval
// fields for "approval".
type wsMessage struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Approved   bool   `json:"approved,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// wsFrame wraps a named frame that is not an AG-UI event.
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// wsWriter sends AG-UI events as text messages. AG-UI events carry their
// own "type" field and go out as-is.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ agui.EventWriter = (*wsWriter)(nil)

func (w *wsWriter) WriteEvent(ev events.Event) error {
	data, err := ev.ToJSON()
	if err != nil {
		return err
	}
	return w.write(data)
}

func (w *wsWriter) WriteFrame(name string, v any) error {
	data, err := json.Marshal(wsFrame{Type: name, Data: v})
	if err != nil {
		return err
	}
	return w.write(data)
}

func (w *wsWriter) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWriter) writeError(msg string) error {
	return w.WriteFrame(wsFrameError, map[string]string{"error": msg})
}

// Socket carries a session over a websocket. The client sends prompts and
// approval decisions and receives the same AG-UI events the SSE routes
// stream. Turns still run one at a time per session.
func (h *Handler) Socket(c echo.Context) error {
	ls, err := h.session(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return h.fail(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("failed to upgrade websocket", "session_id", ls.sess.ID, "error", err)
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	log := h.log.With("session_id", ls.sess.ID, "transport", "ws")
	log.Info("websocket connected")

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		log.Info("websocket closed")
	}()

	out := &wsWriter{conn: conn}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			return nil
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = out.writeError("invalid JSON message")
			continue
		}

		switch msg.Type {
		case wsTypeMessage:
			if msg.Content == "" {
				_ = out.writeError("content is required")
				continue
			}
			h.startTurn(ctx, &wg, ls, out, msg.Content, func(ctx context.Context, sink *agui.Sink) (*agent.Outcome, error) {
				return h.app.Driver.Drive(ctx, ls.sess, msg.Content, sink)
			})
		case wsTypeResume:
			if ls.sess.RunID() == "" {
				_ = out.writeError(runchat.ErrNoActiveRun.Error())
				continue
			}
			h.startTurn(ctx, &wg, ls, out, "(resume)", func(ctx context.Context, sink *agui.Sink) (*agent.Outcome, error) {
				return h.app.Driver.Resume(ctx, ls.sess, sink)
			})
		case wsTypeApproval:
			h.socketDecision(out, ls, msg)
		default:
			_ = out.writeError("unknown message type: " + msg.Type)
		}
	}
}

// startTurn runs turn in the background so the read loop keeps accepting
// approval decisions while it waits.
func (h *Handler) startTurn(ctx context.Context, wg *sync.WaitGroup, ls *liveSession, out *wsWriter, prompt string, turn turnFunc) {
	if !ls.turn.TryLock() {
		_ = out.writeError("a turn is already running")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ls.turn.Unlock()

		threadID, err := h.app.Driver.EnsureThread(ctx, ls.sess)
		if err != nil {
			_ = out.writeError(err.Error())
			return
		}
		h.execute(ctx, ls, threadID, prompt, out, turn)
	}()
}

func (h *Handler) socketDecision(out *wsWriter, ls *liveSession, msg wsMessage) {
	in := agui.ApprovalInput{ToolCallID: msg.ToolCallID, Approved: msg.Approved, Reason: msg.Reason}
	if in.ToolCallID == "" {
		_ = out.writeError(agui.ErrMissingToolCallID.Error())
		return
	}

	gate := ls.sess.Gate()
	err := agui.HandleApproval(gate, &in)
	switch {
	case err == nil, errors.Is(err, runchat.ErrAlreadyDecided):
	case errors.Is(err, runchat.ErrUnknownCall):
		_ = out.writeError("tool call not pending: " + in.ToolCallID)
		return
	default:
		_ = out.writeError(err.Error())
		return
	}

	if p, ok := gate.Lookup(in.ToolCallID); ok {
		_ = out.WriteFrame(wsFrameDecision, p)
		return
	}
	_ = out.WriteFrame(wsFrameDecision, map[string]string{"toolCallId": in.ToolCallID, "state": string(agent.StateResolved)})
}
