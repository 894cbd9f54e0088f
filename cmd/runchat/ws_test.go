package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/runchat/store"
)

// frame is a decoded server message: an AG-UI event or a named frame.
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func dialSession(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readUntil reads frames until every wanted type has been seen.
func readUntil(t *testing.T, conn *websocket.Conn, want ...string) []frame {
	t.Helper()
	missing := make(map[string]bool, len(want))
	for _, w := range want {
		missing[w] = true
	}

	var got []frame
	for len(missing) > 0 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
		var f frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %v", want)
		got = append(got, f)
		delete(missing, f.Type)
	}
	return got
}

func frameTypes(frames []frame) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}

func TestSocketRunsTurn(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)
	conn := dialSession(t, srv, id)

	send(t, conn, map[string]string{"type": "message", "content": "hi"})
	frames := readUntil(t, conn, "RUN_FINISHED")
	types := frameTypes(frames)
	assert.Equal(t, "RUN_STARTED", types[0])
	assert.Contains(t, types, "TEXT_MESSAGE_CONTENT")

	var rec store.Record
	require.Eventually(t, func() bool {
		return doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, "", &rec) == http.StatusOK && len(rec.Transcript) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "You said: hi", rec.Transcript[0].Reply)
}

func TestSocketApproval(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)
	conn := dialSession(t, srv, id)

	send(t, conn, map[string]string{"type": "message", "content": "what time is it"})
	frames := readUntil(t, conn, "runchat.approval_requested")
	assert.Contains(t, frameTypes(frames), "TOOL_CALL_START")
	requested := frames[len(frames)-1]

	var ev struct {
		ToolCall struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"toolCall"`
	}
	require.NoError(t, json.Unmarshal(requested.Data, &ev))
	assert.Equal(t, "current_time", ev.ToolCall.Name)

	// The run is parked on the gate, so the next frames answer these requests.
	send(t, conn, map[string]string{"type": "message", "content": "hi"})
	busy := readUntil(t, conn, "error")
	assert.Contains(t, string(busy[len(busy)-1].Data), "a turn is already running")

	send(t, conn, map[string]any{"type": "approval", "toolCallId": "call_nope", "approved": true})
	unknown := readUntil(t, conn, "error")
	assert.Contains(t, string(unknown[len(unknown)-1].Data), "tool call not pending")

	send(t, conn, map[string]any{"type": "approval", "toolCallId": ev.ToolCall.ID, "approved": true})
	frames = readUntil(t, conn, "runchat.decision_recorded", "RUN_FINISHED")
	assert.Contains(t, frameTypes(frames), "runchat.approval_resolved")
}

func TestSocketRejectsBadFrames(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)
	conn := dialSession(t, srv, id)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readUntil(t, conn, "error")
	assert.Contains(t, string(f[0].Data), "invalid JSON message")

	send(t, conn, map[string]string{"type": "shout"})
	f = readUntil(t, conn, "error")
	assert.Contains(t, string(f[0].Data), "unknown message type: shout")

	send(t, conn, map[string]string{"type": "message"})
	f = readUntil(t, conn, "error")
	assert.Contains(t, string(f[0].Data), "content is required")

	send(t, conn, map[string]string{"type": "resume"})
	f = readUntil(t, conn, "error")
	assert.Contains(t, string(f[0].Data), "no active run")
}

func TestSocketUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
