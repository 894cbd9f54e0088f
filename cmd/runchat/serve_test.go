package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetersoncode/runchat/agent"
	"github.com/spetersoncode/runchat/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := validConfig()
	app, err := NewApp(context.Background(), &cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	srv := httptest.NewServer(newEcho(app))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	var created map[string]string
	status := doJSON(t, http.MethodPost, srv.URL+"/sessions", "", &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created["id"])
	return created["id"]
}

func postMessage(t *testing.T, srv *httptest.Server, id, content string) (*http.Response, string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"content": content})
	resp, err := http.Post(srv.URL+"/sessions/"+id+"/messages", echo.MIMEApplicationJSON, strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/health", "", &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestPostMessageStreamsRun(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	resp, stream := postMessage(t, srv, id, "hi")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	started := strings.Index(stream, "event: RUN_STARTED")
	content := strings.Index(stream, "event: TEXT_MESSAGE_CONTENT")
	finished := strings.Index(stream, "event: RUN_FINISHED")
	require.NotEqual(t, -1, started, stream)
	require.NotEqual(t, -1, content, stream)
	require.NotEqual(t, -1, finished, stream)
	assert.Less(t, started, content)
	assert.Less(t, content, finished)
	assert.NotContains(t, stream, "RUN_ERROR")

	var rec store.Record
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, "", &rec))
	require.Len(t, rec.Transcript, 1)
	assert.Equal(t, "hi", rec.Transcript[0].Prompt)
	assert.Equal(t, "You said: hi", rec.Transcript[0].Reply)
	assert.NotEmpty(t, rec.Session.ThreadID)

	var list map[string][]string
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/sessions", "", &list))
	assert.Contains(t, list["sessions"], id)
}

func TestPostMessageValidation(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/messages", `{"content":""}`, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, srv.URL+"/sessions/missing/messages", `{"content":"hi"}`, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/sessions/missing", "", nil))
}

func TestApprovalOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	type result struct {
		resp   *http.Response
		stream string
	}
	done := make(chan result, 1)
	go func() {
		body := `{"content":"what time is it"}`
		resp, err := http.Post(srv.URL+"/sessions/"+id+"/messages", echo.MIMEApplicationJSON, strings.NewReader(body))
		if !assert.NoError(t, err) {
			done <- result{}
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		done <- result{resp: resp, stream: string(data)}
	}()

	var pending []agent.PendingApproval
	require.Eventually(t, func() bool {
		var body struct {
			Approvals []agent.PendingApproval `json:"approvals"`
		}
		if doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id+"/approvals", "", &body) != http.StatusOK {
			return false
		}
		pending = body.Approvals
		return len(pending) == 1
	}, 5*time.Second, 10*time.Millisecond)

	call := pending[0].Call
	assert.Equal(t, "current_time", call.Name)
	assert.Equal(t, agent.StateRequested, pending[0].State)

	// A second turn is refused while this one streams.
	assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/messages", `{"content":"hi"}`, nil))

	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/approvals/call_nope", `{"approved":true}`, nil))
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/approvals/"+call.ID, `{"approved":true}`, nil))
	// Deciding again keeps the first decision.
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/approvals/"+call.ID, `{"approved":false}`, nil))

	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not finish")
	}
	require.NotNil(t, res.resp)
	assert.Contains(t, res.stream, "event: TOOL_CALL_START")
	assert.Contains(t, res.stream, "event: runchat.approval_requested")
	assert.Contains(t, res.stream, "event: runchat.approval_resolved")
	assert.Contains(t, res.stream, "event: RUN_FINISHED")

	var rec store.Record
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/sessions/"+id, "", &rec))
	require.Len(t, rec.Transcript, 1)
	assert.Contains(t, rec.Transcript[0].Reply, "The current time is")
	assert.Empty(t, rec.Session.Pending)
}

func TestResumeWithoutRun(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)

	assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, srv.URL+"/sessions/"+id+"/resume", "", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	id := createSession(t, srv)
	postMessage(t, srv, id, "hi")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `runchat_run_polls_total{status="completed"}`)
}
