// Package assistants implements runchat.RunClient over an Assistants-style
// REST API (threads, messages, runs) using the openai-go SDK. It works with
// the OpenAI Assistants API and with Azure AI Foundry agents, which add MCP
// tool approvals to the same surface.
//
// Two kinds of tool call are supported. Function calls are executed locally
// through a runchat.ToolExecutor once approved and their output submitted.
// MCP calls are executed by the service itself; only the approval is sent.
package assistants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/credential"
)

// DeniedOutput is submitted as the output of a denied function call.
const DeniedOutput = "Tool call denied by user."

// Config configures a Client.
type Config struct {
	// Endpoint is the service base URL, e.g. an Azure AI Foundry project
	// endpoint or https://api.openai.com/v1.
	Endpoint string
	// AgentID is the assistant/agent that runs are started with.
	AgentID string
	// APIVersion is appended as the api-version query parameter when set.
	APIVersion string
	// Credentials supplies the bearer token for every request.
	Credentials credential.Provider
	// ToolCredentials supplies the token the agent forwards to the MCP
	// server. It is read when a run starts and again when approvals are
	// submitted, so a long wait on the gate never sends a stale token.
	ToolCredentials credential.Provider
	// Tools executes approved function calls.
	Tools runchat.ToolExecutor
	// RequestsPerSecond caps the request rate to the service. Zero means
	// no limit. Polling several sessions at once adds up quickly.
	RequestsPerSecond float64
	// Burst is the limiter burst size. Default is 1.
	Burst int
	// HTTPClient overrides the HTTP client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Validate checks that the configuration is complete.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("assistants: endpoint is required")
	}
	if c.AgentID == "" {
		return errors.New("assistants: agent id is required")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("assistants: requests per second must not be negative")
	}
	return nil
}

type callKind int

const (
	kindFunction callKind = iota
	kindMCP
)

type pendingCall struct {
	call runchat.ToolCall
	kind callKind
}

// Client is a runchat.RunClient backed by the Assistants API.
type Client struct {
	api     openai.Client
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter // nil when unlimited

	mu       sync.Mutex
	pending  map[string]map[string]pendingCall // run id → call id
	outputs  map[string]string                 // call id → function output
	executed map[string][]runchat.ToolCall     // run id → executed calls
	headers  map[string]map[string]string      // run id → tool headers
}

var _ runchat.RunClient = (*Client)(nil)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[string]map[string]pendingCall),
		outputs:  make(map[string]string),
		executed: make(map[string][]runchat.ToolCall),
		headers:  make(map[string]map[string]string),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	base := cfg.Endpoint
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithAPIKey("unused"),
		// Retries are owned by the driver.
		option.WithMaxRetries(0),
		option.WithMiddleware(c.middleware),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	c.api = openai.NewClient(opts...)
	return c, nil
}

// middleware paces requests and injects the bearer token and api-version.
func (c *Client) middleware(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if c.cfg.APIVersion != "" {
		q := req.URL.Query()
		q.Set("api-version", c.cfg.APIVersion)
		req.URL.RawQuery = q.Encode()
	}
	if c.cfg.Credentials != nil {
		tok, err := credential.Check(req.Context(), c.cfg.Credentials)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", tok.Header())
	}
	return next(req)
}

// CreateThread implements runchat.RunClient.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	th, err := c.api.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", wrapErr("create thread", err)
	}
	return th.ID, nil
}

// PostUserMessage implements runchat.RunClient.
func (c *Client) PostUserMessage(ctx context.Context, threadID, text string) error {
	_, err := c.api.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return wrapErr("post message", err)
	}
	return nil
}

// StartRun implements runchat.RunClient. When cfg names an MCP server its
// label, headers and approval mode are passed as tool resources.
func (c *Client) StartRun(ctx context.Context, threadID string, cfg runchat.ToolConfig) (string, error) {
	params := openai.BetaThreadRunNewParams{AssistantID: c.cfg.AgentID}
	if cfg.Instructions != "" {
		params.Instructions = openai.String(cfg.Instructions)
	}

	headers, err := c.toolHeaders(ctx, cfg.Headers)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	cfg.Headers = headers

	var opts []option.RequestOption
	if cfg.ServerLabel != "" {
		opts = append(opts, option.WithJSONSet("tool_resources", mcpResources(cfg)))
	}

	run, err := c.api.Beta.Threads.Runs.New(ctx, threadID, params, opts...)
	if err != nil {
		return "", wrapErr("start run", err)
	}

	c.mu.Lock()
	c.headers[run.ID] = cfg.Headers
	c.mu.Unlock()
	return run.ID, nil
}

// toolHeaders returns base with a current tool-subsystem authorization
// header. base is never modified.
func (c *Client) toolHeaders(ctx context.Context, base map[string]string) (map[string]string, error) {
	if c.cfg.ToolCredentials == nil {
		return base, nil
	}
	tok, err := credential.Check(ctx, c.cfg.ToolCredentials)
	if err != nil {
		return nil, fmt.Errorf("tool token: %w", err)
	}
	headers := make(map[string]string, len(base)+1)
	for k, v := range base {
		headers[k] = v
	}
	headers["authorization"] = tok.Header()
	return headers, nil
}

func mcpResources(cfg runchat.ToolConfig) map[string]any {
	approval := "never"
	if cfg.RequireApproval {
		approval = "always"
	}
	server := map[string]any{
		"server_label":     cfg.ServerLabel,
		"require_approval": approval,
	}
	if len(cfg.Headers) > 0 {
		server["headers"] = cfg.Headers
	}
	if cfg.ServerURL != "" {
		server["server_url"] = cfg.ServerURL
	}
	return map[string]any{"mcp": []any{server}}
}

// GetRun implements runchat.RunClient.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*runchat.Snapshot, error) {
	run, err := c.api.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return nil, wrapErr("get run", err)
	}

	snap := &runchat.Snapshot{
		RunID:    run.ID,
		ThreadID: threadID,
		Status:   runchat.RunStatus(run.Status),
	}
	if run.LastError.Message != "" || run.LastError.Code != "" {
		snap.LastError = &runchat.RunError{Code: string(run.LastError.Code), Message: run.LastError.Message}
	}
	if snap.Status == runchat.RunRequiresAction {
		calls := c.requiredCalls(runID, run)
		snap.RequiredAction = &runchat.RequiredAction{ToolCalls: calls}
	}

	var observed []runchat.ToolCall
	if snap.Status != runchat.RunQueued {
		pager := c.api.Beta.Threads.Messages.ListAutoPaging(ctx, threadID, openai.BetaThreadMessageListParams{
			RunID: openai.String(runID),
			Order: openai.BetaThreadMessageListParamsOrderAsc,
		})
		for pager.Next() {
			m := pager.Current()
			if string(m.Role) != "assistant" {
				continue
			}
			snap.Messages = append(snap.Messages, convertMessage(m))
		}
		if err := pager.Err(); err != nil {
			return nil, wrapErr("list messages", err)
		}

		if observed, err = c.stepCalls(ctx, threadID, runID); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	snap.ToolCalls = mergeCalls(c.executed[runID], observed)
	if snap.Status.Terminal() {
		delete(c.pending, runID)
		delete(c.headers, runID)
	}
	c.mu.Unlock()

	return snap, nil
}

// stepPayload is the part of a run step that describes tool calls. MCP
// calls are not typed by the SDK, so steps are decoded from their raw JSON.
type stepPayload struct {
	Status      string `json:"status"`
	StepDetails struct {
		Type      string `json:"type"`
		ToolCalls []struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			Name        string `json:"name"`
			Arguments   string `json:"arguments"`
			Output      string `json:"output"`
			ServerLabel string `json:"server_label"`
			Function    struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
				Output    string `json:"output"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"step_details"`
}

// stepCalls lists the run's steps and returns the tool calls that finished
// with an output, in step order. This is how calls the service runs itself
// become visible.
func (c *Client) stepCalls(ctx context.Context, threadID, runID string) ([]runchat.ToolCall, error) {
	pager := c.api.Beta.Threads.Runs.Steps.ListAutoPaging(ctx, threadID, runID, openai.BetaThreadRunStepListParams{
		Order: openai.BetaThreadRunStepListParamsOrderAsc,
	})

	var calls []runchat.ToolCall
	for pager.Next() {
		step := pager.Current()
		var p stepPayload
		if err := json.Unmarshal([]byte(step.RawJSON()), &p); err != nil {
			c.logger.Warn("skipping undecodable run step", "run_id", runID, "step_id", step.ID, "error", err)
			continue
		}
		if p.Status != "completed" || p.StepDetails.Type != "tool_calls" {
			continue
		}
		for _, tc := range p.StepDetails.ToolCalls {
			call := runchat.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, Output: tc.Output, ServerLabel: tc.ServerLabel}
			if tc.Type == "function" {
				call.Name, call.Arguments, call.Output = tc.Function.Name, tc.Function.Arguments, tc.Function.Output
			}
			if call.ID == "" || call.Output == "" {
				continue
			}
			calls = append(calls, call)
		}
	}
	if err := pager.Err(); err != nil {
		return nil, wrapErr("list run steps", err)
	}
	return calls, nil
}

// mergeCalls returns the locally executed calls followed by observed calls
// not already among them.
func mergeCalls(executed, observed []runchat.ToolCall) []runchat.ToolCall {
	if len(executed) == 0 && len(observed) == 0 {
		return nil
	}
	out := make([]runchat.ToolCall, 0, len(executed)+len(observed))
	seen := make(map[string]bool, len(executed))
	for _, call := range executed {
		seen[call.ID] = true
		out = append(out, call)
	}
	for _, call := range observed {
		if !seen[call.ID] {
			seen[call.ID] = true
			out = append(out, call)
		}
	}
	return out
}

// approvalAction is the MCP approval payload some services place in
// required_action next to submit_tool_outputs.
type approvalAction struct {
	RequiredAction struct {
		Type               string `json:"type"`
		SubmitToolApproval struct {
			ToolCalls []struct {
				ID          string `json:"id"`
				Type        string `json:"type"`
				Name        string `json:"name"`
				Arguments   string `json:"arguments"`
				ServerLabel string `json:"server_label"`
			} `json:"tool_calls"`
		} `json:"submit_tool_approval"`
	} `json:"required_action"`
}

// requiredCalls extracts the calls awaiting a decision and remembers how
// each one must be answered.
func (c *Client) requiredCalls(runID string, run *openai.Run) []runchat.ToolCall {
	pending := make(map[string]pendingCall)
	var calls []runchat.ToolCall

	for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		call := runchat.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		calls = append(calls, call)
		pending[call.ID] = pendingCall{call: call, kind: kindFunction}
	}

	var raw approvalAction
	if err := json.Unmarshal([]byte(run.RawJSON()), &raw); err == nil {
		for _, tc := range raw.RequiredAction.SubmitToolApproval.ToolCalls {
			call := runchat.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, ServerLabel: tc.ServerLabel}
			calls = append(calls, call)
			pending[call.ID] = pendingCall{call: call, kind: kindMCP}
		}
	}

	c.mu.Lock()
	c.pending[runID] = pending
	c.mu.Unlock()
	return calls
}

type urlCitation struct {
	URLCitation struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"url_citation"`
}

func convertMessage(m openai.Message) runchat.MessageSnapshot {
	out := runchat.MessageSnapshot{ID: m.ID}
	var text strings.Builder
	for _, part := range m.Content {
		if part.Type != "text" {
			continue
		}
		base := len([]rune(text.String()))
		text.WriteString(part.Text.Value)

		for _, ann := range part.Text.Annotations {
			cit := runchat.Citation{
				MessageID: m.ID,
				Kind:      runchat.CitationKind(ann.Type),
				Quote:     ann.Text,
				Offset:    base + int(ann.StartIndex),
				End:       base + int(ann.EndIndex),
			}
			switch ann.Type {
			case string(runchat.CitationFile):
				cit.Source = ann.FileCitation.FileID
			case string(runchat.CitationURL):
				var u urlCitation
				if err := json.Unmarshal([]byte(ann.RawJSON()), &u); err != nil {
					continue
				}
				cit.Source, cit.Title = u.URLCitation.URL, u.URLCitation.Title
			default:
				continue
			}
			out.Citations = append(out.Citations, cit)
		}
	}
	out.Text = text.String()
	return out
}

// SubmitToolDecisions implements runchat.RunClient. Approved function calls
// are executed before submission; their outputs are cached so a retried
// submission never runs a tool twice. The whole batch, function outputs and
// MCP approvals alike, goes out in a single request.
func (c *Client) SubmitToolDecisions(ctx context.Context, threadID, runID string, decisions []runchat.ToolDecision) error {
	c.mu.Lock()
	pending := c.pending[runID]
	headers := c.headers[runID]
	c.mu.Unlock()

	if len(pending) == 0 {
		// Restarted process: rebuild the pending set from the service.
		run, err := c.api.Beta.Threads.Runs.Get(ctx, threadID, runID)
		if err != nil {
			return wrapErr("get run", err)
		}
		c.requiredCalls(runID, run)
		c.mu.Lock()
		pending = c.pending[runID]
		c.mu.Unlock()
	}

	headers, err := c.toolHeaders(ctx, headers)
	if err != nil {
		return fmt.Errorf("submit tool decisions: %w", err)
	}

	var outputs []map[string]any
	var approvals []map[string]any
	var executed []runchat.ToolCall

	for _, d := range decisions {
		p, ok := pending[d.CallID]
		if !ok {
			return runchat.NewUserInputError(fmt.Sprintf("submit decisions: tool call %s is not pending", d.CallID), 400, runchat.ErrUnknownCall)
		}

		switch p.kind {
		case kindMCP:
			approval := map[string]any{"tool_call_id": d.CallID, "approve": d.Approved}
			if len(headers) > 0 {
				approval["headers"] = headers
			}
			// The service runs approved MCP calls; their outputs arrive
			// through the run steps.
			approvals = append(approvals, approval)

		default:
			out := c.functionOutput(ctx, p.call, d)
			outputs = append(outputs, map[string]any{"tool_call_id": d.CallID, "output": out})
			call := p.call
			call.Output = out
			executed = append(executed, call)
		}
	}

	body := make(map[string]any, 2)
	if len(outputs) > 0 {
		body["tool_outputs"] = outputs
	}
	if len(approvals) > 0 {
		body["tool_approvals"] = approvals
	}
	var res openai.Run
	path := fmt.Sprintf("threads/%s/runs/%s/submit_tool_outputs", threadID, runID)
	if err := c.api.Post(ctx, path, body, &res); err != nil {
		return wrapErr("submit tool decisions", err)
	}

	c.mu.Lock()
	c.executed[runID] = append(c.executed[runID], executed...)
	delete(c.pending, runID)
	for _, d := range decisions {
		delete(c.outputs, d.CallID)
	}
	c.mu.Unlock()

	c.logger.Info("tool decisions submitted", "thread_id", threadID, "run_id", runID,
		"outputs", len(outputs), "approvals", len(approvals))
	return nil
}

func (c *Client) functionOutput(ctx context.Context, call runchat.ToolCall, d runchat.ToolDecision) string {
	if !d.Approved {
		if d.Reason != "" {
			return DeniedOutput + " Reason: " + d.Reason
		}
		return DeniedOutput
	}

	c.mu.Lock()
	out, ok := c.outputs[call.ID]
	c.mu.Unlock()
	if ok {
		return out
	}

	if c.cfg.Tools == nil {
		out = "Error: no tool executor configured"
	} else if res, err := c.cfg.Tools.Execute(ctx, call); err != nil {
		c.logger.Warn("tool execution failed", "call_id", call.ID, "tool", call.Name, "error", err)
		out = "Error: " + err.Error()
	} else {
		out = res
	}

	c.mu.Lock()
	c.outputs[call.ID] = out
	c.mu.Unlock()
	return out
}

// wrapErr converts SDK errors into categorized runchat errors.
func wrapErr(op string, err error) error {
	if errors.Is(err, runchat.ErrAuthExpired) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		wrapped := runchat.Categorize(op, apiErr.StatusCode, err)
		var ce *runchat.Error
		if errors.As(wrapped, &ce) && apiErr.Response != nil {
			ce.RetryDelay = retryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return wrapped
	}
	return fmt.Errorf("%s: %w", op, err)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
