package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spetersoncode/runchat"
	"github.com/spetersoncode/runchat/credential"
)

// Executor runs tool calls against an MCP server. It implements
// runchat.ToolExecutor and is safe for concurrent use.
type Executor struct {
	client *client.Client
	logger *slog.Logger

	mu         sync.RWMutex
	tools      map[string]Tool
	validators map[string]*ArgumentValidator
}

var _ runchat.ToolExecutor = (*Executor)(nil)

// Dial connects to an MCP server over SSE. Headers are sent with every
// request. When tokens is set, each request also carries an Authorization
// header read from it at send time, so refreshed tokens are picked up.
func Dial(ctx context.Context, baseURL string, headers map[string]string, tokens credential.Provider) (*Executor, error) {
	opts := []transport.ClientOption{transport.WithHeaders(headers)}
	if tokens != nil {
		opts = append(opts, transport.WithHeaderFunc(authHeader(tokens)))
	}
	c, err := client.NewSSEMCPClient(baseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE MCP client: %w", err)
	}
	return newExecutor(ctx, c)
}

// authHeader reads a current token for every request. A token that cannot
// be read leaves the header out and the server rejects the call.
func authHeader(tokens credential.Provider) transport.HTTPHeaderFunc {
	return func(ctx context.Context) map[string]string {
		tok, err := credential.Check(ctx, tokens)
		if err != nil {
			slog.Default().Warn("mcp token unavailable", "error", err)
			return nil
		}
		return map[string]string{"Authorization": tok.Header()}
	}
}

// NewInProcess connects to an in-process MCP server.
func NewInProcess(ctx context.Context, srv *server.MCPServer) (*Executor, error) {
	c, err := client.NewInProcessClient(srv)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-process MCP client: %w", err)
	}
	return newExecutor(ctx, c)
}

func newExecutor(ctx context.Context, c *client.Client) (*Executor, error) {
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "runchat",
				Version: "1.0.0",
			},
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	e := &Executor{client: c, logger: slog.Default()}
	if err := e.Refresh(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return e, nil
}

// WithLogger sets the logger used for tool execution.
func (e *Executor) WithLogger(l *slog.Logger) *Executor {
	if l != nil {
		e.logger = l
	}
	return e
}

// Close closes the connection to the MCP server.
func (e *Executor) Close() error {
	return e.client.Close()
}

// Refresh fetches the current list of tools from the server.
func (e *Executor) Refresh(ctx context.Context) error {
	result, err := e.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return err
	}

	tools := make(map[string]Tool, len(result.Tools))
	validators := make(map[string]*ArgumentValidator, len(result.Tools))
	for _, t := range result.Tools {
		tool := FromMCPTool(t)
		tools[tool.Name] = tool
		v, err := CompileSchema(tool.Parameters)
		if err != nil {
			// The server still decides; arguments go through unchecked.
			e.logger.Warn("tool schema not usable", "tool", tool.Name, "error", err)
			continue
		}
		validators[tool.Name] = v
	}

	e.mu.Lock()
	e.tools = tools
	e.validators = validators
	e.mu.Unlock()
	return nil
}

// Tools returns the server's tools sorted by name.
func (e *Executor) Tools() []Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Tool, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether the server offers a tool named name.
func (e *Executor) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tools[name]
	return ok
}

// Execute validates the arguments against the tool's input schema, calls the
// tool and returns its text output. Rejected arguments and tool errors still
// yield output so the agent can see what went wrong.
func (e *Executor) Execute(ctx context.Context, call runchat.ToolCall) (string, error) {
	e.mu.RLock()
	_, ok := e.tools[call.Name]
	validator := e.validators[call.Name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tool %q not offered by server", call.Name)
	}
	if err := validator.Validate(call.Arguments); err != nil {
		// Reported to the agent like a tool error so it can correct itself.
		e.logger.Warn("tool arguments rejected", "call_id", call.ID, "tool", call.Name, "error", err)
		return "Error: " + err.Error(), nil
	}

	result, err := e.client.CallTool(ctx, ToCallToolRequest(call))
	if err != nil {
		e.logger.Error("tool call failed", "call_id", call.ID, "tool", call.Name, "error", err)
		return "", fmt.Errorf("call tool %s: %w", call.Name, err)
	}

	text, isErr := ResultText(result)
	if isErr {
		e.logger.Warn("tool reported error", "call_id", call.ID, "tool", call.Name, "output", text)
		return "Error: " + text, nil
	}
	e.logger.Info("tool executed", "call_id", call.ID, "tool", call.Name, "bytes", len(text))
	return text, nil
}
