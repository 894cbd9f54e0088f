package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerOption configures the demo server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	name    string
	version string
	now     func() time.Time
}

// WithName sets the server name reported to MCP clients.
func WithName(name string) ServerOption {
	return func(c *serverConfig) {
		c.name = name
	}
}

// WithVersion sets the server version reported to MCP clients.
func WithVersion(version string) ServerOption {
	return func(c *serverConfig) {
		c.version = version
	}
}

// WithClock overrides the time source of the current_time tool.
func WithClock(now func() time.Time) ServerOption {
	return func(c *serverConfig) {
		c.now = now
	}
}

// NewDemoServer creates an MCP server exposing read-only demo tools:
// current_time, add and word_count.
func NewDemoServer(opts ...ServerOption) *server.MCPServer {
	cfg := &serverConfig{
		name:    "runchat-demo-tools",
		version: "1.0.0",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := server.NewMCPServer(cfg.name, cfg.version, server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("current_time",
		mcp.WithDescription("Get the current time in an IANA time zone"),
		mcp.WithString("timezone", mcp.Description("IANA zone name, e.g. Europe/Paris. Defaults to UTC")),
	), currentTime(cfg.now))

	s.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First operand")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second operand")),
	), add)

	s.AddTool(mcp.NewTool("word_count",
		mcp.WithDescription("Count the words in a text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to count")),
	), wordCount)

	return s
}

// bindArgs decodes the call arguments into v.
func bindArgs(req mcp.CallToolRequest, v any) error {
	if req.Params.Arguments == nil {
		return nil
	}
	data, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func currentTime(now func() time.Time) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Timezone string `json:"timezone"`
		}
		if err := bindArgs(req, &args); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if args.Timezone == "" {
			args.Timezone = "UTC"
		}
		loc, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("unknown time zone %q", args.Timezone)), nil
		}
		return mcp.NewToolResultText(now().In(loc).Format(time.RFC3339)), nil
	}
}

func add(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		A *float64 `json:"a"`
		B *float64 `json:"b"`
	}
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.A == nil || args.B == nil {
		return mcp.NewToolResultError("a and b are required"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%g", *args.A+*args.B)), nil
}

func wordCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", len(strings.Fields(args.Text)))), nil
}
