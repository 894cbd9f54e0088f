// Package mcp executes approved tool calls over the Model Context Protocol.
//
// The remote agent decides which tool to call; once the user approves a call
// an [Executor] forwards it to an MCP server and returns the textual result,
// which the backend submits as the tool output.
//
// # Connecting to a Tool Server
//
//	tokens, err := credential.NewClientCredentials(cfg)
//	...
//	exec, err := mcp.Dial(ctx, "https://tools.example.com/sse", nil, tokens)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
// # Local Demo Tools
//
// [NewDemoServer] builds an in-process MCP server with a few harmless tools so
// the chat flow can be exercised without external infrastructure:
//
//	exec, err := mcp.NewInProcess(ctx, mcp.NewDemoServer())
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/spetersoncode/runchat"
)

// Tool describes a tool offered by an MCP server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// FromMCPTool converts an MCP Tool description.
// It extracts the JSON schema from either RawInputSchema or InputSchema.
func FromMCPTool(t mcp.Tool) Tool {
	var schema json.RawMessage
	if len(t.RawInputSchema) > 0 {
		schema = t.RawInputSchema
	} else if data, err := json.Marshal(t.InputSchema); err == nil {
		schema = data
	}
	return Tool{Name: t.Name, Description: t.Description, Parameters: schema}
}

// ToCallToolRequest converts a tool call into an MCP CallToolRequest.
// Arguments that are not valid JSON are passed through as a string.
func ToCallToolRequest(call runchat.ToolCall) mcp.CallToolRequest {
	var args any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			args = call.Arguments
		}
	}
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      call.Name,
			Arguments: args,
		},
	}
}

// ResultText flattens an MCP tool result into text. Non-text content and
// structured content are rendered as JSON. The second return value reports
// whether the tool signalled an error.
func ResultText(result *mcp.CallToolResult) (string, bool) {
	if result == nil {
		return "", true
	}

	var parts []string
	for _, c := range result.Content {
		switch content := c.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		default:
			if data, err := json.Marshal(content); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	if result.StructuredContent != nil {
		if data, err := json.Marshal(result.StructuredContent); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n"), result.IsError
}
