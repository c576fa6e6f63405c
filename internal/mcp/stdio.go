package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// StdioClient runs a downstream MCP server as a child process speaking the
// stdio transport. Used for chrome-devtools-mcp and similar npx-launched
// servers.
type StdioClient struct {
	inner *mcpclient.Client
}

// NewStdioClient spawns the downstream server process. The process starts
// immediately; Initialize completes the handshake.
func NewStdioClient(command string, env []string, args ...string) (*StdioClient, error) {
	inner, err := mcpclient.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}
	return &StdioClient{inner: inner}, nil
}

func (c *StdioClient) Initialize(ctx context.Context) error {
	req := mcplib.InitializeRequest{}
	req.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcplib.Implementation{
		Name:    "d3k",
		Version: "1.0",
	}

	_, err := c.inner.Initialize(ctx, req)
	return err
}

func (c *StdioClient) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.inner.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = nil
		}
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	// Tool-level failures come back inside the result; an error here means
	// the child process or its stream is gone.
	result, err := c.inner.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return raw, nil
}

// Close terminates the child process.
func (c *StdioClient) Close() error {
	return c.inner.Close()
}
