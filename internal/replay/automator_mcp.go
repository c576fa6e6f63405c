package replay

import (
	"context"
	"encoding/json"
)

// ToolCaller forwards a tool call to a browser-automation MCP endpoint. The
// JSON-RPC client in internal/mcp satisfies this.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
}

// Tool names understood by the chrome-devtools automation backend.
const (
	toolNavigate = "navigate_page"
	toolClick    = "click"
	toolScroll   = "scroll"
	toolType     = "type_text"
)

// MCPAutomator dispatches replay actions as MCP tool calls against the
// automation backend named by MCP_SERVER_URL.
type MCPAutomator struct {
	caller ToolCaller
}

// NewMCPAutomator wraps a tool caller as an Automator.
func NewMCPAutomator(caller ToolCaller) *MCPAutomator {
	return &MCPAutomator{caller: caller}
}

func (a *MCPAutomator) Navigate(ctx context.Context, url string) error {
	_, err := a.caller.CallTool(ctx, toolNavigate, map[string]interface{}{
		"url": url,
	})
	return err
}

func (a *MCPAutomator) Click(ctx context.Context, x, y int) error {
	_, err := a.caller.CallTool(ctx, toolClick, map[string]interface{}{
		"x": x,
		"y": y,
	})
	return err
}

func (a *MCPAutomator) Scroll(ctx context.Context, dx, dy int) error {
	_, err := a.caller.CallTool(ctx, toolScroll, map[string]interface{}{
		"deltaX": dx,
		"deltaY": dy,
	})
	return err
}

func (a *MCPAutomator) Type(ctx context.Context, text string) error {
	_, err := a.caller.CallTool(ctx, toolType, map[string]interface{}{
		"text": text,
	})
	return err
}
