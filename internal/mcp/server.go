package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Backends are the core capabilities the MCP surface exposes. Injected as
// functions so the server package does not depend on the engines behind
// them.
type Backends struct {
	// ReadLogs returns the last n consolidated log lines, optionally
	// filtered to a regex.
	ReadLogs func(ctx context.Context, lines int, filter string) ([]string, error)
	// GetErrors returns the prioritized error report for the window.
	GetErrors func(ctx context.Context, windowMinutes int) (interface{}, error)
	// ExecuteReplay replays recorded interactions between two timestamps.
	ExecuteReplay func(ctx context.Context, startTime, endTime string, speed float64) (interface{}, error)
	// DetectJank runs shift detection for a session's screenshots.
	DetectJank func(ctx context.Context, session string) (interface{}, error)
	// ListSessions returns active session descriptors.
	ListSessions func(ctx context.Context) (interface{}, error)
}

// Server is the aggregated MCP surface: core tools plus proxies for every
// downstream tool.
type Server struct {
	inner   *server.MCPServer
	manager *Manager
	logger  *zap.Logger
}

// NewServer builds the MCP server and registers the core tools.
func NewServer(backends Backends, manager *Manager, logger *zap.Logger) *Server {
	inner := server.NewMCPServer(
		"d3k",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s := &Server{inner: inner, manager: manager, logger: logger}
	s.registerCoreTools(backends)
	return s
}

func (s *Server) registerCoreTools(b Backends) {
	readLogs := mcplib.NewTool("read_consolidated_logs",
		mcplib.WithDescription(`Read recent lines from the unified development log timeline.

The timeline interleaves server output, browser console messages, network
requests, user interactions, navigations, and screenshot captures in one
chronological stream. Use this to see what actually happened around a
problem instead of asking the user to paste logs.`),
		mcplib.WithNumber("lines",
			mcplib.Description("Number of trailing lines to return (default 50)"),
		),
		mcplib.WithString("filter",
			mcplib.Description("Regular expression; only matching lines are returned"),
		),
	)
	s.inner.AddTool(readLogs, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		lines := request.GetInt("lines", 50)
		filter := request.GetString("filter", "")

		out, err := b.ReadLogs(ctx, lines, filter)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Failed to read logs: %v", err)), nil
		}
		return jsonToolResult(out)
	})

	getErrors := mcplib.NewTool("get_errors",
		mcplib.WithDescription(`Get a prioritized error report for the recent log window.

Errors are grouped into build, server, browser, network, and warning
buckets with the surrounding interaction context, newest first. Start here
when the user says "it's broken" without details.`),
		mcplib.WithNumber("windowMinutes",
			mcplib.Description("How many minutes back to scan (default 10)"),
		),
	)
	s.inner.AddTool(getErrors, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		window := request.GetInt("windowMinutes", 10)

		report, err := b.GetErrors(ctx, window)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Failed to build error report: %v", err)), nil
		}
		return jsonToolResult(report)
	})

	executeReplay := mcplib.NewTool("execute_replay",
		mcplib.WithDescription(`Re-execute recorded user interactions against the running app.

Replays clicks, scrolls, key presses, and navigations from the log
timeline with their original pacing. Useful for reproducing a bug the
user just hit.`),
		mcplib.WithString("startTime",
			mcplib.Description("ISO-8601 start of the window to replay"),
		),
		mcplib.WithString("endTime",
			mcplib.Description("ISO-8601 end of the window to replay"),
		),
		mcplib.WithNumber("speed",
			mcplib.Description("Playback speed multiplier (default 1.0)"),
		),
	)
	s.inner.AddTool(executeReplay, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		startTime := request.GetString("startTime", "")
		endTime := request.GetString("endTime", "")
		speed := request.GetFloat("speed", 1.0)

		result, err := b.ExecuteReplay(ctx, startTime, endTime, speed)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Replay failed: %v", err)), nil
		}
		return jsonToolResult(result)
	})

	detectJank := mcplib.NewTool("detect_jank",
		mcplib.WithDescription(`Detect visual layout shifts from a session's screenshot sequence.

Compares consecutive frames to localize shifts, cross-validated against
browser-reported layout-shift metadata when available. Returns markers
with bounding boxes and a CLS grade.`),
		mcplib.WithString("session",
			mcplib.Required(),
			mcplib.Description("Session name whose screenshots to analyze"),
		),
	)
	s.inner.AddTool(detectJank, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		session, err := request.RequireString("session")
		if err != nil {
			return mcplib.NewToolResultError(err.Error()), nil
		}

		result, err := b.DetectJank(ctx, session)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Jank detection failed: %v", err)), nil
		}
		return jsonToolResult(result)
	})

	listSessions := mcplib.NewTool("list_sessions",
		mcplib.WithDescription(`List active development sessions with their ports, log paths, and CDP URLs.`),
	)
	s.inner.AddTool(listSessions, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		sessions, err := b.ListSessions(ctx)
		if err != nil {
			return mcplib.NewToolResultError(fmt.Sprintf("Failed to list sessions: %v", err)), nil
		}
		return jsonToolResult(sessions)
	})
}

// RegisterDownstreamTools adds a proxy tool for every tool the manager has
// discovered, named {connection}_{tool}. Call after Initialize.
func (s *Server) RegisterDownstreamTools() {
	for _, t := range s.manager.AllTools() {
		conn := t.Connection
		downstream := t.Name
		proxied := fmt.Sprintf("%s_%s", conn, downstream)

		description := fmt.Sprintf("[%s] %s", conn, t.Description)
		var tool mcplib.Tool
		if len(t.InputSchema) > 0 {
			tool = mcplib.NewToolWithRawSchema(proxied, description, t.InputSchema)
		} else {
			tool = mcplib.NewTool(proxied, mcplib.WithDescription(description))
		}

		s.inner.AddTool(tool, func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
			args := request.GetArguments()
			raw, err := s.manager.CallTool(ctx, conn, downstream, args)
			if err != nil {
				return mcplib.NewToolResultError(fmt.Sprintf("Downstream call failed: %v", err)), nil
			}
			return mcplib.NewToolResultText(string(raw)), nil
		})
		s.logger.Debug("registered downstream tool",
			zap.String("tool", proxied),
			zap.String("connection", conn))
	}
}

// Handler returns the streamable HTTP transport for mounting under the API
// router.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.inner)
}

// ServeStdio serves MCP over stdin/stdout. Blocks until the stream closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.inner)
}

func jsonToolResult(v interface{}) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcplib.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
