// Package mcp manages connections to downstream MCP servers and exposes an
// aggregated MCP surface upstream.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// sessionHeader carries the server-issued session ID on every request after
// initialize, per the streamable HTTP transport.
const sessionHeader = "Mcp-Session-Id"

// ErrTransport marks connection-level failures (dial errors, rejected HTTP
// status, broken streams) as opposed to JSON-RPC errors from the tool
// itself. The manager tears down and reconnects on these.
var ErrTransport = errors.New("transport failure")

// Tool is one entry in a downstream server's tool catalog.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	// Connection is the owning downstream connection, filled in by the
	// manager when aggregating catalogs.
	Connection string `json:"connection,omitempty"`
}

// Client is the transport-level interface a downstream connection speaks.
type Client interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
	Close() error
}

// HTTPClient is a JSON-RPC 2.0 client for an MCP server reachable over
// streamable HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string
}

// NewHTTPClient creates a client for the given MCP endpoint URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Initialize performs the MCP handshake.
func (c *HTTPClient) Initialize(ctx context.Context) error {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"clientInfo": map[string]string{
				"name":    "d3k",
				"version": "1.0",
			},
		},
	}

	if _, err := c.sendRequest(ctx, request); err != nil {
		return err
	}

	// A stateful server issues a session ID on initialize; the initialized
	// notification completes the handshake under that session.
	return c.notify(ctx, "notifications/initialized")
}

// ListTools fetches the server's tool catalog.
func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      time.Now().UnixNano(),
		"method":  "tools/list",
		"params":  map[string]interface{}{},
	}

	raw, err := c.sendRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the server.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      time.Now().UnixNano(),
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}

	return c.sendRequest(ctx, request)
}

// notify posts a JSON-RPC notification (no id, no result expected).
func (c *HTTPClient) notify(ctx context.Context, method string) error {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: HTTP %d: %s", ErrTransport, resp.StatusCode, msg)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// post sends one JSON body, attaching the current session ID and capturing
// any session ID the server issues in response.
func (c *HTTPClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set(sessionHeader, c.sessionID)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %v", ErrTransport, err)
	}

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}
	return resp, nil
}

// sendRequest posts a JSON-RPC request and returns the result payload.
func (c *HTTPClient) sendRequest(ctx context.Context, request interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrTransport, resp.StatusCode, msg)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	// Streamable HTTP servers may answer a POST with an SSE frame instead of
	// a bare JSON body.
	if isEventStream(resp.Header.Get("Content-Type")) {
		payload = firstSSEData(payload)
		if payload == nil {
			return nil, fmt.Errorf("no data frame in event stream response")
		}
	}

	var result struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", result.Error.Code, result.Error.Message)
	}

	return result.Result, nil
}

// Close drops the session; the next Initialize starts a fresh one.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	return nil
}
