package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// maxStatusWait caps ?waitMs= so a stuck client cannot pin a handler.
	maxStatusWait = 10 * time.Second
	statusPoll    = 250 * time.Millisecond
	// sseTailBytes bounds the SSE read buffer; only the tail is kept, the
	// tools/list frame of interest is always the most recent.
	sseTailBytes = 8 * 1024
)

// OrchestratorStatus is the aggregated view served to coordination clients.
type OrchestratorStatus struct {
	Ready       bool               `json:"ready"`
	Connections []ConnectionStatus `json:"connections"`
	Tools       []Tool             `json:"tools"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Orchestrator serves the cross-connection status surface. When the manager
// has no live connections it falls back to discovering tools from its own
// MCP endpoint, so a status client still sees the core catalog.
type Orchestrator struct {
	manager *Manager
	selfURL string
	logger  *zap.Logger
}

// NewOrchestrator wires the status surface over a manager. selfURL is the
// loopback URL of this process's own MCP endpoint, used for fallback
// discovery.
func NewOrchestrator(manager *Manager, selfURL string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{manager: manager, selfURL: selfURL, logger: logger}
}

// HandleStatus answers GET /api/orchestrator. ?waitMs= blocks until at
// least one downstream connects or the wait elapses. Responses are never
// cacheable: connection state changes between requests.
func (o *Orchestrator) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")

	wait := parseWaitMs(r.URL.Query().Get("waitMs"))
	deadline := time.Now().Add(wait)
	for wait > 0 && !o.manager.Connected() && time.Now().Before(deadline) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(statusPoll):
		}
	}

	status := OrchestratorStatus{
		Ready:       o.manager.Connected(),
		Connections: o.manager.Status(),
		Tools:       o.manager.AllTools(),
		Timestamp:   time.Now().UTC(),
	}

	if len(status.Tools) == 0 && o.selfURL != "" {
		tools, err := o.discoverSelf(r.Context())
		if err != nil {
			o.logger.Debug("self discovery failed", zap.Error(err))
		} else {
			status.Tools = tools
		}
	}

	json.NewEncoder(w).Encode(status)
}

func parseWaitMs(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0
	}
	wait := time.Duration(ms) * time.Millisecond
	if wait > maxStatusWait {
		wait = maxStatusWait
	}
	return wait
}

// discoverSelf issues initialize + tools/list against this process's own
// MCP endpoint and tags each tool with its inferred owner.
func (o *Orchestrator) discoverSelf(ctx context.Context) ([]Tool, error) {
	// The endpoint is stateful: initialize issues a session ID that every
	// subsequent request must carry.
	var session string
	if err := o.selfRequest(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]string{"name": "d3k-orchestrator", "version": "1.0"},
	}, nil, &session); err != nil {
		return nil, fmt.Errorf("self initialize: %w", err)
	}
	if err := o.selfNotify(ctx, "notifications/initialized", &session); err != nil {
		return nil, fmt.Errorf("self initialized notification: %w", err)
	}

	var listed struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
			Annotations struct {
				Connection string `json:"connection"`
			} `json:"annotations"`
		} `json:"tools"`
	}
	if err := o.selfRequest(ctx, "tools/list", map[string]interface{}{}, &listed, &session); err != nil {
		return nil, fmt.Errorf("self tools/list: %w", err)
	}

	tools := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		owner := t.Annotations.Connection
		if owner == "" {
			owner = ownerFromName(t.Name)
		}
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Connection:  owner,
		})
	}
	return tools, nil
}

// ownerFromName infers the owning connection from a proxied tool name of
// the form {connection}_{tool}. Names without an underscore are the
// process's own tools.
func ownerFromName(name string) string {
	if idx := strings.Index(name, "_"); idx > 0 {
		return name[:idx]
	}
	return "d3k"
}

// selfRequest posts one JSON-RPC call to the local MCP endpoint, carrying
// the session ID and capturing any the server issues. The endpoint answers
// with SSE; only the first data frame carries the result.
func (o *Orchestrator) selfRequest(ctx context.Context, method string, params interface{}, out interface{}, session *string) error {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      time.Now().UnixNano(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}

	resp, err := o.selfPost(ctx, body, session)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	payload, err := readBounded(resp.Body, sseTailBytes)
	if err != nil {
		return err
	}
	if isEventStream(resp.Header.Get("Content-Type")) {
		payload = firstSSEData(payload)
		if payload == nil {
			return fmt.Errorf("no data frame in event stream")
		}
	}

	var rpc struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &rpc); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpc.Error != nil {
		return fmt.Errorf("RPC error %d: %s", rpc.Error.Code, rpc.Error.Message)
	}
	if out != nil {
		return json.Unmarshal(rpc.Result, out)
	}
	return nil
}

// selfNotify posts a JSON-RPC notification; no result comes back.
func (o *Orchestrator) selfNotify(ctx context.Context, method string, session *string) error {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
	})
	if err != nil {
		return err
	}

	resp, err := o.selfPost(ctx, body, session)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (o *Orchestrator) selfPost(ctx context.Context, body []byte, session *string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", o.selfURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if *session != "" {
		req.Header.Set(sessionHeader, *session)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if sid := resp.Header.Get(sessionHeader); sid != "" {
		*session = sid
	}
	return resp, nil
}

// readBounded drains r keeping only the final max bytes.
func readBounded(r io.Reader, max int) ([]byte, error) {
	buf := make([]byte, 0, max)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > max {
				buf = buf[len(buf)-max:]
			}
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return buf, err
		}
	}
}

// isEventStream reports whether a Content-Type header is SSE.
func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/event-stream"
}

// firstSSEData extracts the first data: frame payload from an SSE body.
func firstSSEData(body []byte) []byte {
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			return bytes.TrimSpace(rest)
		}
	}
	return nil
}
