package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vercel-labs/dev3000-sub004/pkg/events"
)

// reconnectDelay is the fixed backoff between reconnect attempts. Retries
// continue until Disconnect; a downstream dev server can stay down for a
// long time and come back.
const reconnectDelay = 3 * time.Second

// ConnState tracks a downstream connection through its lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnectScheduled
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectScheduled:
		return "reconnect-scheduled"
	default:
		return "unknown"
	}
}

// DownstreamConfig describes one downstream MCP server.
type DownstreamConfig struct {
	Name      string   `toml:"name"`
	Transport string   `toml:"transport"` // "http" or "stdio"
	URL       string   `toml:"url"`
	Command   string   `toml:"command"`
	Args      []string `toml:"args"`
	Env       []string `toml:"env"`
}

// connection is the manager's per-downstream record.
type connection struct {
	config  DownstreamConfig
	state   ConnState
	changed time.Time
	client  Client
	tools   []Tool
}

func (c *connection) setState(s ConnState) {
	c.state = s
	c.changed = time.Now()
}

// ConnectionStatus is a read-only snapshot for the orchestrator surface.
type ConnectionStatus struct {
	Name      string    `json:"name"`
	Transport string    `json:"transport"`
	State     string    `json:"state"`
	Since     time.Time `json:"since"`
	ToolCount int       `json:"toolCount"`
}

// Manager owns the downstream MCP connections. Callers hold their own
// instance; there is no package-level default.
type Manager struct {
	logger *zap.Logger
	bus    *events.Bus

	mu          sync.Mutex
	connections map[string]*connection
	timers      map[string]*time.Timer
	closed      bool

	// newClient and reconnectDelay are swappable for tests.
	newClient      func(cfg DownstreamConfig) (Client, error)
	reconnectDelay time.Duration
}

// NewManager creates a manager for the given downstream servers. Nothing
// connects until Initialize.
func NewManager(configs []DownstreamConfig, logger *zap.Logger, bus *events.Bus) *Manager {
	m := &Manager{
		logger:         logger,
		bus:            bus,
		connections:    make(map[string]*connection),
		timers:         make(map[string]*time.Timer),
		newClient:      defaultClientFactory,
		reconnectDelay: reconnectDelay,
	}
	for _, cfg := range configs {
		m.connections[cfg.Name] = &connection{config: cfg, state: StateDisconnected, changed: time.Now()}
	}
	return m
}

func defaultClientFactory(cfg DownstreamConfig) (Client, error) {
	switch cfg.Transport {
	case "stdio":
		return NewStdioClient(cfg.Command, cfg.Env, cfg.Args...)
	case "http", "":
		return NewHTTPClient(cfg.URL), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Initialize connects all configured downstreams concurrently. A failed
// connection schedules its own reconnects and never blocks the others;
// Initialize itself does not fail.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			m.connect(ctx, name)
		}(name)
	}
	wg.Wait()
}

// connect attempts one connection cycle and schedules a retry on failure.
func (m *Manager) connect(ctx context.Context, name string) {
	m.mu.Lock()
	conn, ok := m.connections[name]
	if !ok || m.closed || conn.state == StateConnected || conn.state == StateConnecting {
		m.mu.Unlock()
		return
	}
	conn.setState(StateConnecting)
	cfg := conn.config
	m.mu.Unlock()

	client, err := m.newClient(cfg)
	if err == nil {
		err = client.Initialize(ctx)
		if err != nil {
			client.Close()
		}
	}
	if err != nil {
		m.logger.Warn("downstream connection failed",
			zap.String("connection", name),
			zap.Error(err))
		m.scheduleReconnect(ctx, name)
		return
	}

	// Tool discovery failure is non-fatal: the connection stays usable for
	// direct calls, with an empty catalog.
	tools, err := client.ListTools(ctx)
	if err != nil {
		m.logger.Warn("tool discovery failed",
			zap.String("connection", name),
			zap.Error(err))
		tools = nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close()
		return
	}
	conn.client = client
	conn.tools = tools
	conn.setState(StateConnected)
	m.mu.Unlock()

	m.logger.Info("downstream connected",
		zap.String("connection", name),
		zap.Int("tools", len(tools)))
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.MCPConnected,
			Data: map[string]interface{}{"connection": name},
		})
	}
}

// scheduleReconnect arms a fixed-delay retry timer for name. The timer is
// recorded so Disconnect can cancel it.
func (m *Manager) scheduleReconnect(ctx context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.connections[name]
	if !ok || m.closed {
		return
	}
	conn.setState(StateReconnectScheduled)

	if prev, ok := m.timers[name]; ok {
		prev.Stop()
	}
	m.timers[name] = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		delete(m.timers, name)
		if conn, ok := m.connections[name]; !ok || conn.state != StateReconnectScheduled {
			m.mu.Unlock()
			return
		}
		m.connections[name].setState(StateDisconnected)
		m.mu.Unlock()
		m.connect(ctx, name)
	})
}

// CallTool routes a tool call to a connected downstream.
func (m *Manager) CallTool(ctx context.Context, connName, tool string, args map[string]interface{}) ([]byte, error) {
	m.mu.Lock()
	conn, ok := m.connections[connName]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown connection %q", connName)
	}
	if conn.state != StateConnected || conn.client == nil {
		state := conn.state
		m.mu.Unlock()
		return nil, fmt.Errorf("connection %q is not connected (state: %s)", connName, state)
	}
	client := conn.client
	m.mu.Unlock()

	raw, err := client.CallTool(ctx, tool, args)
	if err != nil {
		// A tool-level RPC error leaves the connection alone; a transport
		// failure means the session is gone and needs a fresh handshake.
		if errors.Is(err, ErrTransport) {
			m.dropConnection(connName, client)
		}
		return nil, fmt.Errorf("call %s on %s: %w", tool, connName, err)
	}
	return raw, nil
}

// dropConnection tears down a connection after a transport failure and
// schedules a reconnect, unless the connection changed hands meanwhile.
// Reconnects run on a background context; the caller's request context dies
// with the request.
func (m *Manager) dropConnection(name string, failed Client) {
	m.mu.Lock()
	conn, ok := m.connections[name]
	if !ok || m.closed || conn.client != failed {
		m.mu.Unlock()
		return
	}
	conn.client = nil
	conn.tools = nil
	conn.setState(StateDisconnected)
	m.mu.Unlock()

	failed.Close()
	m.logger.Warn("downstream transport failed", zap.String("connection", name))
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.MCPDisconnected,
			Data: map[string]interface{}{"connection": name},
		})
	}
	m.scheduleReconnect(context.Background(), name)
}

// AllTools flattens every connected downstream's catalog, tagging each tool
// with its owning connection.
func (m *Manager) AllTools() []Tool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []Tool
	for name, conn := range m.connections {
		if conn.state != StateConnected {
			continue
		}
		for _, t := range conn.tools {
			t.Connection = name
			all = append(all, t)
		}
	}
	return all
}

// Status snapshots every connection for the orchestrator endpoint.
func (m *Manager) Status() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConnectionStatus, 0, len(m.connections))
	for name, conn := range m.connections {
		out = append(out, ConnectionStatus{
			Name:      name,
			Transport: conn.config.Transport,
			State:     conn.state.String(),
			Since:     conn.changed,
			ToolCount: len(conn.tools),
		})
	}
	return out
}

// Connected reports whether any downstream is currently connected.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.connections {
		if conn.state == StateConnected {
			return true
		}
	}
	return false
}

// Disconnect tears down one connection and cancels its pending reconnect.
func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	conn, ok := m.connections[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	if timer, ok := m.timers[name]; ok {
		timer.Stop()
		delete(m.timers, name)
	}
	client := conn.client
	conn.client = nil
	conn.tools = nil
	wasConnected := conn.state == StateConnected
	conn.setState(StateDisconnected)
	m.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if wasConnected && m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.MCPDisconnected,
			Data: map[string]interface{}{"connection": name},
		})
	}
}

// Shutdown disconnects everything and stops future reconnects.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Disconnect(name)
	}
}
