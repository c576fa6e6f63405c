package mcp

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCoreEndpoint(t *testing.T) (*httptest.Server, *Manager) {
	t.Helper()
	manager := NewManager(nil, zap.NewNop(), nil)
	t.Cleanup(manager.Shutdown)

	backends := Backends{
		ReadLogs: func(ctx context.Context, lines int, filter string) ([]string, error) {
			return []string{"[2025-01-15T10:00:00.000Z] [SERVER] [LOG] ready"}, nil
		},
		GetErrors: func(ctx context.Context, windowMinutes int) (interface{}, error) {
			return map[string]int{"total": 0}, nil
		},
		ExecuteReplay: func(ctx context.Context, startTime, endTime string, speed float64) (interface{}, error) {
			return map[string]int{"executed": 0}, nil
		},
		DetectJank: func(ctx context.Context, session string) (interface{}, error) {
			return map[string]string{"grade": "good"}, nil
		},
		ListSessions: func(ctx context.Context) (interface{}, error) {
			return []map[string]string{{"projectName": "my-app"}}, nil
		},
	}

	srv := NewServer(backends, manager, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, manager
}

// The real endpoint is stateful: initialize issues a session ID and every
// request after the handshake must present it. This runs the full client
// round trip against the handler the API router mounts.
func TestHTTPClientRoundTripAgainstOwnEndpoint(t *testing.T) {
	ts, _ := newCoreEndpoint(t)
	ctx := context.Background()

	client := NewHTTPClient(ts.URL)
	require.NoError(t, client.Initialize(ctx))

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"read_consolidated_logs", "get_errors", "execute_replay",
		"detect_jank", "list_sessions",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}

	raw, err := client.CallTool(ctx, "list_sessions", map[string]interface{}{})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "my-app")
}

func TestDiscoverSelfAgainstOwnEndpoint(t *testing.T) {
	ts, manager := newCoreEndpoint(t)
	orch := NewOrchestrator(manager, ts.URL, zap.NewNop())

	tools, err := orch.discoverSelf(context.Background())
	require.NoError(t, err)

	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"read_consolidated_logs", "get_errors", "execute_replay",
		"detect_jank", "list_sessions",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}
