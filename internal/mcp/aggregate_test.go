package mcp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleStatusHeadersAndShape(t *testing.T) {
	m := NewManager(nil, zap.NewNop(), nil)
	defer m.Shutdown()
	orch := NewOrchestrator(m, "", zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/orchestrator", nil)
	rec := httptest.NewRecorder()
	orch.HandleStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), `"ready":false`)
}

func TestHandleStatusWaitReturnsEarlyWhenConnected(t *testing.T) {
	clients := map[string]*fakeClient{
		"chrome": {tools: []Tool{{Name: "click"}}},
	}
	m := newTestManager(t, clients)
	defer m.Shutdown()
	m.Initialize(t.Context())

	orch := NewOrchestrator(m, "", zap.NewNop())

	start := time.Now()
	req := httptest.NewRequest(http.MethodGet, "/api/orchestrator?waitMs=5000", nil)
	rec := httptest.NewRecorder()
	orch.HandleStatus(rec, req)

	// Already connected: the wait must not burn the full 5 seconds.
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, rec.Body.String(), `"ready":true`)
	assert.Contains(t, rec.Body.String(), `"click"`)
}

func TestParseWaitMs(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"250", 250 * time.Millisecond},
		{"-5", 0},
		{"junk", 0},
		{"999999", maxStatusWait},
	}
	for _, tt := range tests {
		if got := parseWaitMs(tt.raw); got != tt.want {
			t.Errorf("parseWaitMs(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestOwnerFromName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"chrome_navigate_page", "chrome"},
		{"nextjs_get_route_info", "nextjs"},
		{"get_errors", "get"},
		{"detectjank", "d3k"},
		{"_leading", "d3k"},
	}
	for _, tt := range tests {
		if got := ownerFromName(tt.name); got != tt.want {
			t.Errorf("ownerFromName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestFirstSSEData(t *testing.T) {
	body := "event: message\r\ndata: {\"jsonrpc\":\"2.0\",\"result\":{}}\r\n\r\n"
	got := firstSSEData([]byte(body))
	require.NotNil(t, got)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{}}`, string(got))

	assert.Nil(t, firstSSEData([]byte("event: ping\n\n")))
	assert.Nil(t, firstSSEData(nil))
}

func TestReadBoundedKeepsTail(t *testing.T) {
	payload := strings.Repeat("x", 10000) + "TAIL"
	got, err := readBounded(strings.NewReader(payload), sseTailBytes)
	require.NoError(t, err)
	assert.Len(t, got, sseTailBytes)
	assert.True(t, strings.HasSuffix(string(got), "TAIL"))
}

func TestIsEventStream(t *testing.T) {
	assert.True(t, isEventStream("text/event-stream"))
	assert.True(t, isEventStream("text/event-stream; charset=utf-8"))
	assert.False(t, isEventStream("application/json"))
	assert.False(t, isEventStream(""))
}

func TestDiscoverSelfParsesSSE(t *testing.T) {
	// A minimal MCP endpoint that answers every POST with one SSE frame.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		if strings.Contains(readRequestBody(r), "tools/list") {
			w.Write([]byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[" +
				"{\"name\":\"chrome_click\",\"description\":\"proxied\"}," +
				"{\"name\":\"get_errors\",\"description\":\"core\",\"annotations\":{\"connection\":\"d3k\"}}" +
				"]}}\n\n"))
			return
		}
		w.Write([]byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n"))
	}))
	defer srv.Close()

	m := NewManager(nil, zap.NewNop(), nil)
	defer m.Shutdown()
	orch := NewOrchestrator(m, srv.URL, zap.NewNop())

	tools, err := orch.discoverSelf(t.Context())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	// Prefix inference for the proxied tool, annotation for the core one.
	assert.Equal(t, "chrome", tools[0].Connection)
	assert.Equal(t, "d3k", tools[1].Connection)
}

func readRequestBody(r *http.Request) string {
	buf := make([]byte, 4096)
	n, _ := r.Body.Read(buf)
	return string(buf[:n])
}
