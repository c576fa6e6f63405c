package logs

import (
	"testing"
)

func mustLine(t *testing.T, raw string) Line {
	t.Helper()
	line, ok := ParseLine(raw)
	if !ok {
		t.Fatalf("line did not parse: %q", raw)
	}
	return line
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Category
		wantHit bool
	}{
		{
			name:    "build error outranks everything",
			raw:     "[2025-01-15T10:00:00.000Z] [SERVER] [ERROR] Failed to compile. Module not found: ./missing",
			want:    CategoryBuild,
			wantHit: true,
		},
		{
			name:    "server error default bucket",
			raw:     "[2025-01-15T10:00:00.000Z] [SERVER] [ERROR] Error: listen EADDRINUSE :::3000",
			want:    CategoryServer,
			wantHit: true,
		},
		{
			name:    "console error goes to browser",
			raw:     "[2025-01-15T10:00:00.000Z] [BROWSER] [CONSOLE ERROR] Uncaught TypeError: cannot read properties of undefined",
			want:    CategoryBrowser,
			wantHit: true,
		},
		{
			name:    "network 404",
			raw:     "[2025-01-15T10:00:00.000Z] [BROWSER] [NETWORK] GET http://localhost:3000/api/missing 404",
			want:    CategoryNetwork,
			wantHit: true,
		},
		{
			name:    "network 500 on server line still network",
			raw:     "[2025-01-15T10:00:00.000Z] [SERVER] [ERROR] fetch failed: ECONNREFUSED 127.0.0.1:4000",
			want:    CategoryNetwork,
			wantHit: true,
		},
		{
			name:    "network success is never an error",
			raw:     "[2025-01-15T10:00:00.000Z] [BROWSER] [NETWORK] GET http://localhost:3000/api/users 200",
			wantHit: false,
		},
		{
			name:    "network 304 with error-looking token still success",
			raw:     "[2025-01-15T10:00:00.000Z] [BROWSER] [NETWORK] GET /favicon.ico 304 cache error-checked",
			wantHit: false,
		},
		{
			name:    "warning only without hard token",
			raw:     "[2025-01-15T10:00:00.000Z] [SERVER] Warning: useLayoutEffect is deprecated here",
			want:    CategoryWarning,
			wantHit: true,
		},
		{
			name:    "warning word plus hard token is an error",
			raw:     "[2025-01-15T10:00:00.000Z] [SERVER] Warning escalated: request failed after 3 retries",
			want:    CategoryServer,
			wantHit: true,
		},
		{
			name:    "preload noise excluded despite error vocabulary",
			raw:     "[2025-01-15T10:00:00.000Z] [BROWSER] [CONSOLE ERROR] The resource font.woff2 was preloaded using link preload but not used",
			wantHit: false,
		},
		{
			name:    "devtools advertisement excluded",
			raw:     "[2025-01-15T10:00:00.000Z] [BROWSER] Download the React DevTools for a better experience",
			wantHit: false,
		},
		{
			name:    "clean line uncategorized",
			raw:     "[2025-01-15T10:00:00.000Z] [SERVER] Ready in 1.2s",
			wantHit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, hit := Categorize(mustLine(t, tt.raw))
			if hit != tt.wantHit {
				t.Fatalf("Categorize() hit = %v, want %v (category %q)", hit, tt.wantHit, category)
			}
			if hit && category != tt.want {
				t.Errorf("Categorize() = %q, want %q", category, tt.want)
			}
		})
	}
}

// Timing tokens like "200ms" must not be mistaken for 2xx statuses.
func TestNetworkSuccessRequiresStandaloneStatus(t *testing.T) {
	line := mustLine(t, "[2025-01-15T10:00:00.000Z] [BROWSER] [NETWORK] GET /api/slow timed out after 200ms")
	category, hit := Categorize(line)
	if !hit || category != CategoryNetwork {
		t.Errorf("Categorize() = %q/%v, want network error", category, hit)
	}
}

func TestCategorizeLinesExclusivity(t *testing.T) {
	raws := []string{
		"[2025-01-15T10:00:00.000Z] [SERVER] [ERROR] Failed to compile. SyntaxError in page.tsx",
		"[2025-01-15T10:00:01.000Z] [SERVER] [ERROR] Error: boom",
		"[2025-01-15T10:00:02.000Z] [BROWSER] [CONSOLE ERROR] Uncaught ReferenceError: x is not defined",
		"[2025-01-15T10:00:03.000Z] [BROWSER] [NETWORK] GET /api 500",
		"[2025-01-15T10:00:04.000Z] [SERVER] Warning: something deprecated",
	}

	var lines []Line
	for _, raw := range raws {
		lines = append(lines, mustLine(t, raw))
	}

	result := CategorizeLines(lines)
	if result.Count() != len(raws) {
		t.Fatalf("Count() = %d, want %d", result.Count(), len(raws))
	}
	for name, got := range map[string]int{
		"build":   len(result.BuildErrors),
		"server":  len(result.ServerErrors),
		"browser": len(result.BrowserErrors),
		"network": len(result.NetworkErrors),
		"warning": len(result.Warnings),
	} {
		if got != 1 {
			t.Errorf("bucket %s has %d entries, want 1", name, got)
		}
	}
}
