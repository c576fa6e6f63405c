package logs

import (
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantOK      bool
		wantSource  Source
		wantType    string
		wantPayload string
	}{
		{
			name:        "browser console error",
			raw:         "[2025-01-15T10:30:00.000Z] [BROWSER] [CONSOLE ERROR] Uncaught TypeError: x is undefined",
			wantOK:      true,
			wantSource:  SourceBrowser,
			wantType:    "CONSOLE ERROR",
			wantPayload: "Uncaught TypeError: x is undefined",
		},
		{
			name:        "server line with explicit type",
			raw:         "[2025-01-15T10:30:01.000Z] [SERVER] [ERROR] listen EADDRINUSE",
			wantOK:      true,
			wantSource:  SourceServer,
			wantType:    "ERROR",
			wantPayload: "listen EADDRINUSE",
		},
		{
			name:        "server HTTP line infers method type",
			raw:         "[2025-01-15T10:30:02.000Z] [SERVER] GET /api/users 200 in 12ms",
			wantOK:      true,
			wantSource:  SourceServer,
			wantType:    "GET",
			wantPayload: "GET /api/users 200 in 12ms",
		},
		{
			name:        "interaction line",
			raw:         `[2025-01-15T10:30:03.000Z] [BROWSER] [INTERACTION] {"type":"CLICK","coordinates":{"x":10,"y":20}}`,
			wantOK:      true,
			wantSource:  SourceBrowser,
			wantType:    "INTERACTION",
			wantPayload: `{"type":"CLICK","coordinates":{"x":10,"y":20}}`,
		},
		{
			name:   "no leading timestamp",
			raw:    "plain stdout with no brackets",
			wantOK: false,
		},
		{
			name:   "bracketed but not a timestamp",
			raw:    "[INFO] something happened",
			wantOK: false,
		},
		{
			name:   "local HH:MM:SS timestamp is not ISO",
			raw:    "[10:30:00.123] legacy line",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := ParseLine(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ParseLine() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if line.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", line.Source, tt.wantSource)
			}
			if line.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", line.Type, tt.wantType)
			}
			if line.Payload != tt.wantPayload {
				t.Errorf("Payload = %q, want %q", line.Payload, tt.wantPayload)
			}
			if line.Raw != tt.raw {
				t.Errorf("Raw not preserved: %q", line.Raw)
			}
		})
	}
}

func TestParseLogContentDualFormats(t *testing.T) {
	content := `[2025-01-15T10:00:00.000Z] [BROWSER] [INTERACTION] {"type":"CLICK","coordinates":{"x":100,"y":200},"target":"#submit"}
[2025-01-15T10:00:01.000Z] [BROWSER] [INTERACTION] CLICK at (100, 200) on #submit
[2025-01-15T10:00:02.000Z] [BROWSER] [INTERACTION] SCROLL down 300px to (0, 500)
[2025-01-15T10:00:03.000Z] [BROWSER] [INTERACTION] KEY Enter on input[name=q]
garbage line without timestamp
[2025-01-15T10:00:04.000Z] [BROWSER] [NAVIGATION] http://localhost:3000/checkout
[2025-01-15T10:00:05.000Z] [BROWSER] [SCREENSHOT] http://localhost:3684/shots/myapp-3-1500-navigation.png`

	data := ParseLogContent(content, nil, nil)

	if got := len(data.Interactions); got != 4 {
		t.Fatalf("got %d interactions, want 4", got)
	}

	// The structured and legacy click lines must decode identically.
	first, ok := data.Interactions[0].Detail.(ClickDetail)
	if !ok {
		t.Fatalf("first interaction is %T, want ClickDetail", data.Interactions[0].Detail)
	}
	second, ok := data.Interactions[1].Detail.(ClickDetail)
	if !ok {
		t.Fatalf("second interaction is %T, want ClickDetail", data.Interactions[1].Detail)
	}
	if first.Coordinates != second.Coordinates || first.Target != second.Target {
		t.Errorf("structured %+v and legacy %+v clicks differ", first, second)
	}

	scroll, ok := data.Interactions[2].Detail.(ScrollDetail)
	if !ok {
		t.Fatalf("third interaction is %T, want ScrollDetail", data.Interactions[2].Detail)
	}
	if scroll.Direction != "down" || scroll.Distance != 300 {
		t.Errorf("scroll = %+v", scroll)
	}
	if scroll.Destination == nil || scroll.Destination.Y != 500 {
		t.Errorf("scroll destination = %+v", scroll.Destination)
	}

	key, ok := data.Interactions[3].Detail.(KeyDetail)
	if !ok {
		t.Fatalf("fourth interaction is %T, want KeyDetail", data.Interactions[3].Detail)
	}
	if key.Key != "Enter" || key.Target != "input[name=q]" {
		t.Errorf("key = %+v", key)
	}

	if len(data.Navigations) != 1 || data.Navigations[0].URL != "http://localhost:3000/checkout" {
		t.Errorf("navigations = %+v", data.Navigations)
	}

	if len(data.Screenshots) != 1 {
		t.Fatalf("screenshots = %+v", data.Screenshots)
	}
	if data.Screenshots[0].Event != "navigation" {
		t.Errorf("screenshot event = %q, want %q", data.Screenshots[0].Event, "navigation")
	}

	if data.DurationMs != 5000 {
		t.Errorf("DurationMs = %d, want 5000", data.DurationMs)
	}
}

func TestParseLogContentTimeFilter(t *testing.T) {
	content := `[2025-01-15T10:00:00.000Z] [BROWSER] [NAVIGATION] http://localhost:3000/a
[2025-01-15T10:00:05.000Z] [BROWSER] [NAVIGATION] http://localhost:3000/b
[2025-01-15T10:00:10.000Z] [BROWSER] [NAVIGATION] http://localhost:3000/c`

	start := time.Date(2025, 1, 15, 10, 0, 5, 0, time.UTC)
	end := time.Date(2025, 1, 15, 10, 0, 10, 0, time.UTC)

	data := ParseLogContent(content, &start, &end)

	// Bounds are inclusive on both ends.
	if got := len(data.Navigations); got != 2 {
		t.Fatalf("got %d navigations, want 2", got)
	}
	if data.Navigations[0].URL != "http://localhost:3000/b" {
		t.Errorf("first surviving navigation = %q", data.Navigations[0].URL)
	}

	// Window metadata tracks the surviving lines, not the file.
	if data.StartTime == nil || !data.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", data.StartTime, start)
	}
	if data.EndTime == nil || !data.EndTime.Equal(end) {
		t.Errorf("EndTime = %v, want %v", data.EndTime, end)
	}
	if data.DurationMs != 5000 {
		t.Errorf("DurationMs = %d, want 5000", data.DurationMs)
	}
}

func TestParseLogContentIdempotent(t *testing.T) {
	content := `[2025-01-15T10:00:00.000Z] [BROWSER] [INTERACTION] {"type":"TAP","coordinates":{"x":5,"y":6}}
[2025-01-15T10:00:01.000Z] [BROWSER] [NAVIGATION] http://localhost:3000/`

	first := ParseLogContent(content, nil, nil)
	second := ParseLogContent(content, nil, nil)

	if first.TotalEvents() != second.TotalEvents() {
		t.Fatalf("parse is not deterministic: %d vs %d events", first.TotalEvents(), second.TotalEvents())
	}
	if len(first.Interactions) != 1 || first.Interactions[0].Kind() != InteractionTap {
		t.Errorf("interactions = %+v", first.Interactions)
	}
}

func TestRecoverTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"plain selector", "#submit", "#submit"},
		{"json selector key", `{"selector":"#buy-now","tagName":"BUTTON"}`, "#buy-now"},
		{"json text fallback", `{"text":"Add to cart"}`, "Add to cart"},
		{"malformed json kept literal", `{"selector":`, `{"selector":`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := recoverTarget(tt.target); got != tt.want {
				t.Errorf("recoverTarget(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

func TestScreenshotEventLabel(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://localhost:3684/shots/myapp-12-4500-navigation.png", "navigation"},
		{"myapp-0-100-page-load.png", "page-load"},
		{"myapp-0-100.png", ""},
		{"short.png", ""},
	}

	for _, tt := range tests {
		if got := screenshotEventLabel(tt.url); got != tt.want {
			t.Errorf("screenshotEventLabel(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
