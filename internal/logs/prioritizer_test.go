package logs

import (
	"fmt"
	"testing"
	"time"
)

func TestPrioritizeReport(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 10, 0, 0, time.UTC)

	rawLines := []string{
		// Outside the 10 minute window, must be ignored.
		"[2025-01-15T09:55:00.000Z] [SERVER] [ERROR] Error: ancient failure",
		// Context lines preceding the build error.
		"[2025-01-15T10:05:00.000Z] [BROWSER] [NAVIGATION] http://localhost:3000/",
		"[2025-01-15T10:05:01.000Z] [BROWSER] [INTERACTION] CLICK at (10, 20) on #save",
		"[2025-01-15T10:05:02.000Z] [SERVER] [ERROR] Failed to compile. Module not found: ./widget",
		"[2025-01-15T10:05:03.000Z] [BROWSER] [CONSOLE ERROR] Uncaught TypeError: cannot read properties of undefined",
		"[2025-01-15T10:05:04.000Z] [BROWSER] [NETWORK] GET /api/things 404",
		"[2025-01-15T10:05:05.000Z] [SERVER] Warning: deprecated API in use",
		// Success network line stays out of the report.
		"[2025-01-15T10:05:06.000Z] [BROWSER] [NETWORK] GET /api/ok 200",
	}

	report := Prioritize(rawLines, 10*time.Minute, now)

	if report.WindowMinutes != 10 {
		t.Errorf("WindowMinutes = %d", report.WindowMinutes)
	}
	if report.Total != 4 {
		t.Fatalf("Total = %d, want 4", report.Total)
	}
	if report.Critical != 1 {
		t.Errorf("Critical = %d, want 1 (the build error)", report.Critical)
	}
	if report.WarningCount != 1 {
		t.Errorf("WarningCount = %d, want 1", report.WarningCount)
	}

	if len(report.BuildErrors) != 1 {
		t.Fatalf("BuildErrors = %+v", report.BuildErrors)
	}
	build := report.BuildErrors[0]
	if build.Severity != "critical" {
		t.Errorf("build severity = %q", build.Severity)
	}

	// Context walks backward, nearest line first.
	if len(build.Context) != 2 {
		t.Fatalf("build context = %+v", build.Context)
	}
	if build.Context[0] != rawLines[2] || build.Context[1] != rawLines[1] {
		t.Errorf("context order wrong: %+v", build.Context)
	}

	if len(report.BrowserErrors) != 1 || len(report.NetworkErrors) != 1 || len(report.Warnings) != 1 {
		t.Errorf("buckets: browser=%d network=%d warnings=%d",
			len(report.BrowserErrors), len(report.NetworkErrors), len(report.Warnings))
	}
	if len(report.ServerErrors) != 0 {
		t.Errorf("ServerErrors = %+v, the only server error is outside the window", report.ServerErrors)
	}
}

func TestPrioritizeKeepsNewestPerBucket(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 10, 0, 0, time.UTC)

	var rawLines []string
	for i := 0; i < 8; i++ {
		rawLines = append(rawLines, fmt.Sprintf(
			"[2025-01-15T10:05:%02d.000Z] [SERVER] [ERROR] Error: failure number %d", i, i))
	}

	report := Prioritize(rawLines, 10*time.Minute, now)

	if report.Counts[CategoryServer] != 8 {
		t.Fatalf("server count = %d, want 8", report.Counts[CategoryServer])
	}
	if len(report.ServerErrors) != maxErrorsPerBucket {
		t.Fatalf("kept %d server errors, want %d", len(report.ServerErrors), maxErrorsPerBucket)
	}
	// The cap drops the oldest entries; the last kept entry is the newest.
	last := report.ServerErrors[len(report.ServerErrors)-1]
	if last.Line.Raw != rawLines[7] {
		t.Errorf("newest kept = %q", last.Line.Raw)
	}
	first := report.ServerErrors[0]
	if first.Line.Raw != rawLines[3] {
		t.Errorf("oldest kept = %q, want %q", first.Line.Raw, rawLines[3])
	}
}

func TestLineTimestampLocalWraparound(t *testing.T) {
	// Log written before midnight, report generated just after: the local
	// timestamp would land in the future and must roll back a day.
	now := time.Date(2025, 1, 16, 0, 5, 0, 0, time.UTC)

	ts, ok := lineTimestamp("[23:58:30.500] [SERVER] late night line", now)
	if !ok {
		t.Fatal("local timestamp did not parse")
	}

	want := time.Date(2025, 1, 15, 23, 58, 30, 500*int(time.Millisecond), time.UTC)
	if !ts.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ts, want)
	}
}

func TestLineTimestampLocalSameDay(t *testing.T) {
	now := time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)

	ts, ok := lineTimestamp("[13:30:00] [SERVER] afternoon line", now)
	if !ok {
		t.Fatal("local timestamp did not parse")
	}
	want := time.Date(2025, 1, 15, 13, 30, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ts, want)
	}
}

func TestPrioritizeEmptyInput(t *testing.T) {
	report := Prioritize(nil, 10*time.Minute, time.Now())
	if report.Total != 0 || report.Critical != 0 {
		t.Errorf("empty input produced report %+v", report)
	}
	// Buckets must be present (not nil) so the JSON shape stays stable.
	if report.BuildErrors == nil || report.Warnings == nil {
		t.Error("buckets must be non-nil empty slices")
	}
}
