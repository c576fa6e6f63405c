package logs

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The prioritization engine ranks recent errors for an agent under time
// pressure: build > server > browser > network > warning, newest first, each
// with the interactions that preceded it so the consumer can see what the
// user did right before things broke.

const (
	contextLookback    = 20 // lines scanned backward for causal context
	contextMaxMatches  = 5
	maxErrorsPerBucket = 5
	maxWarnings        = 3
)

var localTimestamp = regexp.MustCompile(`^\[(\d{1,2}):(\d{2}):(\d{2})(?:\.(\d{1,3}))?\]`)

var contextPattern = regexp.MustCompile(`\[(?:INTERACTION|NAVIGATION|PAGE)\]`)

// ReportedError is one ranked error with its preceding-interaction context,
// nearest line first.
type ReportedError struct {
	Line     Line     `json:"line"`
	Category Category `json:"category"`
	Severity string   `json:"severity"`
	Context  []string `json:"context,omitempty"`
}

// Report is the machine-parsable diagnostic output. A zero-error report is a
// valid terminal state, not a failure.
type Report struct {
	WindowMinutes int              `json:"windowMinutes"`
	Total         int              `json:"total"`
	Critical      int              `json:"critical"`
	WarningCount  int              `json:"warnings"`
	Counts        map[Category]int `json:"counts"`
	BuildErrors   []ReportedError  `json:"buildErrors"`
	ServerErrors  []ReportedError  `json:"serverErrors"`
	BrowserErrors []ReportedError  `json:"browserErrors"`
	NetworkErrors []ReportedError  `json:"networkErrors"`
	Warnings      []ReportedError  `json:"warningEntries"`
}

// Prioritize scans raw log lines, keeps those inside the look-back window
// ending at now, and produces the ranked error report.
func Prioritize(rawLines []string, window time.Duration, now time.Time) *Report {
	report := &Report{
		WindowMinutes: int(window.Minutes()),
		Counts:        make(map[Category]int),
		BuildErrors:   []ReportedError{},
		ServerErrors:  []ReportedError{},
		BrowserErrors: []ReportedError{},
		NetworkErrors: []ReportedError{},
		Warnings:      []ReportedError{},
	}

	cutoff := now.Add(-window)

	for i, raw := range rawLines {
		ts, ok := lineTimestamp(raw, now)
		if !ok || ts.Before(cutoff) || ts.After(now.Add(time.Minute)) {
			continue
		}

		line, parsed := ParseLine(raw)
		if !parsed {
			line = Line{Raw: raw, Timestamp: ts, Payload: raw}
		}

		category, matched := Categorize(line)
		if !matched {
			continue
		}

		report.Counts[category]++
		report.Total++

		entry := ReportedError{
			Line:     line,
			Category: category,
			Severity: severityFor(category),
			Context:  precedingContext(rawLines, i),
		}

		switch category {
		case CategoryBuild:
			report.BuildErrors = appendCapped(report.BuildErrors, entry, maxErrorsPerBucket)
			report.Critical++
		case CategoryServer:
			report.ServerErrors = appendCapped(report.ServerErrors, entry, maxErrorsPerBucket)
			report.Critical++
		case CategoryBrowser:
			report.BrowserErrors = appendCapped(report.BrowserErrors, entry, maxErrorsPerBucket)
		case CategoryNetwork:
			report.NetworkErrors = appendCapped(report.NetworkErrors, entry, maxErrorsPerBucket)
		case CategoryWarning:
			report.Warnings = appendCapped(report.Warnings, entry, maxWarnings)
			report.WarningCount++
		}
	}

	return report
}

// appendCapped keeps the most recent max entries. Lines arrive in file
// order, so dropping from the front keeps the newest.
func appendCapped(entries []ReportedError, entry ReportedError, max int) []ReportedError {
	entries = append(entries, entry)
	if len(entries) > max {
		entries = entries[1:]
	}
	return entries
}

// precedingContext walks backward from an error looking for the interaction,
// navigation and page lines that led up to it. Nearest first.
func precedingContext(rawLines []string, errorIdx int) []string {
	var context []string

	for j := errorIdx - 1; j >= 0 && errorIdx-j <= contextLookback; j-- {
		if contextPattern.MatchString(rawLines[j]) {
			context = append(context, rawLines[j])
			if len(context) >= contextMaxMatches {
				break
			}
		}
	}

	return context
}

func severityFor(category Category) string {
	switch category {
	case CategoryBuild, CategoryServer:
		return "critical"
	case CategoryWarning:
		return "warning"
	default:
		return "error"
	}
}

// lineTimestamp extracts a wall-clock timestamp from a raw line. ISO-8601
// brackets parse directly; the legacy local [HH:MM:SS.mmm] form is anchored
// to now's date, rolled back a day when that would place it in the future
// (a long-running log crossing midnight).
func lineTimestamp(raw string, now time.Time) (time.Time, bool) {
	if line, ok := ParseLine(raw); ok {
		return line.Timestamp, true
	}

	m := localTimestamp.FindStringSubmatch(raw)
	if m == nil {
		return time.Time{}, false
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	second, _ := strconv.Atoi(m[3])
	millis := 0
	if m[4] != "" {
		millis, _ = strconv.Atoi(m[4] + strings.Repeat("0", 3-len(m[4])))
	}

	ts := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, second, millis*int(time.Millisecond), now.Location())
	if ts.After(now) {
		ts = ts.AddDate(0, 0, -1)
	}

	return ts, true
}
