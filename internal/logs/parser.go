package logs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parsing is format tolerant: the session log mixes structured JSON payloads
// with legacy free-text lines written by older recorders, and both must keep
// parsing indefinitely. Malformed individual lines are skipped, never
// surfaced as errors.

var (
	bracketPrefix = regexp.MustCompile(`^\[([^\[\]]+)\]\s*(.*)$`)
	httpMethod    = regexp.MustCompile(`^(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\b`)

	legacyClick  = regexp.MustCompile(`^(CLICK|TAP)\s+at\s+\(?\s*(-?\d+)\s*,\s*(-?\d+)\s*\)?(?:\s+on\s+(.+))?$`)
	legacyScroll = regexp.MustCompile(`(?i)^SCROLL\s+(up|down|left|right)(?:\s+(\d+)(?:px)?)?(?:\s+to\s+\(?\s*(-?\d+)\s*,\s*(-?\d+)\s*\)?)?$`)
	legacyKey    = regexp.MustCompile(`^KEY\s+(\S+)(?:\s+(?:on|in)\s+(.+))?$`)
)

// ParseLine splits one raw log line into its timestamp, source/type tags and
// payload. Returns false when the line has no parseable leading ISO
// timestamp.
func ParseLine(raw string) (Line, bool) {
	m := bracketPrefix.FindStringSubmatch(raw)
	if m == nil {
		return Line{}, false
	}

	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return Line{}, false
	}

	line := Line{Raw: raw, Timestamp: ts, Payload: m[2]}

	if tag := bracketPrefix.FindStringSubmatch(line.Payload); tag != nil {
		switch tag[1] {
		case string(SourceServer), string(SourceBrowser):
			line.Source = Source(tag[1])
			line.Payload = tag[2]
		}
	}

	if tag := bracketPrefix.FindStringSubmatch(line.Payload); tag != nil {
		line.Type = tag[1]
		line.Payload = tag[2]
	} else if line.Source == SourceServer {
		// HTTP request lines carry the method as an implicit type tag.
		if m := httpMethod.FindString(line.Payload); m != "" {
			line.Type = m
		}
	}

	return line, true
}

// ParseLogFile reads a session log and reconstructs its replay data. A
// missing or unreadable file is the one fatal condition; everything past that
// degrades line by line.
func ParseLogFile(path string, start, end *time.Time) (*ReplayData, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return ParseLogContent(string(content), start, end), nil
}

// ParseLogContent extracts interaction, navigation and screenshot events from
// raw log content, applying inclusive [start, end] filtering when bounds are
// given. It is a pure function of its input and never fails on a bad line.
func ParseLogContent(content string, start, end *time.Time) *ReplayData {
	data := &ReplayData{
		Interactions: []Interaction{},
		Navigations:  []NavigationEvent{},
		Screenshots:  []ScreenshotEvent{},
	}

	for _, raw := range strings.Split(content, "\n") {
		line, ok := ParseLine(raw)
		if !ok {
			continue
		}

		if start != nil && line.Timestamp.Before(*start) {
			continue
		}
		if end != nil && line.Timestamp.After(*end) {
			continue
		}

		if data.StartTime == nil {
			ts := line.Timestamp
			data.StartTime = &ts
		}
		ts := line.Timestamp
		data.EndTime = &ts

		switch line.Type {
		case TypeInteraction:
			if detail := parseInteractionPayload(line.Payload); detail != nil {
				data.Interactions = append(data.Interactions, Interaction{
					Timestamp: line.Timestamp,
					Detail:    detail,
				})
			}
		case TypeNavigation:
			if u := strings.TrimSpace(line.Payload); u != "" {
				data.Navigations = append(data.Navigations, NavigationEvent{
					Timestamp: line.Timestamp,
					URL:       u,
				})
			}
		case TypeScreenshot:
			if u := strings.TrimSpace(line.Payload); u != "" {
				data.Screenshots = append(data.Screenshots, ScreenshotEvent{
					Timestamp: line.Timestamp,
					URL:       u,
					Event:     screenshotEventLabel(u),
				})
			}
		}
	}

	if data.StartTime != nil && data.EndTime != nil {
		data.DurationMs = data.EndTime.Sub(*data.StartTime).Milliseconds()
	}

	return data
}

// parseInteractionPayload tries the structured JSON form first, then the
// legacy free-text form. Returns nil when neither matches.
func parseInteractionPayload(payload string) InteractionDetail {
	payload = strings.TrimSpace(payload)

	var wire interactionJSON
	if err := json.Unmarshal([]byte(payload), &wire); err == nil {
		if detail, err := detailFromWire(wire); err == nil {
			return detail
		}
	}

	return parseLegacyInteraction(payload)
}

// parseLegacyInteraction matches the historical textual formats, e.g.
// "CLICK at (10, 20) on button" or "SCROLL down 300px to (0, 500)". Older
// recorders also emitted bare "x,y" coordinates without parentheses.
func parseLegacyInteraction(payload string) InteractionDetail {
	if m := legacyClick.FindStringSubmatch(payload); m != nil {
		x, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		target := recoverTarget(m[4])
		if m[1] == string(InteractionTap) {
			return TapDetail{Coordinates: Coordinates{X: x, Y: y}, Target: target}
		}
		return ClickDetail{Coordinates: Coordinates{X: x, Y: y}, Target: target}
	}

	if m := legacyScroll.FindStringSubmatch(payload); m != nil {
		detail := ScrollDetail{Direction: strings.ToLower(m[1])}
		if m[2] != "" {
			detail.Distance, _ = strconv.Atoi(m[2])
		}
		if m[3] != "" && m[4] != "" {
			x, _ := strconv.Atoi(m[3])
			y, _ := strconv.Atoi(m[4])
			detail.Destination = &Coordinates{X: x, Y: y}
		}
		return detail
	}

	if m := legacyKey.FindStringSubmatch(payload); m != nil {
		return KeyDetail{Key: m[1], Target: recoverTarget(m[2])}
	}

	return nil
}

// recoverTarget attempts to pull a readable target out of an embedded JSON
// fragment, falling back to the literal string when it does not parse.
func recoverTarget(target string) string {
	target = strings.TrimSpace(target)
	if !strings.HasPrefix(target, "{") {
		return target
	}

	var fragment map[string]interface{}
	if err := json.Unmarshal([]byte(target), &fragment); err != nil {
		return target
	}

	for _, key := range []string{"selector", "target", "text", "tagName", "id"} {
		if v, ok := fragment[key].(string); ok && v != "" {
			return v
		}
	}
	return target
}

// screenshotEventLabel derives the trigger label from a screenshot URL.
// Filenames follow the {session}-{seq}-{trigger}-{event}.png convention; the
// label is everything after the third hyphen-delimited token.
func screenshotEventLabel(rawURL string) string {
	name := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		name = u.Path
	}
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	tokens := strings.Split(name, "-")
	if len(tokens) <= 3 {
		return ""
	}
	return strings.TrimSuffix(strings.Join(tokens[3:], "-"), ".png")
}
