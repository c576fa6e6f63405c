// Package jank localizes visual layout shifts by comparing sequential
// screenshots, cross-validated against browser-reported layout-shift
// metadata when it exists.
package jank

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Screenshot is one captured frame. Filenames follow the
// {session}-{seq}-{timestampMs}-{event}.png convention; the timestamp is
// milliseconds since session start.
type Screenshot struct {
	Path        string
	Seq         int
	TimestampMs int64
	Event       string
}

// LoadScreenshots enumerates a session's screenshots from dir in capture
// order. Files that do not match the naming convention are ignored.
func LoadScreenshots(dir, session string) ([]Screenshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read screenshot directory: %w", err)
	}

	prefix := session + "-"
	var shots []Screenshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".png") {
			continue
		}

		rest := strings.TrimSuffix(name[len(prefix):], ".png")
		tokens := strings.Split(rest, "-")
		if len(tokens) < 2 {
			continue
		}

		seq, err := strconv.Atoi(tokens[0])
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(tokens[1], 10, 64)
		if err != nil {
			continue
		}

		shots = append(shots, Screenshot{
			Path:        filepath.Join(dir, name),
			Seq:         seq,
			TimestampMs: ts,
			Event:       strings.Join(tokens[2:], "-"),
		})
	}

	sort.Slice(shots, func(i, j int) bool {
		if shots[i].Seq != shots[j].Seq {
			return shots[i].Seq < shots[j].Seq
		}
		return shots[i].TimestampMs < shots[j].TimestampMs
	})

	return shots, nil
}
