package jank

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// markerMatchWindowMs: a recorded shift claims the nearest pixel marker
// within this many milliseconds.
const markerMatchWindowMs = 50

// CSSRect is an element rectangle in CSS viewport coordinates, as reported
// by the in-page layout-shift observer.
type CSSRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ShiftRecord is one layout shift reported by the browser.
type ShiftRecord struct {
	TimestampMs int64    `json:"timestamp"`
	Score       float64  `json:"score"`
	Element     string   `json:"element,omitempty"`
	Rect        *CSSRect `json:"rect,omitempty"`
}

// Metadata is the browser-reported layout-shift record for a session,
// written alongside the screenshots as {session}-cls.json.
type Metadata struct {
	CumulativeCLS  float64       `json:"cumulativeCLS"`
	ViewportWidth  float64       `json:"viewportWidth"`
	ViewportHeight float64       `json:"viewportHeight"`
	Shifts         []ShiftRecord `json:"shifts"`
}

// LoadMetadata reads a session's layout-shift record from dir. A missing
// file returns (nil, nil): pixel comparison runs alone in that case.
func LoadMetadata(dir, session string) (*Metadata, error) {
	path := filepath.Join(dir, session+"-cls.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read shift metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse shift metadata %s: %w", path, err)
	}
	return &meta, nil
}

// Detect produces the shift report for a session. Browser metadata is
// authoritative when present: zero recorded shifts means a clean page
// regardless of what pixel comparison would say, and recorded shifts are
// localized by matching them against pixel markers. Without metadata the
// pixel comparison stands alone.
func Detect(shots []Screenshot, meta *Metadata) (*Result, error) {
	if meta != nil && len(meta.Shifts) == 0 {
		cls := meta.CumulativeCLS
		return &Result{
			Markers:   []Marker{},
			Source:    "metadata",
			ActualCLS: &cls,
			Grade:     gradeCLS(cls),
		}, nil
	}

	result, err := DetectFromPixels(shots)
	if err != nil {
		return nil, err
	}

	if meta == nil {
		return result, nil
	}

	result.Source = "metadata+pixel-diff"
	cls := meta.CumulativeCLS
	result.ActualCLS = &cls
	result.Grade = gradeCLS(cls)
	result.Markers = reconcileMarkers(result.Markers, meta, screenshotSize(shots))

	return result, nil
}

// reconcileMarkers rewrites pixel markers from the recorded shifts. Each
// shift claims the nearest pixel marker within the match window; shifts with
// no nearby marker still appear, with their element rect scaled into
// screenshot pixel space when viewport dimensions are known.
func reconcileMarkers(pixelMarkers []Marker, meta *Metadata, frame *Box) []Marker {
	claimed := make([]bool, len(pixelMarkers))
	out := make([]Marker, 0, len(meta.Shifts))

	for _, shift := range meta.Shifts {
		marker := Marker{
			TimestampMs: shift.TimestampMs,
			CLSScore:    shift.Score,
			Element:     shift.Element,
		}

		if idx := nearestMarker(pixelMarkers, claimed, shift.TimestampMs); idx >= 0 {
			claimed[idx] = true
			marker.BoundingBox = pixelMarkers[idx].BoundingBox
		} else if shift.Rect != nil && frame != nil {
			marker.BoundingBox = scaleRect(shift.Rect, meta, frame)
		}

		out = append(out, marker)
	}

	return out
}

// nearestMarker finds the unclaimed pixel marker closest in time to ts,
// within the match window.
func nearestMarker(markers []Marker, claimed []bool, ts int64) int {
	best := -1
	bestDist := int64(math.MaxInt64)
	for i, m := range markers {
		if claimed[i] {
			continue
		}
		dist := m.TimestampMs - ts
		if dist < 0 {
			dist = -dist
		}
		if dist <= markerMatchWindowMs && dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return best
}

// scaleRect maps a CSS-viewport rectangle into screenshot pixel space. The
// screenshot resolution can differ from the CSS viewport on high-DPI
// displays.
func scaleRect(rect *CSSRect, meta *Metadata, frame *Box) *Box {
	if meta.ViewportWidth <= 0 || meta.ViewportHeight <= 0 {
		return nil
	}
	sx := float64(frame.Width) / meta.ViewportWidth
	sy := float64(frame.Height) / meta.ViewportHeight
	return &Box{
		X:      int(math.Round(rect.X * sx)),
		Y:      int(math.Round(rect.Y * sy)),
		Width:  int(math.Round(rect.Width * sx)),
		Height: int(math.Round(rect.Height * sy)),
	}
}

// screenshotSize decodes the first readable frame to learn the capture
// resolution.
func screenshotSize(shots []Screenshot) *Box {
	for _, shot := range shots {
		img, err := decodeImage(shot.Path)
		if err != nil {
			continue
		}
		b := img.Bounds()
		return &Box{Width: b.Dx(), Height: b.Dy()}
	}
	return nil
}

// gradeCLS applies the Core Web Vitals CLS bands.
func gradeCLS(cls float64) string {
	switch {
	case cls <= 0.1:
		return "good"
	case cls <= 0.25:
		return "needs-improvement"
	default:
		return "poor"
	}
}
