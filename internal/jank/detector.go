package jank

import (
	"fmt"
	"image"
	_ "image/png"
	"os"
)

// Detection thresholds, tuned against real Next.js transition captures. The
// debug trail exists so these can be re-tuned from field reports.
const (
	// noiseThresholdPct: pairs differing by less than this fraction of
	// pixels are anti-aliasing noise, not shifts.
	noiseThresholdPct = 0.05
	// rowChangeFraction: a row counts toward a band when more than this
	// fraction of its pixels changed.
	rowChangeFraction = 0.10
	// minBandHeight: contiguous qualifying rows must be at least this tall.
	minBandHeight = 5
	// peakRowFraction: a band needs one row with at least this change
	// fraction to count as a shift region.
	peakRowFraction = 0.20
	// boxPadding: pixels of padding around the diff bounding box.
	boxPadding = 10
	// maxAreaFraction: a box covering more of the frame than this is a
	// wholesale repaint (page transition), not a layout shift.
	maxAreaFraction = 0.5
	// channelTolerance: per-channel 8-bit delta below which two pixels are
	// considered equal.
	channelTolerance = 8
)

// Box is a pixel-space bounding rectangle.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Marker is one detected visual shift.
type Marker struct {
	TimestampMs int64   `json:"timestamp"`
	BoundingBox *Box    `json:"boundingBox"`
	CLSScore    float64 `json:"clsScore,omitempty"`
	Element     string  `json:"element,omitempty"`
}

// PairDebug records the outcome of one frame-pair comparison, for threshold
// tuning and tests.
type PairDebug struct {
	Before   string  `json:"before"`
	After    string  `json:"after"`
	DiffPct  float64 `json:"diffPct"`
	Regions  int     `json:"regions"`
	Accepted bool    `json:"accepted"`
	Reason   string  `json:"reason,omitempty"`
}

// Result is the detector output for one session.
type Result struct {
	Markers   []Marker    `json:"clsMarkers"`
	Source    string      `json:"source"`
	ActualCLS *float64    `json:"actualCLS,omitempty"`
	Grade     string      `json:"grade,omitempty"`
	Debug     []PairDebug `json:"debug,omitempty"`
}

// DetectFromPixels runs pairwise pixel comparison over consecutive
// screenshots. Frames that fail to decode skip their pairs; the run keeps
// going.
func DetectFromPixels(shots []Screenshot) (*Result, error) {
	result := &Result{
		Markers: []Marker{},
		Source:  "pixel-diff",
		Debug:   []PairDebug{},
	}

	var prev image.Image
	var prevShot Screenshot

	for _, shot := range shots {
		img, err := decodeImage(shot.Path)
		if err != nil {
			result.Debug = append(result.Debug, PairDebug{
				After:  shot.Path,
				Reason: fmt.Sprintf("decode failed: %v", err),
			})
			prev = nil
			continue
		}

		if prev != nil {
			dbg := PairDebug{Before: prevShot.Path, After: shot.Path}
			box, diffPct, regions, reason := compareFrames(prev, img)
			dbg.DiffPct = diffPct
			dbg.Regions = regions
			dbg.Reason = reason
			if box != nil {
				dbg.Accepted = true
				result.Markers = append(result.Markers, Marker{
					TimestampMs: shot.TimestampMs,
					BoundingBox: box,
				})
			}
			result.Debug = append(result.Debug, dbg)
		}

		prev = img
		prevShot = shot
	}

	return result, nil
}

func decodeImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

// compareFrames diffs two frames pixel by pixel, scans for horizontal bands
// of change, and returns a padded bounding box when the pair qualifies as a
// localized layout shift.
func compareFrames(before, after image.Image) (*Box, float64, int, string) {
	bounds := before.Bounds()
	if bounds != after.Bounds() {
		return nil, 0, 0, "dimension mismatch"
	}

	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, 0, 0, "empty frame"
	}

	rowCounts := make([]int, height)
	rowMinX := make([]int, height)
	rowMaxX := make([]int, height)
	for i := range rowMinX {
		rowMinX[i] = width
		rowMaxX[i] = -1
	}
	diffCount := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !pixelsDiffer(before, after, x, y) {
				continue
			}
			diffCount++
			ry := y - bounds.Min.Y
			rowCounts[ry]++
			rx := x - bounds.Min.X
			if rx < rowMinX[ry] {
				rowMinX[ry] = rx
			}
			if rx > rowMaxX[ry] {
				rowMaxX[ry] = rx
			}
		}
	}

	diffPct := float64(diffCount) / float64(width*height) * 100

	if diffPct < noiseThresholdPct {
		return nil, diffPct, 0, "below noise threshold"
	}

	regions := shiftRegions(rowCounts, width)
	if len(regions) == 0 {
		return nil, diffPct, 0, "no shift bands"
	}

	// Bounding box over differing pixels within qualifying bands only; stray
	// pixels in non-qualifying rows must not widen it.
	minY, maxY := regions[0].top, regions[len(regions)-1].bottom
	minX, maxX := width, -1
	for _, region := range regions {
		for y := region.top; y <= region.bottom; y++ {
			if rowMinX[y] < minX {
				minX = rowMinX[y]
			}
			if rowMaxX[y] > maxX {
				maxX = rowMaxX[y]
			}
		}
	}

	box := &Box{
		X:      clamp(minX-boxPadding, 0, width-1),
		Y:      clamp(minY-boxPadding, 0, height-1),
		Width:  clamp(maxX+boxPadding, 0, width-1) - clamp(minX-boxPadding, 0, width-1) + 1,
		Height: clamp(maxY+boxPadding, 0, height-1) - clamp(minY-boxPadding, 0, height-1) + 1,
	}

	if float64(box.Width*box.Height) > maxAreaFraction*float64(width*height) {
		return nil, diffPct, len(regions), "full-frame repaint"
	}

	return box, diffPct, len(regions), ""
}

type band struct {
	top, bottom int
}

// shiftRegions finds contiguous runs of rows where more than 10% of pixels
// changed, at least 5 rows tall, with a peak row over 20%.
func shiftRegions(rowCounts []int, width int) []band {
	rowThreshold := int(rowChangeFraction * float64(width))
	peakThreshold := int(peakRowFraction * float64(width))

	var regions []band
	start := -1
	peak := 0

	flush := func(end int) {
		if start >= 0 && end-start >= minBandHeight && peak > peakThreshold {
			regions = append(regions, band{top: start, bottom: end - 1})
		}
		start = -1
		peak = 0
	}

	for y, count := range rowCounts {
		if count > rowThreshold {
			if start < 0 {
				start = y
			}
			if count > peak {
				peak = count
			}
		} else {
			flush(y)
		}
	}
	flush(len(rowCounts))

	return regions
}

func pixelsDiffer(a, b image.Image, x, y int) bool {
	ar, ag, ab2, _ := a.At(x, y).RGBA()
	br, bg, bb, _ := b.At(x, y).RGBA()

	return delta8(ar, br) > channelTolerance ||
		delta8(ag, bg) > channelTolerance ||
		delta8(ab2, bb) > channelTolerance
}

func delta8(a, b uint32) int {
	av := int(a >> 8)
	bv := int(b >> 8)
	if av > bv {
		return av - bv
	}
	return bv - av
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
