package logs

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies which producer appended a log line.
type Source string

const (
	SourceServer  Source = "SERVER"
	SourceBrowser Source = "BROWSER"
)

// Line type tags as they appear in the session log file.
const (
	TypeError        = "ERROR"
	TypeConsoleError = "CONSOLE ERROR"
	TypeNetwork      = "NETWORK"
	TypeInteraction  = "INTERACTION"
	TypeNavigation   = "NAVIGATION"
	TypeScreenshot   = "SCREENSHOT"
	TypePage         = "PAGE"
)

// Line is one parsed record from the session log file. The raw text is kept
// alongside the extracted fields because the categorizer matches against the
// full line.
type Line struct {
	Raw       string    `json:"raw"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Type      string    `json:"type,omitempty"`
	Payload   string    `json:"payload"`
}

// InteractionKind discriminates the interaction union.
type InteractionKind string

const (
	InteractionClick  InteractionKind = "CLICK"
	InteractionTap    InteractionKind = "TAP"
	InteractionScroll InteractionKind = "SCROLL"
	InteractionKey    InteractionKind = "KEY"
)

// Coordinates is a pixel position on the page.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// InteractionDetail is the variant payload of one interaction. Each variant
// carries exactly the fields relevant to its kind.
type InteractionDetail interface {
	Kind() InteractionKind
}

// ClickDetail is a mouse click at a coordinate, optionally on a named target.
type ClickDetail struct {
	Coordinates Coordinates `json:"coordinates"`
	Target      string      `json:"target,omitempty"`
}

func (ClickDetail) Kind() InteractionKind { return InteractionClick }

// TapDetail is a touch tap. Same shape as a click but recorded separately so
// replay can dispatch touch events where the backend supports them.
type TapDetail struct {
	Coordinates Coordinates `json:"coordinates"`
	Target      string      `json:"target,omitempty"`
}

func (TapDetail) Kind() InteractionKind { return InteractionTap }

// ScrollDetail is a scroll gesture. Destination is the final scroll position
// when the recorder captured one.
type ScrollDetail struct {
	Direction   string       `json:"direction,omitempty"`
	Distance    int          `json:"distance,omitempty"`
	Destination *Coordinates `json:"coordinates,omitempty"`
}

func (ScrollDetail) Kind() InteractionKind { return InteractionScroll }

// KeyDetail is a key press, optionally scoped to a target element.
type KeyDetail struct {
	Key    string `json:"key"`
	Target string `json:"target,omitempty"`
}

func (KeyDetail) Kind() InteractionKind { return InteractionKey }

// Interaction pairs a detail variant with the wall-clock time it was logged.
type Interaction struct {
	Timestamp time.Time
	Detail    InteractionDetail
}

// Kind returns the discriminator of the underlying detail.
func (i Interaction) Kind() InteractionKind {
	if i.Detail == nil {
		return ""
	}
	return i.Detail.Kind()
}

// interactionJSON is the wire shape shared by the log format and the API.
type interactionJSON struct {
	Timestamp   *time.Time      `json:"timestamp,omitempty"`
	Type        InteractionKind `json:"type"`
	Coordinates *Coordinates    `json:"coordinates,omitempty"`
	Target      string          `json:"target,omitempty"`
	Direction   string          `json:"direction,omitempty"`
	Distance    int             `json:"distance,omitempty"`
	Key         string          `json:"key,omitempty"`
}

// MarshalJSON flattens the variant into a single object keyed on "type".
func (i Interaction) MarshalJSON() ([]byte, error) {
	out := interactionJSON{Type: i.Kind()}
	if !i.Timestamp.IsZero() {
		ts := i.Timestamp
		out.Timestamp = &ts
	}

	switch d := i.Detail.(type) {
	case ClickDetail:
		c := d.Coordinates
		out.Coordinates = &c
		out.Target = d.Target
	case TapDetail:
		c := d.Coordinates
		out.Coordinates = &c
		out.Target = d.Target
	case ScrollDetail:
		out.Direction = d.Direction
		out.Distance = d.Distance
		out.Coordinates = d.Destination
	case KeyDetail:
		out.Key = d.Key
		out.Target = d.Target
	case nil:
	default:
		return nil, fmt.Errorf("unknown interaction detail %T", i.Detail)
	}

	return json.Marshal(out)
}

// UnmarshalJSON dispatches on the "type" field to rebuild the variant.
func (i *Interaction) UnmarshalJSON(data []byte) error {
	var wire interactionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	detail, err := detailFromWire(wire)
	if err != nil {
		return err
	}

	i.Detail = detail
	if wire.Timestamp != nil {
		i.Timestamp = *wire.Timestamp
	}
	return nil
}

func detailFromWire(wire interactionJSON) (InteractionDetail, error) {
	switch wire.Type {
	case InteractionClick:
		d := ClickDetail{Target: wire.Target}
		if wire.Coordinates != nil {
			d.Coordinates = *wire.Coordinates
		}
		return d, nil
	case InteractionTap:
		d := TapDetail{Target: wire.Target}
		if wire.Coordinates != nil {
			d.Coordinates = *wire.Coordinates
		}
		return d, nil
	case InteractionScroll:
		return ScrollDetail{
			Direction:   wire.Direction,
			Distance:    wire.Distance,
			Destination: wire.Coordinates,
		}, nil
	case InteractionKey:
		return KeyDetail{Key: wire.Key, Target: wire.Target}, nil
	default:
		return nil, fmt.Errorf("unknown interaction type %q", wire.Type)
	}
}

// NavigationEvent is a page navigation captured by the browser monitor.
type NavigationEvent struct {
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
}

// ScreenshotEvent records a captured screenshot and the trigger that caused
// it, derived from the filename.
type ScreenshotEvent struct {
	Timestamp time.Time `json:"timestamp"`
	URL       string    `json:"url"`
	Event     string    `json:"event,omitempty"`
}

// ReplayData is the chronological event set reconstructed from a session log.
// It is derived per request and never persisted.
type ReplayData struct {
	Interactions []Interaction     `json:"interactions"`
	Navigations  []NavigationEvent `json:"navigations"`
	Screenshots  []ScreenshotEvent `json:"screenshots"`
	StartTime    *time.Time        `json:"startTime,omitempty"`
	EndTime      *time.Time        `json:"endTime,omitempty"`
	DurationMs   int64             `json:"duration"`
}

// TotalEvents counts the replayable events (interactions and navigations).
func (r *ReplayData) TotalEvents() int {
	return len(r.Interactions) + len(r.Navigations)
}
