// Package replay reconstructs a recorded browsing session and plays it back
// against a live browser-automation backend with proportional timing.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vercel-labs/dev3000-sub004/internal/logs"
)

// Automator is the capability set the engine dispatches against. Backends:
// an MCP tool caller or a direct CDP connection.
type Automator interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, x, y int) error
	Scroll(ctx context.Context, dx, dy int) error
	Type(ctx context.Context, text string) error
}

// StepResult records one dispatch attempt. A failed step never aborts the
// run; the error travels in the result instead.
type StepResult struct {
	EventType   string `json:"eventType"`
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
}

// Result summarizes a replay run.
type Result struct {
	Executed    int          `json:"executed"`
	TotalEvents int          `json:"totalEvents"`
	Results     []StepResult `json:"results"`
}

// Engine replays parsed session data through an Automator.
type Engine struct {
	auto   Automator
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a replay engine. A nil logger is replaced with a no-op.
func NewEngine(auto Automator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		auto:   auto,
		logger: logger,
		sleep:  sleepContext,
	}
}

// timedEvent is one merged, replayable event.
type timedEvent struct {
	ts          time.Time
	eventType   string
	description string
	dispatch    func(ctx context.Context) error // nil when unsupported
}

// Execute replays all interaction and navigation events in timestamp order.
// Delays between dispatches reproduce the original pacing divided by
// speed; each delay is measured from when the previous wait completed.
func (e *Engine) Execute(ctx context.Context, data *logs.ReplayData, speed float64) (*Result, error) {
	if speed <= 0 {
		speed = 1
	}

	merged := e.mergeEvents(data)
	result := &Result{
		TotalEvents: data.TotalEvents(),
		Results:     []StepResult{},
	}

	var prev time.Time
	for i, evt := range merged {
		if i > 0 {
			delay := time.Duration(float64(evt.ts.Sub(prev)) / speed)
			if err := e.sleep(ctx, delay); err != nil {
				return result, err
			}
		}
		prev = evt.ts

		step := StepResult{EventType: evt.eventType, Description: evt.description}
		if evt.dispatch == nil {
			step.Skipped = true
			result.Results = append(result.Results, step)
			continue
		}

		result.Executed++
		if err := evt.dispatch(ctx); err != nil {
			step.Error = err.Error()
			e.logger.Warn("replay step failed",
				zap.String("event", evt.description),
				zap.Error(err))
		}
		result.Results = append(result.Results, step)
	}

	return result, nil
}

// mergeEvents interleaves interactions and navigations into one
// timestamp-ordered sequence. The sort is stable; exact tie order is not
// semantically significant.
func (e *Engine) mergeEvents(data *logs.ReplayData) []timedEvent {
	merged := make([]timedEvent, 0, data.TotalEvents())

	for _, nav := range data.Navigations {
		url := nav.URL
		merged = append(merged, timedEvent{
			ts:          nav.Timestamp,
			eventType:   "navigation",
			description: fmt.Sprintf("navigate to %s", url),
			dispatch: func(ctx context.Context) error {
				return e.auto.Navigate(ctx, url)
			},
		})
	}

	for _, interaction := range data.Interactions {
		merged = append(merged, e.interactionEvent(interaction))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].ts.Before(merged[j].ts)
	})

	return merged
}

func (e *Engine) interactionEvent(interaction logs.Interaction) timedEvent {
	evt := timedEvent{
		ts:          interaction.Timestamp,
		eventType:   "interaction",
		description: string(interaction.Kind()),
	}

	switch d := interaction.Detail.(type) {
	case logs.ClickDetail:
		evt.description = fmt.Sprintf("click at (%d, %d)", d.Coordinates.X, d.Coordinates.Y)
		evt.dispatch = func(ctx context.Context) error {
			return e.auto.Click(ctx, d.Coordinates.X, d.Coordinates.Y)
		}
	case logs.TapDetail:
		evt.description = fmt.Sprintf("tap at (%d, %d)", d.Coordinates.X, d.Coordinates.Y)
		evt.dispatch = func(ctx context.Context) error {
			return e.auto.Click(ctx, d.Coordinates.X, d.Coordinates.Y)
		}
	case logs.ScrollDetail:
		dx, dy, ok := scrollDelta(d)
		evt.description = fmt.Sprintf("scroll %s by (%d, %d)", d.Direction, dx, dy)
		if ok {
			evt.dispatch = func(ctx context.Context) error {
				return e.auto.Scroll(ctx, dx, dy)
			}
		}
	case logs.KeyDetail:
		evt.description = fmt.Sprintf("key %s", d.Key)
		if d.Key != "" {
			evt.dispatch = func(ctx context.Context) error {
				return e.auto.Type(ctx, d.Key)
			}
		}
	}

	// Ambiguous or unknown shapes keep a nil dispatch and are skipped.
	return evt
}

// scrollDelta converts a scroll detail into pixel deltas. Falls back to the
// recorded destination when no direction/distance pair was captured.
func scrollDelta(d logs.ScrollDetail) (int, int, bool) {
	if d.Distance > 0 {
		switch d.Direction {
		case "up":
			return 0, -d.Distance, true
		case "left":
			return -d.Distance, 0, true
		case "right":
			return d.Distance, 0, true
		default: // "down" and unrecorded directions
			return 0, d.Distance, true
		}
	}
	if d.Destination != nil {
		return d.Destination.X, d.Destination.Y, true
	}
	return 0, 0, false
}

// sleepContext waits for d, or returns early when ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
