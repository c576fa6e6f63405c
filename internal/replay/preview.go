package replay

import (
	"context"
	"sync"
	"time"

	"github.com/vercel-labs/dev3000-sub004/internal/logs"
)

// PreviewStep is one event surfaced to a preview consumer. Nothing is
// dispatched to a browser.
type PreviewStep struct {
	Index       int       `json:"index"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Preview walks replay data with the original pacing but without real
// dispatch, for a client rendering the sequence. Playback checks a live
// playing flag before every step and Stop interrupts a wait immediately
// instead of letting remaining delays run out.
type Preview struct {
	mu      sync.Mutex
	playing bool
	stop    chan struct{}
}

// NewPreview creates an idle preview.
func NewPreview() *Preview {
	return &Preview{}
}

// IsPlaying reports whether a playback loop is running.
func (p *Preview) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Stop clears the playing flag and interrupts any in-progress wait.
func (p *Preview) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.playing = false
	close(p.stop)
}

// Play walks the merged event sequence, invoking step for each event after
// its proportional delay. Returns the number of steps emitted.
func (p *Preview) Play(ctx context.Context, data *logs.ReplayData, speed float64, step func(PreviewStep)) int {
	if speed <= 0 {
		speed = 1
	}

	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		return 0
	}
	p.playing = true
	p.stop = make(chan struct{})
	stop := p.stop
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.playing {
			p.playing = false
			close(p.stop)
		}
		p.mu.Unlock()
	}()

	engine := &Engine{auto: nopAutomator{}, sleep: sleepContext}
	merged := engine.mergeEvents(data)

	var prev time.Time
	emitted := 0
	for i, evt := range merged {
		if !p.IsPlaying() {
			return emitted
		}

		if i > 0 {
			delay := time.Duration(float64(evt.ts.Sub(prev)) / speed)
			if !p.wait(ctx, stop, delay) {
				return emitted
			}
		}
		prev = evt.ts

		if !p.IsPlaying() {
			return emitted
		}

		step(PreviewStep{
			Index:       i,
			EventType:   evt.eventType,
			Description: evt.description,
			Timestamp:   evt.ts,
		})
		emitted++
	}

	return emitted
}

// wait sleeps for d unless interrupted by Stop or context cancellation.
func (p *Preview) wait(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

type nopAutomator struct{}

func (nopAutomator) Navigate(context.Context, string) error { return nil }
func (nopAutomator) Click(context.Context, int, int) error  { return nil }
func (nopAutomator) Scroll(context.Context, int, int) error { return nil }
func (nopAutomator) Type(context.Context, string) error     { return nil }
