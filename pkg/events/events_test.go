package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var got []Event
	handler := func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		wg.Done()
	}

	bus.Subscribe(LogLine, handler)
	bus.Subscribe(LogLine, handler)
	bus.Subscribe(ErrorDetected, func(Event) { t.Error("wrong event type delivered") })

	bus.Publish(Event{
		Type: LogLine,
		Data: map[string]interface{}{"payload": "hello"},
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handlers never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("got %d deliveries", len(got))
	}
	for _, e := range got {
		if e.ID == "" {
			t.Error("event has no ID")
		}
		if e.Timestamp.IsZero() {
			t.Error("event has no timestamp")
		}
		if e.Data["payload"] != "hello" {
			t.Errorf("data = %v", e.Data)
		}
	}
}

func TestPublishSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	delivered := make(chan struct{}, 1)
	bus.Subscribe(LogLine, func(Event) { panic("boom") })
	bus.Subscribe(LogLine, func(Event) {
		select {
		case delivered <- struct{}{}:
		default:
		}
	})

	bus.Publish(Event{Type: LogLine})

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("panic in one handler starved the others")
	}
}

func TestPublishFallbackWhenPoolSaturated(t *testing.T) {
	bus := NewBusWithConfig(WorkerPoolConfig{WorkerCount: 1, BufferSize: 1})
	defer bus.Shutdown()

	block := make(chan struct{})
	bus.Subscribe(LogLine, func(Event) { <-block })

	var wg sync.WaitGroup
	wg.Add(20)
	bus.Subscribe(ErrorDetected, func(Event) { wg.Done() })

	// Saturate the single worker, then keep publishing; the fallback path
	// must still deliver everything.
	bus.Publish(Event{Type: LogLine})
	for i := 0; i < 20; i++ {
		bus.Publish(Event{Type: ErrorDetected})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("saturated pool dropped events")
	}
	close(block)
}
