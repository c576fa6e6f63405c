package events

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	LogLine            EventType = "log.line"
	ErrorDetected      EventType = "error.detected"
	InteractionLogged  EventType = "interaction.logged"
	NavigationLogged   EventType = "navigation.logged"
	ScreenshotCaptured EventType = "screenshot.captured"
	ReplayStarted      EventType = "replay.started"
	ReplayFinished     EventType = "replay.finished"
	MCPConnected       EventType = "mcp.connected"
	MCPDisconnected    EventType = "mcp.disconnected"
	SessionRegistered  EventType = "session.registered"
)

type Event struct {
	ID        string
	Type      EventType
	Session   string
	Timestamp time.Time
	Data      map[string]interface{}
}

type Handler func(event Event)

// WorkerPoolConfig holds configuration for the event bus worker pool
type WorkerPoolConfig struct {
	WorkerCount int // Number of worker goroutines (default: CPU cores * 2)
	BufferSize  int // Channel buffer size (default: 1000)
}

// DefaultWorkerPoolConfig returns the default configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: runtime.NumCPU() * 2,
		BufferSize:  1000,
	}
}

type eventTask struct {
	event   Event
	handler Handler
}

type Bus struct {
	handlers   map[EventType][]Handler
	mu         sync.RWMutex
	workerPool chan eventTask
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	config     WorkerPoolConfig
}

func NewBus() *Bus {
	return NewBusWithConfig(DefaultWorkerPoolConfig())
}

func NewBusWithConfig(config WorkerPoolConfig) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		handlers:   make(map[EventType][]Handler),
		workerPool: make(chan eventTask, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
		config:     config,
	}

	for i := 0; i < config.WorkerCount; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	return b
}

// worker processes events from the worker pool
func (b *Bus) worker() {
	defer b.wg.Done()

	for {
		select {
		case task := <-b.workerPool:
			// Execute handler with panic recovery
			func() {
				defer func() {
					if r := recover(); r != nil {
						fmt.Printf("event handler panic: %v\n", r)
					}
				}()
				task.handler(task.event)
			}()
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.ID = generateEventID()

	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		task := eventTask{
			event:   event,
			handler: handler,
		}

		// Non-blocking send to worker pool
		select {
		case b.workerPool <- task:
		default:
			// Worker pool full - execute in a fresh goroutine as fallback
			go func(h Handler, e Event) {
				defer func() {
					if r := recover(); r != nil {
						fmt.Printf("event fallback handler panic: %v\n", r)
					}
				}()
				h(e)
			}(handler, event)
		}
	}
}

// Shutdown gracefully shuts down the bus worker pool
func (b *Bus) Shutdown() {
	b.cancel()
	b.wg.Wait()
}

func generateEventID() string {
	return uuid.NewString()
}
