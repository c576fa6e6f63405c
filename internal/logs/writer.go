package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/vercel-labs/dev3000-sub004/pkg/events"
)

// Writer appends tagged lines to the append-only session log. One process
// owns the log file for the lifetime of a session; the flock guards against a
// second monitor accidentally writing the same file while readers tail it
// lock-free.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	lock   *flock.Flock
	path   string
	bus    *events.Bus
	nowFn  func() time.Time
	closed bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBus publishes a log.line event for every appended line.
func WithBus(bus *events.Bus) WriterOption {
	return func(w *Writer) { w.bus = bus }
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.nowFn = now }
}

// NewWriter opens (creating if needed) the session log at path for appending.
// It fails if another process already holds the writer lock.
func NewWriter(path string, opts ...WriterOption) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire log lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("log file %s is owned by another process", path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open log file: %w", err)
	}

	w := &Writer{
		file:  file,
		lock:  lock,
		path:  path,
		nowFn: time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the log file location.
func (w *Writer) Path() string { return w.path }

// Write appends one tagged line: [timestamp] [source] [type] payload. The
// type tag is omitted when typ is empty. Payload newlines are collapsed so
// one event always occupies exactly one line.
func (w *Writer) Write(source Source, typ, payload string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	ts := w.nowFn().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	payload = strings.ReplaceAll(payload, "\n", " ")

	var line string
	if typ == "" {
		line = fmt.Sprintf("[%s] [%s] %s\n", ts, source, payload)
	} else {
		line = fmt.Sprintf("[%s] [%s] [%s] %s\n", ts, source, typ, payload)
	}

	if _, err := w.file.WriteString(line); err != nil {
		return fmt.Errorf("append log line: %w", err)
	}

	if w.bus != nil {
		w.bus.Publish(events.Event{
			Type: events.LogLine,
			Data: map[string]interface{}{
				"source":  string(source),
				"type":    typ,
				"payload": payload,
			},
		})
	}

	return nil
}

// WriteServer appends a server stdout/stderr line. HTTP request lines keep
// their method prefix and need no explicit type tag.
func (w *Writer) WriteServer(content string) error {
	return w.Write(SourceServer, "", content)
}

// WriteServerError appends a server error line.
func (w *Writer) WriteServerError(content string) error {
	return w.Write(SourceServer, TypeError, content)
}

// WriteInteraction appends a structured interaction event as JSON.
func (w *Writer) WriteInteraction(detail InteractionDetail) error {
	payload, err := Interaction{Detail: detail}.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode interaction: %w", err)
	}
	return w.Write(SourceBrowser, TypeInteraction, string(payload))
}

// WriteNavigation appends a navigation event.
func (w *Writer) WriteNavigation(url string) error {
	return w.Write(SourceBrowser, TypeNavigation, url)
}

// WriteScreenshot appends a screenshot capture event.
func (w *Writer) WriteScreenshot(url string) error {
	return w.Write(SourceBrowser, TypeScreenshot, url)
}

// Size reports the current log size in bytes, for tailers picking an initial
// offset.
func (w *Writer) Size() (int64, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close releases the file and the writer lock.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.file.Close()
	if unlockErr := w.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}
