package logs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Tailer streams a growing log file incrementally. It resumes from a stored
// byte offset so the file is never re-read from the start, buffers an
// incomplete trailing line until its newline arrives, and resets on
// truncation. Change detection prefers fsnotify and falls back to polling
// when the watcher cannot be created (network filesystems, exhausted inotify
// watches).
type Tailer struct {
	mu      sync.Mutex
	path    string
	offset  int64
	partial []byte

	interval time.Duration
	logger   *zap.Logger
}

// TailerOption configures a Tailer.
type TailerOption func(*Tailer)

// WithPollInterval sets the polling fallback interval.
func WithPollInterval(interval time.Duration) TailerOption {
	return func(t *Tailer) {
		if interval >= 100*time.Millisecond {
			t.interval = interval
		}
	}
}

// WithOffset starts tailing from a known byte offset.
func WithOffset(offset int64) TailerOption {
	return func(t *Tailer) { t.offset = offset }
}

// WithLogger sets the tailer's logger.
func WithLogger(logger *zap.Logger) TailerOption {
	return func(t *Tailer) { t.logger = logger }
}

// NewTailer creates a tailer for the given log file. The file does not need
// to exist yet.
func NewTailer(path string, opts ...TailerOption) *Tailer {
	t := &Tailer{
		path:     path,
		interval: 500 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Offset returns the byte offset the next read will resume from.
func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// ReadNew returns the complete lines appended since the last read. A missing
// file yields no lines and no error: the session may not have started
// writing yet.
func (t *Tailer) ReadNew() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readNewLocked()
}

func (t *Tailer) readNewLocked() ([]string, error) {
	file, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}

	// Truncation: the file shrank below our offset, so start over.
	if info.Size() < t.offset {
		t.offset = 0
		t.partial = nil
	}

	if _, err := file.Seek(t.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to offset %d: %w", t.offset, err)
	}

	chunk, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	t.offset += int64(len(chunk))

	buf := append(t.partial, chunk...)
	var lines []string
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(buf[:idx], "\r"))
		if line != "" {
			lines = append(lines, line)
		}
		buf = buf[idx+1:]
	}

	// Keep the incomplete trailing line for the next read; a concurrent
	// writer may not have finished it yet.
	t.partial = append([]byte(nil), buf...)

	return lines, nil
}

// Follow streams completed lines to the returned channel until ctx is done.
// The channel is closed on exit.
func (t *Tailer) Follow(ctx context.Context) <-chan string {
	out := make(chan string, 256)

	notify := t.watchChanges(ctx)

	go func() {
		defer close(out)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		emit := func() {
			lines, err := t.ReadNew()
			if err != nil {
				t.logger.Warn("tail read failed", zap.Error(err))
				return
			}
			for _, line := range lines {
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			}
		}

		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				emit()
			case <-ticker.C:
				// Polling catches anything the watcher missed.
				emit()
			}
		}
	}()

	return out
}

// watchChanges returns a channel that ticks when the log file changes. When
// fsnotify is unavailable the channel stays silent and the polling ticker in
// Follow carries the load alone.
func (t *Tailer) watchChanges(ctx context.Context) <-chan struct{} {
	notify := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.logger.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
		return notify
	}

	// Watch the directory: the log file itself may not exist yet.
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		t.logger.Warn("watch log directory failed, falling back to polling", zap.Error(err))
		watcher.Close()
		return notify
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != t.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					select {
					case notify <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.logger.Warn("log watcher error", zap.Error(err))
			}
		}
	}()

	return notify
}
