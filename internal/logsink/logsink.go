// Package logsink writes one JSON log file per client connection. Logging is
// best effort: writes are queued to a background goroutine, dropped when the
// queue is full, and I/O errors are ignored.
package logsink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codewiresh/httpllm/internal/session"
)

const queueDepth = 256

// File is a session.Sink that appends every event to a per-connection log
// file. It closes itself after the connection's close event.
type File struct {
	path   string
	out    *asyncWriter
	logger *slog.Logger
}

// Open creates dir if needed and a log file named after the current UTC time
// and the peer address.
func Open(dir, connID, peer string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", time.Now().UTC().Format("20060102T150405.000Z"), sanitize(peer))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	out := newAsyncWriter(f, queueDepth)
	logger := slog.New(slog.NewJSONHandler(out, nil)).With("conn", connID, "peer", peer)
	return &File{path: path, out: out, logger: logger}, nil
}

// Path returns the log file location.
func (f *File) Path() string { return f.path }

// Record logs ev. The file is closed once the close event has been queued.
func (f *File) Record(ev session.Event) {
	attrs := []any{"seq", ev.Seq}
	if ev.Content != "" {
		attrs = append(attrs, "content", ev.Content)
	}
	f.logger.Info(string(ev.Kind), attrs...)
	if ev.Kind == session.EventClose {
		go f.Close()
	}
}

// Close flushes queued lines and closes the file. Safe to call twice.
func (f *File) Close() error {
	f.out.Close()
	return nil
}

// Dropped reports how many log lines were discarded because the queue was
// full.
func (f *File) Dropped() int { return f.out.dropped() }

func sanitize(peer string) string {
	if peer == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, peer)
}

// asyncWriter hands each Write to a goroutine. Write never blocks and never
// fails.
type asyncWriter struct {
	w    io.WriteCloser
	ch   chan []byte
	done chan struct{}

	mu     sync.Mutex
	closed bool
	drops  int
}

func newAsyncWriter(w io.WriteCloser, depth int) *asyncWriter {
	a := &asyncWriter{
		w:    w,
		ch:   make(chan []byte, depth),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *asyncWriter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return len(p), nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case a.ch <- buf:
	default:
		a.drops++
	}
	return len(p), nil
}

func (a *asyncWriter) loop() {
	defer close(a.done)
	for p := range a.ch {
		_, _ = a.w.Write(p)
	}
	_ = a.w.Close()
}

func (a *asyncWriter) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *asyncWriter) dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drops
}
