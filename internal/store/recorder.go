package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codewiresh/httpllm/internal/session"
)

const recorderQueue = 1024

// Recorder archives session events into a Store. Record never blocks: events
// are queued to a single writer goroutine and dropped when the queue is
// full. Storage errors are logged and otherwise ignored.
type Recorder struct {
	store  Store
	logger *slog.Logger
	ch     chan session.Event
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewRecorder starts a recorder writing to st.
func NewRecorder(st Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  st,
		logger: logger,
		ch:     make(chan session.Event, recorderQueue),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record queues ev for archiving.
func (r *Recorder) Record(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- ev:
	default:
		r.dropped++
	}
}

// Close writes every queued event and stops the recorder. It does not close
// the underlying store.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	<-r.done
}

// Dropped reports how many events were discarded.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) loop() {
	defer close(r.done)
	for ev := range r.ch {
		if err := r.apply(ev); err != nil {
			r.logger.Warn("archiving event failed", "conn", ev.ConnID, "kind", ev.Kind, "err", err)
		}
	}
}

func (r *Recorder) apply(ev session.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.Kind {
	case session.EventOpen:
		return r.store.ConnectionOpen(ctx, ev.ConnID, ev.Peer, ev.At)
	case session.EventClose:
		return r.store.ConnectionClose(ctx, ev.ConnID, ev.At)
	case session.EventRequest:
		return r.store.TurnAppend(ctx, Turn{ConnID: ev.ConnID, Seq: ev.Seq, Role: RoleRequest, Content: ev.Content, CreatedAt: ev.At})
	case session.EventResponse:
		return r.store.TurnAppend(ctx, Turn{ConnID: ev.ConnID, Seq: ev.Seq, Role: RoleResponse, Content: ev.Content, CreatedAt: ev.At})
	case session.EventError:
		return r.store.TurnAppend(ctx, Turn{ConnID: ev.ConnID, Seq: ev.Seq, Role: RoleError, Content: ev.Content, CreatedAt: ev.At})
	}
	return nil
}
