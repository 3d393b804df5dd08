// Package session implements the per-connection state machine: framed
// requests go to the responder one at a time, and responses leave through
// the connection's ResponseWriter in request order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewiresh/httpllm/internal/connection"
	"github.com/codewiresh/httpllm/internal/protocol"
	"github.com/codewiresh/httpllm/internal/responder"
)

// State is the position of a connection in its life cycle.
type State int

const (
	StateOpen State = iota
	StateAwaitingRequest
	StateProcessing
	StateResponding
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Session.
type Options struct {
	ID   string
	Peer string
	// HistoryLimit bounds the conversation kept per connection. Zero keeps
	// every turn.
	HistoryLimit int
	// Timeout bounds a single responder call. Zero waits forever.
	Timeout time.Duration
	Sink    Sink
	Logger  *slog.Logger
}

// Reply is the outcome of one responder call.
type Reply struct {
	Text string
	Err  error

	seq uint64
}

// Session holds the state of one client connection. Its On* methods must be
// called from a single goroutine, the connection's event loop; responder
// calls run elsewhere and come back through Replies.
type Session struct {
	id   string
	peer string

	state   State
	framer  protocol.Framer
	writer  *connection.ResponseWriter
	history *History

	pending  []protocol.Message
	inflight bool
	seq      uint64

	responder responder.Responder
	timeout   time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	replies   chan Reply

	sink   Sink
	logger *slog.Logger
}

// New opens a session writing to sock. Cancelling ctx abandons any
// responder call in flight.
func New(ctx context.Context, sock connection.Socket, r responder.Responder, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("conn", opts.ID, "peer", opts.Peer)
	sink := opts.Sink
	if sink == nil {
		sink = Sinks(nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        opts.ID,
		peer:      opts.Peer,
		state:     StateOpen,
		writer:    connection.NewResponseWriter(sock, logger),
		history:   NewHistory(opts.HistoryLimit),
		responder: r,
		timeout:   opts.Timeout,
		ctx:       ctx,
		cancel:    cancel,
		replies:   make(chan Reply, 1),
		sink:      sink,
		logger:    logger,
	}
	s.emit(EventOpen, 0, "")
	s.state = StateAwaitingRequest
	logger.Debug("connection opened")
	return s
}

// ID returns the connection identifier.
func (s *Session) ID() string { return s.id }

// State returns the current life-cycle state.
func (s *Session) State() State { return s.state }

// Replies delivers responder outcomes; pass each one to OnReply.
func (s *Session) Replies() <-chan Reply { return s.replies }

// Done reports whether the session will do no more work.
func (s *Session) Done() bool { return s.state == StateClosed }

// History returns a copy of the retained conversation.
func (s *Session) History() []responder.Turn { return s.history.Turns() }

// Queued returns the number of framed requests waiting for the responder.
func (s *Session) Queued() int { return len(s.pending) }

// OnData frames inbound bytes and starts the responder on the oldest
// waiting request if none is running.
func (s *Session) OnData(chunk []byte) {
	if s.state >= StateClosing {
		return
	}
	s.framer.Feed(chunk)
	for {
		msg, ok := s.framer.Next()
		if !ok {
			break
		}
		s.pending = append(s.pending, msg)
	}
	s.dispatch()
}

// OnWritable resumes a write the socket pushed back on.
func (s *Session) OnWritable() {
	if s.state == StateClosed {
		return
	}
	s.writer.OnWritable()
	s.checkWriter()
}

// OnReply writes the response for the request in flight and moves on to
// the next one. Replies that arrive after the connection closed, or that
// belong to an abandoned call, are discarded.
func (s *Session) OnReply(r Reply) {
	if s.state == StateClosed || !s.inflight || r.seq != s.seq {
		return
	}
	s.inflight = false
	s.state = StateResponding

	var out []byte
	if r.Err != nil {
		s.logger.Warn("responder failed", "seq", r.seq, "err", r.Err)
		out = protocol.ErrorResponse(r.Err.Error())
		s.writer.SetCloseIntent()
		s.emit(EventError, r.seq, r.Err.Error())
	} else {
		n := protocol.NormalizeResponse(r.Text)
		if n.Close {
			s.writer.SetCloseIntent()
		}
		out = n.Bytes
		s.history.Append(responder.Turn{Role: responder.RoleResponder, Content: string(out)})
		s.emit(EventResponse, r.seq, string(out))
	}

	s.writer.Enqueue(out)
	s.writer.Flush()
	if s.writer.CloseIntent() && s.state != StateClosed {
		s.state = StateClosing
		if len(s.pending) > 0 {
			s.logger.Debug("dropping pipelined requests after close", "count", len(s.pending))
		}
		s.pending = nil
	}
	s.checkWriter()
	s.dispatch()
}

// OnClose ends the session after the peer went away or the transport
// failed. A responder call still running is cancelled and its reply
// ignored.
func (s *Session) OnClose() {
	if s.state == StateClosed {
		return
	}
	s.writer.Abandon()
	s.finish("peer closed")
}

func (s *Session) dispatch() {
	if s.inflight || s.state >= StateClosing {
		return
	}
	if len(s.pending) == 0 {
		s.state = StateAwaitingRequest
		return
	}
	msg := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]

	s.seq++
	s.inflight = true
	s.state = StateProcessing
	s.history.Append(responder.Turn{Role: responder.RoleRequester, Content: msg.String()})
	s.emit(EventRequest, s.seq, msg.String())
	s.logger.Debug("request framed", "seq", s.seq, "bytes", len(msg), "queued", len(s.pending))

	go call(s.ctx, s.responder, s.timeout, s.history.Turns(), s.seq, s.replies)
}

// call runs one responder request and posts its outcome. Nothing is posted
// once ctx is done.
func call(ctx context.Context, r responder.Responder, timeout time.Duration, turns []responder.Turn, seq uint64, out chan<- Reply) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := r.Respond(callCtx, turns)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("responder timed out after %s", timeout)
	}
	select {
	case out <- Reply{Text: text, Err: err, seq: seq}:
	case <-ctx.Done():
	}
}

// checkWriter finishes the session once the writer has let go of the
// socket, either after the final flush or because a write failed.
func (s *Session) checkWriter() {
	if s.writer.Closed() && s.state != StateClosed {
		s.finish("writer closed")
	}
}

func (s *Session) finish(reason string) {
	s.state = StateClosed
	s.pending = nil
	s.cancel()
	s.emit(EventClose, s.seq, reason)
	s.logger.Debug("connection closed", "reason", reason, "requests", s.seq)
}

func (s *Session) emit(kind EventKind, seq uint64, content string) {
	s.sink.Record(Event{
		ConnID:  s.id,
		Peer:    s.peer,
		Kind:    kind,
		Seq:     seq,
		Content: content,
		At:      time.Now().UTC(),
	})
}
