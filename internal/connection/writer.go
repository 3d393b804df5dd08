package connection

import (
	"errors"
	"log/slog"
)

// ErrClosed is returned by a Socket that no longer accepts writes.
var ErrClosed = errors.New("socket closed")

// Socket is the write side of a transport. Write never blocks: it accepts as
// many bytes as the transport can take right now and reports how many. A
// return of n < len(p) with a nil error is backpressure, not a failure; the
// transport signals separately once it can accept more. Write must not
// retain p.
type Socket interface {
	Write(p []byte) (int, error)
	// Close ends the connection once every accepted byte has been sent.
	Close() error
	// Destroy closes the connection immediately.
	Destroy() error
}

// ResponseWriter queues response bytes for one connection and moves them to
// the socket as fast as the socket accepts them. Bytes handed to the socket
// are never offered twice; the queue always holds exactly the unsent
// remainder.
//
// A ResponseWriter is driven from the connection's event loop and is not
// safe for concurrent use.
type ResponseWriter struct {
	sock        Socket
	queue       []byte
	closeIntent bool
	closed      bool
	logger      *slog.Logger
}

// NewResponseWriter returns a writer for sock. A nil logger uses the default.
func NewResponseWriter(sock Socket, logger *slog.Logger) *ResponseWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseWriter{sock: sock, logger: logger}
}

// Enqueue appends p to the output queue. It does not write; call Flush.
func (w *ResponseWriter) Enqueue(p []byte) {
	if w.closed || len(p) == 0 {
		return
	}
	w.queue = append(w.queue, p...)
}

// SetCloseIntent asks for the socket to be closed once the queue is empty.
// Buffered bytes are never dropped.
func (w *ResponseWriter) SetCloseIntent() { w.closeIntent = true }

// CloseIntent reports whether a close has been requested.
func (w *ResponseWriter) CloseIntent() bool { return w.closeIntent }

// Flush offers the whole queue to the socket and keeps whatever it did not
// accept. When the queue is empty and a close was requested the socket is
// closed. Flush is idempotent: with nothing to send and no close pending it
// does nothing.
func (w *ResponseWriter) Flush() {
	if w.closed {
		return
	}
	if len(w.queue) > 0 {
		n, err := w.sock.Write(w.queue)
		if n > 0 {
			rest := copy(w.queue, w.queue[n:])
			w.queue = w.queue[:rest]
		}
		if err != nil {
			w.logger.Debug("socket write failed", "err", err, "dropped", len(w.queue))
			w.closed = true
			w.queue = nil
			_ = w.sock.Destroy()
			return
		}
	}
	if len(w.queue) == 0 && w.closeIntent {
		w.closed = true
		if err := w.sock.Close(); err != nil {
			w.logger.Debug("socket close failed", "err", err)
		}
	}
}

// OnWritable is called when the socket can accept more bytes. It resumes
// the deferred write.
func (w *ResponseWriter) OnWritable() { w.Flush() }

// Pending reports how many queued bytes have not been accepted yet.
func (w *ResponseWriter) Pending() int { return len(w.queue) }

// Closed reports whether the writer has closed (or lost) its socket.
func (w *ResponseWriter) Closed() bool { return w.closed }

// Abandon marks the writer closed without touching the socket. Used when
// the peer has already gone away.
func (w *ResponseWriter) Abandon() {
	w.closed = true
	w.queue = nil
}
