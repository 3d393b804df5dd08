package connection

import (
	"net"
	"sync"
	"time"
)

// DefaultWriteBuffer is the number of bytes a TCPSocket accepts before it
// pushes back.
const DefaultWriteBuffer = 64 * 1024

// DefaultLinger bounds how long a closing socket waits for the peer to take
// the remaining bytes.
const DefaultLinger = 5 * time.Second

// TCPSocket adapts a blocking net.Conn to the non-blocking Socket contract.
// Accepted bytes sit in a bounded buffer that a writer goroutine copies to
// the connection. When a Write was refused or short, a single signal is sent
// on Writable once the buffer has drained.
type TCPSocket struct {
	conn   net.Conn
	limit  int
	linger time.Duration

	mu       sync.Mutex
	buf      []byte // accepted, not yet handed to conn.Write
	inflight int    // bytes inside the current conn.Write
	blocked  bool   // a Write was short since the last drain
	closing  bool
	err      error

	kick     chan struct{}
	writable chan struct{}
	quit     chan struct{}
	done     chan struct{}

	destroyOnce sync.Once
}

// NewTCPSocket wraps conn. limit is the write buffer capacity in bytes; zero
// or negative uses DefaultWriteBuffer.
func NewTCPSocket(conn net.Conn, limit int) *TCPSocket {
	if limit <= 0 {
		limit = DefaultWriteBuffer
	}
	s := &TCPSocket{
		conn:     conn,
		limit:    limit,
		linger:   DefaultLinger,
		kick:     make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Write accepts as much of p as fits in the write buffer. It never blocks.
func (s *TCPSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return 0, err
	}
	if s.closing {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	n := len(p)
	if room := s.limit - len(s.buf) - s.inflight; n > room {
		n = max(room, 0)
		s.blocked = true
	}
	s.buf = append(s.buf, p[:n]...)
	s.mu.Unlock()

	if n > 0 {
		s.wake()
	}
	return n, nil
}

// Writable fires after a short Write once the socket can accept more.
func (s *TCPSocket) Writable() <-chan struct{} { return s.writable }

// Done is closed when the writer goroutine has exited.
func (s *TCPSocket) Done() <-chan struct{} { return s.done }

// Close stops accepting writes, sends what was already accepted and then
// shuts down the write side. Peers that stop reading get DefaultLinger to
// take the rest.
func (s *TCPSocket) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.linger))
	s.wake()
	return nil
}

// Destroy closes the connection immediately, discarding unsent bytes.
func (s *TCPSocket) Destroy() error {
	var err error
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		if s.err == nil {
			s.err = ErrClosed
		}
		s.mu.Unlock()
		close(s.quit)
		err = s.conn.Close()
		s.wake()
	})
	return err
}

// ReadLoop starts reading from the connection and returns a channel of
// inbound chunks. The channel is closed when the peer ends the stream, a
// read fails, or the socket is destroyed.
func (s *TCPSocket) ReadLoop(size int) <-chan []byte {
	if size <= 0 {
		size = 32 * 1024
	}
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		buf := make([]byte, size)
		for {
			n, err := s.conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case ch <- chunk:
				case <-s.quit:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// RemoteAddr returns the peer address.
func (s *TCPSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *TCPSocket) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *TCPSocket) notifyWritable() {
	select {
	case s.writable <- struct{}{}:
	default:
	}
}

func (s *TCPSocket) writeLoop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.buf) == 0 && !s.closing && s.err == nil {
			s.mu.Unlock()
			<-s.kick
			s.mu.Lock()
		}
		if s.err != nil {
			s.mu.Unlock()
			return
		}
		if len(s.buf) == 0 {
			// Closing and fully drained.
			s.mu.Unlock()
			s.shutdown()
			return
		}
		chunk := s.buf
		s.buf = nil
		s.inflight = len(chunk)
		s.mu.Unlock()

		_, err := s.conn.Write(chunk)

		s.mu.Lock()
		s.inflight = 0
		if err != nil {
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
			_ = s.conn.Close()
			// Wake a writer waiting for drain so it observes the error.
			s.notifyWritable()
			return
		}
		drained := s.blocked && len(s.buf) == 0
		if drained {
			s.blocked = false
		}
		s.mu.Unlock()
		if drained {
			s.notifyWritable()
		}
	}
}

// shutdown half-closes TCP connections so the peer sees EOF after the last
// byte; reads stop after the linger deadline. Other conns are closed.
func (s *TCPSocket) shutdown() {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := s.conn.(closeWriter); ok {
		if err := cw.CloseWrite(); err == nil {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.linger))
			return
		}
	}
	_ = s.conn.Close()
}
