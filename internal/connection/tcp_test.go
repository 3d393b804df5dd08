package connection

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestTCPSocketBackpressure(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	s := NewTCPSocket(server, 8)
	defer s.Destroy()

	payload := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	w := NewResponseWriter(s, nil)
	w.Enqueue(payload)
	w.Flush()

	if w.Pending() != len(payload)-8 {
		t.Fatalf("Pending = %d, want %d", w.Pending(), len(payload)-8)
	}

	got := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(client)
		got <- data
	}()

	deadline := time.After(5 * time.Second)
	for w.Pending() > 0 {
		select {
		case <-s.Writable():
			w.OnWritable()
		case <-deadline:
			t.Fatalf("stuck with %d bytes pending", w.Pending())
		}
	}
	w.SetCloseIntent()
	w.Flush()

	select {
	case data := <-got:
		if !bytes.Equal(data, payload) {
			t.Fatalf("peer got %q, want %q", data, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("peer never saw EOF")
	}
}

func TestTCPSocketWriteAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go io.Copy(io.Discard, client)

	s := NewTCPSocket(server, 0)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write after Close err = %v, want ErrClosed", err)
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("writer goroutine did not exit")
	}
}

func TestTCPSocketDestroyUnblocksWriter(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	s := NewTCPSocket(server, 4)
	if n, err := s.Write([]byte("abcd")); n != 4 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	// Nobody reads client, so the writer goroutine is stuck in conn.Write.
	_ = s.Destroy()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("writer goroutine did not exit after Destroy")
	}
	if _, err := s.Write([]byte("e")); err == nil {
		t.Fatal("Write after Destroy succeeded")
	}
}

func TestTCPSocketReadLoop(t *testing.T) {
	client, server := net.Pipe()
	s := NewTCPSocket(server, 0)
	defer s.Destroy()

	chunks := s.ReadLoop(4)
	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
		client.Close()
	}()

	var got bytes.Buffer
	for chunk := range chunks {
		if len(chunk) > 4 {
			t.Fatalf("chunk of %d bytes exceeds read size", len(chunk))
		}
		got.Write(chunk)
	}
	if got.String() != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("read %q", got.String())
	}
}
