package protocol

import (
	"bytes"
	"strconv"
	"strings"
)

// Delimiter separates the header block of an HTTP/1.1 message from its body.
var Delimiter = []byte("\r\n\r\n")

// Message is one complete request as it arrived on the wire: the header
// block, the delimiter and exactly Content-Length body bytes.
type Message []byte

// String returns the raw message decoded as text.
func (m Message) String() string { return string(m) }

// Framer reassembles complete HTTP/1.1 request messages from a raw byte
// stream. It tolerates arbitrary fragmentation and coalescing: feeding a
// stream in any number of chunks yields the same messages in the same order
// as feeding it at once.
//
// A Framer is owned by a single connection and is not safe for concurrent
// use.
type Framer struct {
	buf []byte
}

// Feed appends chunk to the pending buffer. Complete messages are then
// available through Next. An empty chunk is a no-op.
func (f *Framer) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	f.buf = append(f.buf, chunk...)
}

// Next extracts the next complete message, if the buffer holds one. It
// returns false when more bytes are needed: no delimiter yet, or fewer body
// bytes than the declared Content-Length.
//
// Bytes following a message without a Content-Length header are never
// discarded; they are the beginning of the next message.
func (f *Framer) Next() (Message, bool) {
	end := bytes.Index(f.buf, Delimiter)
	if end < 0 {
		return nil, false
	}
	bodyStart := end + len(Delimiter)
	length := declaredLength(f.buf[:end])
	if len(f.buf)-bodyStart < length {
		return nil, false
	}

	total := bodyStart + length
	msg := make(Message, total)
	copy(msg, f.buf[:total])

	// Shift the remainder down so the buffer does not pin consumed bytes.
	rest := copy(f.buf, f.buf[total:])
	f.buf = f.buf[:rest]
	return msg, true
}

// Drain extracts every complete message currently buffered, in arrival
// order.
func (f *Framer) Drain() []Message {
	var out []Message
	for {
		msg, ok := f.Next()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

// FeedAll is Feed followed by Drain.
func (f *Framer) FeedAll(chunk []byte) []Message {
	f.Feed(chunk)
	return f.Drain()
}

// Buffered reports how many received bytes have not yet been extracted.
func (f *Framer) Buffered() int { return len(f.buf) }

// declaredLength returns the Content-Length of a header block. A missing,
// malformed or negative value counts as zero.
func declaredLength(header []byte) int {
	for _, line := range strings.Split(string(header), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}
