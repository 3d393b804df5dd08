package protocol

import (
	"bytes"
	"strconv"
	"strings"
)

// Header is a single header field in the order it appeared.
type Header struct {
	Name  string
	Value string

	bare bool // line had no colon
}

// View is a structured view of an HTTP/1.1 message: the start line, the
// ordered header fields and the raw body. Only what is needed to delimit and
// length-correct a message is parsed.
type View struct {
	StartLine string
	Headers   []Header
	Body      []byte
	// Delimited is false when the input had no header/body delimiter. In
	// that case Headers and Body are empty and Raw holds the input.
	Delimited bool
	Raw       []byte
}

// ParseMessage tokenizes raw into a View. Header lines without a colon are
// kept verbatim so that re-serializing does not drop them.
func ParseMessage(raw []byte) *View {
	end := bytes.Index(raw, Delimiter)
	if end < 0 {
		return &View{Raw: raw}
	}
	v := &View{
		Delimited: true,
		Body:      raw[end+len(Delimiter):],
		Raw:       raw,
	}
	lines := strings.Split(string(raw[:end]), "\r\n")
	v.StartLine = lines[0]
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			v.Headers = append(v.Headers, Header{Name: line, bare: true})
			continue
		}
		v.Headers = append(v.Headers, Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return v
}

// Get returns the value of the first header matching name
// case-insensitively.
func (v *View) Get(name string) (string, bool) {
	for _, h := range v.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Set replaces the first header matching name and removes any duplicates.
// When no header matches, the field is appended.
func (v *View) Set(name, value string) {
	out := v.Headers[:0]
	found := false
	for _, h := range v.Headers {
		if !strings.EqualFold(h.Name, name) {
			out = append(out, h)
			continue
		}
		if found {
			continue
		}
		found = true
		out = append(out, Header{Name: h.Name, Value: value})
	}
	if !found {
		out = append(out, Header{Name: name, Value: value})
	}
	v.Headers = out
}

// HasToken reports whether any header named name carries token in its
// comma-separated value list, compared case-insensitively.
func (v *View) HasToken(name, token string) bool {
	for _, h := range v.Headers {
		if !strings.EqualFold(h.Name, name) {
			continue
		}
		for _, t := range strings.Split(h.Value, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}

// Bytes serializes the view. An undelimited view returns its raw input
// unchanged.
func (v *View) Bytes() []byte {
	if !v.Delimited {
		return v.Raw
	}
	var b bytes.Buffer
	b.Grow(len(v.StartLine) + 64*len(v.Headers) + len(v.Body) + len(Delimiter))
	b.WriteString(v.StartLine)
	b.WriteString("\r\n")
	for _, h := range v.Headers {
		b.WriteString(h.Name)
		if !h.bare {
			b.WriteString(": ")
			b.WriteString(h.Value)
		}
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(v.Body)
	return b.Bytes()
}

// Normalized is a responder reply ready for the socket.
type Normalized struct {
	Bytes []byte
	// Close is set when the connection must be closed once Bytes has been
	// flushed.
	Close bool
}

// NormalizeResponse rewrites a responder reply so that its Content-Length
// matches the body actually present, whatever the responder computed.
//
// A reply that carries "Connection: close" in any letter case asks for the
// connection to be closed after the write. A reply without a header/body
// delimiter is passed through byte for byte; the peer has no way to find
// its end other than the connection closing, so Close is set as well.
func NormalizeResponse(text string) Normalized {
	v := ParseMessage([]byte(text))
	if !v.Delimited {
		return Normalized{Bytes: v.Raw, Close: true}
	}
	v.Set("Content-Length", strconv.Itoa(len(v.Body)))
	return Normalized{
		Bytes: v.Bytes(),
		Close: v.HasToken("Connection", "close"),
	}
}

// ErrorResponse builds the 500 reply sent when the responder fails. The
// body is the error message and the connection is always closed.
func ErrorResponse(msg string) []byte {
	v := &View{
		Delimited: true,
		StartLine: "HTTP/1.1 500 Internal Server Error",
		Headers: []Header{
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
			{Name: "Content-Length", Value: strconv.Itoa(len(msg))},
			{Name: "Connection", Value: "close"},
		},
		Body: []byte(msg),
	}
	return v.Bytes()
}
