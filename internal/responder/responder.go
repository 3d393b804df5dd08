// Package responder produces the text of HTTP responses. The server hands a
// responder the conversation so far, one turn per raw request and per raw
// response, and sends whatever text comes back after length correction.
package responder

import "context"

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleRequester Role = "user"
	RoleResponder Role = "assistant"
)

// Turn is one entry of a connection's conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Responder generates the next response for a conversation. The returned
// text is expected to look like an HTTP/1.1 response: status line, headers,
// blank line, body.
type Responder interface {
	Respond(ctx context.Context, turns []Turn) (string, error)
}

// Func adapts a plain function to the Responder interface.
type Func func(ctx context.Context, turns []Turn) (string, error)

// Respond calls f.
func (f Func) Respond(ctx context.Context, turns []Turn) (string, error) {
	return f(ctx, turns)
}
