package session

import "github.com/codewiresh/httpllm/internal/responder"

// History is a connection's conversation, bounded to the most recent turns.
// The retained window always starts with a requester turn so that the
// responder sees alternating request/response pairs.
type History struct {
	limit int
	turns []responder.Turn
}

// NewHistory returns a history keeping at most limit turns. A limit of zero
// or less keeps everything.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append adds a turn and evicts the oldest ones beyond the limit.
func (h *History) Append(t responder.Turn) {
	h.turns = append(h.turns, t)
	if h.limit <= 0 || len(h.turns) <= h.limit {
		return
	}
	drop := len(h.turns) - h.limit
	for drop < len(h.turns) && h.turns[drop].Role != responder.RoleRequester {
		drop++
	}
	n := copy(h.turns, h.turns[drop:])
	clear(h.turns[n:])
	h.turns = h.turns[:n]
}

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []responder.Turn {
	out := make([]responder.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of retained turns.
func (h *History) Len() int { return len(h.turns) }
