package session

import "time"

// EventKind names a step in a connection's life.
type EventKind string

const (
	EventOpen     EventKind = "open"
	EventRequest  EventKind = "request"
	EventResponse EventKind = "response"
	EventError    EventKind = "error"
	EventClose    EventKind = "close"
)

// Event is a best-effort record of something that happened on a connection.
type Event struct {
	ConnID  string    `json:"conn_id"`
	Peer    string    `json:"peer"`
	Kind    EventKind `json:"kind"`
	Seq     uint64    `json:"seq,omitempty"`
	Content string    `json:"content,omitempty"`
	At      time.Time `json:"at"`
}

// Sink receives connection events. Record is called from the connection's
// event loop and must not block; implementations queue or drop, and never
// report failures back.
type Sink interface {
	Record(ev Event)
}

// Sinks fans an event out to several sinks.
type Sinks []Sink

// Record forwards ev to every non-nil sink.
func (ss Sinks) Record(ev Event) {
	for _, s := range ss {
		if s != nil {
			s.Record(ev)
		}
	}
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Record calls f.
func (f SinkFunc) Record(ev Event) { f(ev) }
