// Package events carries the outward, append-only stream of status text,
// screenshots and results that lets an operator follow a run live.
package events

import (
	"sync"
	"time"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindResult Kind = "generated_email"
	KindDone   Kind = "done"
)

// Draft is a generated subject/body pair.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Event is self-contained: sinks may receive events from many runs interleaved.
type Event struct {
	Kind    Kind      `json:"kind"`
	RunID   string    `json:"run_id,omitempty"`
	Time    time.Time `json:"ts"`
	Message string    `json:"message,omitempty"`
	// Data holds PNG bytes for image events.
	Data []byte `json:"data,omitempty"`
	// Artifact names the screenshot file Data was read from.
	Artifact string `json:"artifact,omitempty"`
	Draft    *Draft `json:"draft,omitempty"`
	// OK and Reason are set on done events.
	OK     bool   `json:"ok,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Text builds a text event.
func Text(runID, msg string) Event {
	return Event{Kind: KindText, RunID: runID, Time: time.Now(), Message: msg}
}

// Image builds an image event for a captured artifact.
func Image(runID, artifact string, png []byte) Event {
	return Event{Kind: KindImage, RunID: runID, Time: time.Now(), Artifact: artifact, Data: png}
}

// Result builds a generated-content event.
func Result(d Draft) Event {
	return Event{Kind: KindResult, Time: time.Now(), Draft: &d}
}

// Done builds the terminal event of a command.
func Done(runID string, ok bool, reason, msg string) Event {
	return Event{Kind: KindDone, RunID: runID, Time: time.Now(), OK: ok, Reason: reason, Message: msg}
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops everything.
var Discard Sink = SinkFunc(func(Event) {})

// Fanout emits to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Capture keeps every event in memory.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

func (c *Capture) Emit(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// Events returns a copy of what was captured.
func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Kind returns captured events of kind k.
func (c *Capture) Kind(k Kind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Messages returns the text of captured text events.
func (c *Capture) Messages() []string {
	var out []string
	for _, e := range c.Kind(KindText) {
		out = append(out, e.Message)
	}
	return out
}

// Filter forwards only events whose RunID matches.
type Filter struct {
	RunID string
	Next  Sink
}

func (f Filter) Emit(e Event) {
	if e.RunID == f.RunID {
		f.Next.Emit(e)
	}
}
