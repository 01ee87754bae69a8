// Package progress carries workflow progress events from producers to
// whichever transport consumes them (SSE, CLI, tests).
package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	GenerationStart    = "generation.start"
	GenerationProgress = "generation.progress"
	GenerationComplete = "generation.complete"
	GenerationError    = "generation.error"
	PhaseEntered       = "phase.entered"
	CheckpointReady    = "checkpoint.ready"
	CheckpointResolved = "checkpoint.resolved"
	SessionRolledBack  = "session.rolled_back"
	SessionFailed      = "session.failed"
	CacheRefreshed     = "cache.refreshed"
)

// Event is one progress notification. An empty SessionID marks a global event.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

// Emitter accepts events. Emit must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) { f(e) }

// Nop discards events.
var Nop Emitter = EmitterFunc(func(Event) {})

// Stream is a buffered channel of events. Emit never blocks: when the
// buffer is full the event is dropped and counted.
type Stream struct {
	ch      chan Event
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewStream returns a stream buffering up to size events.
func NewStream(size int) *Stream {
	if size <= 0 {
		size = 256
	}
	return &Stream{ch: make(chan Event, size)}
}

// Emit enqueues e, stamping its time when unset.
func (s *Stream) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event { return s.ch }

// Dropped returns how many events were dropped on a full buffer.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting events and closes the channel. Safe to call twice.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Forward delivers every event of s to fn until ctx is done or s is closed.
func Forward(ctx context.Context, s *Stream, fn func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-s.Events():
			if !ok {
				return nil
			}
			fn(e)
		}
	}
}

// Session returns an emitter that stamps sessionID on every event.
func Session(e Emitter, sessionID string) Emitter {
	return EmitterFunc(func(ev Event) {
		if ev.SessionID == "" {
			ev.SessionID = sessionID
		}
		e.Emit(ev)
	})
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
