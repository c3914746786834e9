// Package progress carries pipeline progress to whichever transport the
// caller chose (SSE, websocket, CLI).
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/satriahrh/narrasi/domain/entities"
)

// EventType tags an Event
type EventType string

const (
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// Event is one message on the progress channel. Heartbeats carry nothing
// but their type.
type Event struct {
	Type    EventType                 `json:"type"`
	Percent float64                   `json:"percent,omitempty"`
	Message string                    `json:"message,omitempty"`
	Result  *entities.VoiceoverResult `json:"result,omitempty"`
}

// Terminal reports whether e ends the stream
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Emitter receives events
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(e Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard Emitter = EmitterFunc(func(Event) {})

// Tee forwards each event to every emitter in order
type Tee []Emitter

func (t Tee) Emit(e Event) {
	for _, em := range t {
		em.Emit(e)
	}
}

// Stream is a channel backed Emitter. The producer calls Close when done;
// a consumer that stops reading calls Abandon so the producer never
// blocks on a reader that is gone.
type Stream struct {
	ch          chan Event
	abandoned   chan struct{}
	closeOnce   sync.Once
	abandonOnce sync.Once
}

// NewStream creates a stream with the given buffer
func NewStream(buffer int) *Stream {
	return &Stream{
		ch:        make(chan Event, buffer),
		abandoned: make(chan struct{}),
	}
}

// Emit blocks until the event is buffered or the stream is abandoned
func (s *Stream) Emit(e Event) {
	select {
	case s.ch <- e:
	case <-s.abandoned:
	}
}

// Events returns the receive side of the stream
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Only the producer may call it.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Abandon releases a producer blocked in Emit
func (s *Stream) Abandon() {
	s.abandonOnce.Do(func() { close(s.abandoned) })
}

// WithHeartbeat forwards events from in and injects a heartbeat every
// interval. The returned channel closes after in closes or ctx is done.
func WithHeartbeat(ctx context.Context, in <-chan Event, interval time.Duration) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		var tick <-chan time.Time
		if interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			case <-tick:
				select {
				case out <- Event{Type: EventHeartbeat}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Pipe runs fn on its own goroutine with a Stream as its emitter and
// returns fn's events with heartbeats injected. The channel closes after
// fn returns and its events are drained, or when ctx is done, in which
// case fn's remaining events are dropped.
func Pipe(ctx context.Context, buffer int, heartbeat time.Duration, fn func(Emitter)) <-chan Event {
	stream := NewStream(buffer)
	stop := context.AfterFunc(ctx, stream.Abandon)
	go func() {
		defer stream.Close()
		defer stop()
		fn(stream)
	}()
	return WithHeartbeat(ctx, stream.Events(), heartbeat)
}
