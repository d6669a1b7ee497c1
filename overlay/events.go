package overlay

import "sync/atomic"

// AnimationEvent is a renderer-side notification (an animation
// finished, a transition was cut short) surfaced to the controller's
// owner.
type AnimationEvent struct {
	EntityID string
	Name     string
}

// Events is the controller-owned animation event channel. The renderer
// holds only an EventSink, a publish handle, never a reference back
// into the controller, so no reference cycle forms between them.
type Events struct {
	ch      chan AnimationEvent
	dropped atomic.Uint64
}

func newEvents(buffer int) *Events {
	if buffer <= 0 {
		buffer = 64
	}
	return &Events{ch: make(chan AnimationEvent, buffer)}
}

// C returns the receive side of the channel.
func (e *Events) C() <-chan AnimationEvent {
	return e.ch
}

// Dropped returns how many events were discarded because the buffer
// was full.
func (e *Events) Dropped() uint64 {
	return e.dropped.Load()
}

// Sink returns the publish handle handed to renderers.
func (e *Events) Sink() EventSink {
	return EventSink{events: e}
}

// EventSink publishes animation events without blocking. When the
// buffer is full the event is dropped and counted; renderers must
// never stall on a slow consumer.
type EventSink struct {
	events *Events
}

// Publish enqueues an event, reporting whether it was accepted.
func (s EventSink) Publish(ev AnimationEvent) bool {
	if s.events == nil {
		return false
	}
	select {
	case s.events.ch <- ev:
		return true
	default:
		s.events.dropped.Add(1)
		return false
	}
}
