package client

import (
	"sync"

	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/protocol"
)

// Handler is a callback invoked for each dispatched frame of a subscribed
// type. Handlers must do cheap, synchronous state folding only: dispatch
// completes before the next frame is read from the transport.
type Handler func(*protocol.Frame)

// Subscription is a scoped handle returned by Bus.On. Cancel releases the
// registration; it is safe to call more than once.
type Subscription struct {
	bus       *Bus
	frameType string
	id        int
}

// Cancel removes the subscription from the bus.
func (s *Subscription) Cancel() {
	if s.bus == nil {
		return
	}
	s.bus.cancel(s)
	s.bus = nil
}

type busEntry struct {
	id int
	fn Handler
}

// Bus demultiplexes inbound frames by their type discriminator into a
// publish/subscribe registry. Dispatch is synchronous and in registration
// order; a panicking handler does not prevent siblings from running.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]busEntry
	nextID   int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]busEntry)}
}

// On registers a handler for the given frame type and returns its
// subscription handle. Registering the same function twice yields two
// independent subscriptions; callers should not double-register.
func (b *Bus) On(frameType string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[frameType] = append(b.handlers[frameType], busEntry{id: id, fn: fn})
	return &Subscription{bus: b, frameType: frameType, id: id}
}

func (b *Bus) cancel(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[s.frameType]
	for i, e := range entries {
		if e.id == s.id {
			b.handlers[s.frameType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.handlers[s.frameType]) == 0 {
		delete(b.handlers, s.frameType)
	}
}

// Dispatch invokes every handler registered for the frame's type,
// synchronously, in registration order. A handler panic is recovered and
// logged so one bad consumer cannot break the shared stream.
func (b *Bus) Dispatch(frame *protocol.Frame) {
	b.mu.RLock()
	entries := b.handlers[frame.Type]
	snapshot := make([]busEntry, len(entries))
	copy(snapshot, entries)
	b.mu.RUnlock()

	for _, e := range snapshot {
		b.invoke(e, frame)
	}
}

func (b *Bus) invoke(e busEntry, frame *protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("bus: handler panic", "frame_type", frame.Type, "panic", r)
		}
	}()
	e.fn(frame)
}

// HandlerCount returns the number of handlers registered for a frame type.
func (b *Bus) HandlerCount(frameType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[frameType])
}
