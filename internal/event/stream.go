package event

import "sync"

// Stream is a buffered channel view of the bus. Events that arrive while
// the buffer is full are dropped and counted, so a slow reader never blocks
// the publisher.
type Stream struct {
	bus  *Bus
	id   string
	ch   chan Event
	once sync.Once

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewStream subscribes a buffered stream to the bus. If filter is non-nil
// only events for which it returns true are delivered.
func NewStream(bus *Bus, buffer int, filter func(Event) bool) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	s := &Stream{bus: bus, ch: make(chan Event, buffer)}
	s.id = bus.SubscribeAll(func(e Event) {
		if filter != nil && !filter(e) {
			return
		}
		s.deliver(e)
	})
	return s
}

func (s *Stream) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped++
	}
}

// C returns the receive channel. It is closed by Close.
func (s *Stream) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes the stream and closes its channel. Safe to call twice.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.bus.Unsubscribe(s.id)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}
