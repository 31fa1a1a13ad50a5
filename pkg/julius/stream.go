package julius

import (
	"context"
	"sync"
)

// ResultStream is an unbounded FIFO shared by one producer and one consumer.
// Put never blocks.
type ResultStream struct {
	mu     sync.Mutex
	items  []Result
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// NewResultStream returns an empty stream.
func NewResultStream() *ResultStream {
	return &ResultStream{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Put appends r. It fails only after Close.
func (s *ResultStream) Put(r Result) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.items = append(s.items, r)
	s.mu.Unlock()
	s.signal()
	return nil
}

// TryGet removes and returns the oldest entry, if any.
func (s *ResultStream) TryGet() (Result, bool) {
	s.mu.Lock()
	if len(s.items) == 0 {
		s.mu.Unlock()
		return Result{}, false
	}
	r := s.items[0]
	s.items[0] = Result{}
	s.items = s.items[1:]
	remaining := len(s.items)
	s.mu.Unlock()
	if remaining > 0 {
		s.signal()
	}
	return r, true
}

// Get blocks until an entry is available, ctx ends, or the stream is closed
// and empty.
func (s *ResultStream) Get(ctx context.Context) (Result, error) {
	for {
		if r, ok := s.TryGet(); ok {
			return r, nil
		}
		select {
		case <-s.ready:
		case <-s.done:
			if r, ok := s.TryGet(); ok {
				return r, nil
			}
			return Result{}, ErrStreamClosed
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Drain removes and returns every queued entry.
func (s *ResultStream) Drain() []Result {
	s.mu.Lock()
	items := s.items
	s.items = nil
	s.mu.Unlock()
	select {
	case <-s.ready:
	default:
	}
	return items
}

// Ready fires when an entry may be available.
func (s *ResultStream) Ready() <-chan struct{} {
	return s.ready
}

// Len returns the number of queued entries.
func (s *ResultStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close rejects further Puts. Queued entries remain readable.
func (s *ResultStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *ResultStream) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
