package pipeline

import (
	"errors"
	"iter"
	"sync"
)

// ErrReceiverDropped is returned by Send once the receiving side is gone.
var ErrReceiverDropped = errors.New("receiver dropped")

type channel[T any] struct {
	items     chan Result[T]
	dropped   chan struct{}
	dropOnce  sync.Once
	closeOnce sync.Once
}

// Sender is the producing half of a Sync Channel.
type Sender[T any] struct {
	ch *channel[T]
}

// Receiver is the consuming half of a Sync Channel.
type Receiver[T any] struct {
	ch *channel[T]
}

// NewChannel creates a bounded FIFO of results holding at most capacity items.
func NewChannel[T any](capacity int) (*Sender[T], *Receiver[T]) {
	if capacity < 1 {
		panic("pipeline: channel capacity must be positive")
	}
	ch := &channel[T]{
		items:   make(chan Result[T], capacity),
		dropped: make(chan struct{}),
	}
	return &Sender[T]{ch: ch}, &Receiver[T]{ch: ch}
}

// Send enqueues item, blocking while the channel is full. It returns
// ErrReceiverDropped once the receiver has been dropped, and the caller must stop producing.
func (s *Sender[T]) Send(item Result[T]) error {
	select {
	case <-s.ch.dropped:
		return ErrReceiverDropped
	default:
	}
	select {
	case s.ch.items <- item:
		return nil
	case <-s.ch.dropped:
		return ErrReceiverDropped
	}
}

// Close ends the stream. Items already queued are still delivered.
func (s *Sender[T]) Close() {
	s.ch.closeOnce.Do(func() { close(s.ch.items) })
}

// Recv blocks until an item is available. ok is false once the stream is closed and drained.
func (r *Receiver[T]) Recv() (item Result[T], ok bool) {
	item, ok = <-r.ch.items
	return item, ok
}

// All yields received items until the stream ends or the loop breaks.
func (r *Receiver[T]) All() iter.Seq[Result[T]] {
	return func(yield func(Result[T]) bool) {
		for {
			item, ok := r.Recv()
			if !ok || !yield(item) {
				return
			}
		}
	}
}

// Drop tells the producer that nothing will be received anymore.
func (r *Receiver[T]) Drop() {
	r.ch.dropOnce.Do(func() { close(r.ch.dropped) })
}

// Len returns the number of queued items.
func (r *Receiver[T]) Len() int {
	return len(r.ch.items)
}
