package store

import (
	"context"
	"sync"
)

// Subscription is a cancellable stream of snapshots.
//
// Every snapshot is a full state, so a slow reader only ever sees the latest
// one: an undelivered snapshot is replaced rather than queued.
type Subscription[T any] struct {
	updates chan T
	done    chan struct{}

	mu     sync.Mutex
	closed bool
	onStop func()
}

func newSubscription[T any](onStop func()) *Subscription[T] {
	return &Subscription[T]{
		updates: make(chan T, 1),
		done:    make(chan struct{}),
		onStop:  onStop,
	}
}

// Updates returns the snapshot channel. It is closed when the subscription ends.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Done is closed when the subscription ends.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Close ends the subscription and releases its listener. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	close(s.updates)
	onStop := s.onStop
	s.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}

// push delivers v, replacing any snapshot the reader has not taken yet.
func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- v:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- v:
	default:
	}
}

// closeOnDone ties the subscription lifetime to ctx.
func (s *Subscription[T]) closeOnDone(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

// Transform maps a subscription into another snapshot type. Returning false
// from fn drops the snapshot. Closing the result closes src.
func Transform[S, T any](ctx context.Context, src *Subscription[S], fn func(S) (T, bool)) *Subscription[T] {
	out := newSubscription[T](src.Close)
	go func() {
		defer out.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-out.done:
				return
			case v, ok := <-src.Updates():
				if !ok {
					return
				}
				if mapped, keep := fn(v); keep {
					out.push(mapped)
				}
			}
		}
	}()
	return out
}
