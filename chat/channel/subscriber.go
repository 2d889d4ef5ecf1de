package channel

import (
	"context"

	"github.com/google/uuid"
)

// Subscriber is one reader of a chat's token stream, positioned at a Cursor
// that survives reconnection across generations.
type Subscriber[T any, PT ItemPtr[T]] struct {
	ctx      *Context[T, PT]
	id       int64
	in       *inner[T, PT]
	cursor   Cursor
	streamID string
}

// Cursor returns the subscriber's current position, suitable for persisting
// across a dropped connection and passing back into Context.Subscribe.
func (s *Subscriber[T, PT]) Cursor() Cursor {
	return s.cursor
}

// StreamID is a per-connection correlation id, stable for this Subscriber's
// lifetime (including across the transparent resubscribe Recv performs on a
// generation rollover), for tagging logs and traces — not persisted and not
// the same thing as Cursor, which is what actually survives a reconnect.
func (s *Subscriber[T, PT]) StreamID() string {
	return s.streamID
}

// Recv returns the next item, blocking until one is available or ctx is
// cancelled (ok is then false). Once the publisher closes and this
// generation's buffer is drained, Recv moves to the chat id's current
// generation (creating an empty one if none is registered) at Cursor{} and
// keeps waiting there; it returns ok=false on close only if the registry
// still maps the id to the closed generation.
func (s *Subscriber[T, PT]) Recv(ctx context.Context) (T, bool) {
	for {
		s.in.mu.Lock()
		item, ok := advanceCursor[T, PT](&s.cursor, s.in.buffer)
		s.in.mu.Unlock()
		if ok {
			return item, true
		}

		changed := s.in.changed.Chan()

		select {
		case <-changed:
			continue

		case <-s.in.closed:
			s.in.mu.Lock()
			item, ok := advanceCursor[T, PT](&s.cursor, s.in.buffer)
			done := bufferExhausted[T, PT](&s.cursor, s.in.buffer)
			s.in.mu.Unlock()
			if ok {
				return item, true
			}
			if !done {
				continue
			}

			next := s.ctx.getOrCreate(s.id)
			if next == s.in {
				var zero T
				return zero, false
			}
			s.in = next
			s.cursor = Cursor{}
			continue

		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}
