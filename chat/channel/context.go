// Package channel implements the per-chat fan-out streaming primitive:
// exactly one Publisher, any number of Subscribers, a coalescing buffer, a
// resumable byte-offset Cursor, and cooperative halt.
package channel

import (
	"sync"
	"weak"

	"github.com/google/uuid"
)

// Context owns weak references to every chat's inner state, so a chat's
// buffer is reclaimed automatically once neither a publisher nor a
// subscriber holds it — no explicit deregistration call is needed beyond the
// map-entry removal Publisher.Close performs on its own id. This is the
// weak/strong split this package is built around: Context holds
// weak.Pointer, Publisher and Subscriber hold strong *inner.
type Context[T any, PT ItemPtr[T]] struct {
	mu  sync.Mutex
	gen map[int64]weak.Pointer[inner[T, PT]]
}

// NewContext creates an empty channel registry for one item type.
func NewContext[T any, PT ItemPtr[T]]() *Context[T, PT] {
	return &Context[T, PT]{gen: make(map[int64]weak.Pointer[inner[T, PT]])}
}

// getOrCreate returns the currently-registered inner for id, or installs and
// returns a fresh one if the map has no live entry. A "live" entry is one
// whose weak pointer still resolves — true for as long as any Publisher or
// Subscriber holds the strong *inner, even across the map-entry removal a
// Publisher performs on Close (a lagging subscriber keeps consuming from the
// orphaned generation until it drains).
func (c *Context[T, PT]) getOrCreate(id int64) *inner[T, PT] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.gen[id]; ok {
		if in := w.Value(); in != nil {
			return in
		}
	}
	in := newInner[T, PT]()
	c.gen[id] = weak.Make(in)
	return in
}

// Publishable reports whether id currently has no live publisher.
func (c *Context[T, PT]) Publishable(id int64) bool {
	in := c.getOrCreate(id)
	in.senderMu.Lock()
	defer in.senderMu.Unlock()
	return !in.taken
}

// Publish atomically takes the publish slot for id. It returns
// (nil, false) if a publisher is already alive for this chat id — the
// at-most-one-publisher-per-chat invariant.
//
// If a subscriber is already waiting on this id (it called Subscribe before
// any publisher existed), Publish rendezvous on that same inner rather than
// installing a new one, so the waiting subscriber sees this run's tokens
// without having to resubscribe.
func (c *Context[T, PT]) Publish(id int64) (*Publisher[T, PT], bool) {
	in := c.getOrCreate(id)

	in.senderMu.Lock()
	defer in.senderMu.Unlock()
	if in.taken {
		return nil, false
	}
	in.taken = true

	return newPublisher(in, c, id), true
}

// Stop requests the live publisher for id to halt and blocks until it has
// dropped (or returns immediately if there is none).
func (c *Context[T, PT]) Stop(id int64) {
	c.mu.Lock()
	w, ok := c.gen[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	in := w.Value()
	if in == nil {
		return
	}
	in.senderMu.Lock()
	taken := in.taken
	in.senderMu.Unlock()
	if !taken {
		return
	}

	closeHaltOnce(in)

	<-in.closed
}

// closeHaltOnce closes in.halt exactly once, tolerating concurrent Stop
// calls on the same generation — a select-default check isn't atomic across
// two goroutines racing to close the same channel, so this relies on
// sync.Once rather than the channel's own closed state.
func closeHaltOnce[T any, PT ItemPtr[T]](in *inner[T, PT]) {
	in.haltOnce.Do(func() { close(in.halt) })
}

// remove drops id's map entry if it still points at in. Called by
// Publisher.Close; a no-op if a newer generation has already replaced it.
func (c *Context[T, PT]) remove(id int64, in *inner[T, PT]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.gen[id]; ok {
		if cur := w.Value(); cur == in {
			delete(c.gen, id)
		}
	}
}

// Subscribe returns a Subscriber positioned at cursor (or Cursor{} if nil)
// for id. If the chat has never been published to, this creates the (empty)
// generation so the subscriber can wait for the first publish.
func (c *Context[T, PT]) Subscribe(id int64, cursor *Cursor) *Subscriber[T, PT] {
	in := c.getOrCreate(id)
	cur := Cursor{}
	if cursor != nil {
		cur = *cursor
	}
	return &Subscriber[T, PT]{ctx: c, id: id, in: in, cursor: cur, streamID: uuid.NewString()}
}
