package channel

import "sync"

// Publisher is the single writer for one chat's generation. Exactly one
// Publisher can exist per chat id at a time (Context.Publish enforces this);
// the caller must call Close exactly once when the run ends (successfully,
// on error, or on halt) to release the buffer and wake every subscriber
// blocked in Recv.
type Publisher[T any, PT ItemPtr[T]] struct {
	in  *inner[T, PT]
	ctx *Context[T, PT]
	id  int64

	closeOnce sync.Once
}

func newPublisher[T any, PT ItemPtr[T]](in *inner[T, PT], ctx *Context[T, PT], id int64) *Publisher[T, PT] {
	return &Publisher[T, PT]{in: in, ctx: ctx, id: id}
}

// Publish appends item to the buffer, coalescing it into the last entry via
// Merge when possible, and wakes every subscriber waiting on a change.
func (p *Publisher[T, PT]) Publish(item T) {
	p.in.mu.Lock()
	if n := len(p.in.buffer); n > 0 {
		last := PT(&p.in.buffer[n-1])
		rest, hasRest := last.Merge(item)
		if !hasRest {
			p.in.mu.Unlock()
			p.in.changed.Notify()
			return
		}
		item = rest
	}
	p.in.buffer = append(p.in.buffer, item)
	p.in.mu.Unlock()

	p.in.changed.Notify()
}

// Halted reports whether Context.Stop has been called for this generation.
// Strategies poll this between tokens to stop producing promptly.
func (p *Publisher[T, PT]) Halted() bool {
	select {
	case <-p.in.halt:
		return true
	default:
		return false
	}
}

// HaltChan exposes the halt signal for use in a select alongside an upstream
// read, so a blocked upstream call can be abandoned as soon as Stop fires.
func (p *Publisher[T, PT]) HaltChan() <-chan struct{} {
	return p.in.halt
}

// Close releases the publish slot: it unblocks every subscriber currently
// waiting in Recv (they observe exhaustion against the final buffer), wakes
// anyone blocked in Context.Stop, and removes this generation from the
// registry so the next Publish call for this id starts fresh unless a
// subscriber is still rendezvousing on it. Idempotent.
func (p *Publisher[T, PT]) Close() {
	p.closeOnce.Do(func() {
		close(p.in.closed)
		p.ctx.remove(p.id, p.in)
	})
}
