package channel

import (
	"sync"

	"github.com/pinkfuwa/llumen-go/chat/mergeable"
)

// ItemPtr is the generics constraint tying a value type T to the pointer
// receiver its Merge/Slice methods are defined on (Token.Merge/Slice mutate
// through *Token).
type ItemPtr[T any] interface {
	*T
	mergeable.Item[T]
}

// inner is the per-chat state shared by exactly one publisher and any
// number of subscribers. Context.Publish reuses the chat id's live inner if
// one is registered and installs a fresh one otherwise. When a publisher
// closes, its inner's closed channel is closed and the inner is dropped from
// the registry; its buffer is left as it is, so lagging subscribers can drain
// it before they move on at Cursor{} to the next generation.
type inner[T any, PT ItemPtr[T]] struct {
	mu     sync.Mutex
	buffer []T

	changed  *signal       // fires on every publish, merged or not
	closed   chan struct{} // closed when the publisher drops
	halt     chan struct{} // closed when Context.Stop is called
	haltOnce sync.Once     // guards closing halt against concurrent Stop calls

	senderMu sync.Mutex
	taken    bool // true once a Publisher has been handed out for this generation
}

func newInner[T any, PT ItemPtr[T]]() *inner[T, PT] {
	return &inner[T, PT]{
		changed: newSignal(),
		closed:  make(chan struct{}),
		halt:    make(chan struct{}),
	}
}

// advanceCursor walks cursor forward through buffer, returning the next
// non-empty slice if one is available. It mirrors the recursive Rust
// advance_cursor: exhausted items are skipped transparently, and an
// unrepresentable slice (Slice returning ok=false) also causes a skip rather
// than a stall.
func advanceCursor[T any, PT ItemPtr[T]](cursor *Cursor, buffer []T) (T, bool) {
	for {
		if cursor.Index >= len(buffer) {
			var zero T
			return zero, false
		}

		item := PT(&buffer[cursor.Index])
		length := item.Len()

		if cursor.Offset == length {
			if cursor.Index+1 < len(buffer) {
				cursor.Index++
				cursor.Offset = 0
				continue
			}
			var zero T
			return zero, false
		}

		offset := cursor.Offset
		cursor.Offset = length

		if sliced, ok := item.Slice(offset, length); ok {
			return sliced, true
		}

		if cursor.Index+1 < len(buffer) {
			cursor.Index++
			cursor.Offset = 0
			continue
		}
		var zero T
		return zero, false
	}
}

// bufferExhausted reports whether cursor has nothing left to read in buffer
// as it stands right now (used only after the closed channel fires, to
// decide between "truly done" and "one last item arrived concurrently").
func bufferExhausted[T any, PT ItemPtr[T]](cursor *Cursor, buffer []T) bool {
	if cursor.Index >= len(buffer) {
		return true
	}
	if cursor.Index == len(buffer)-1 {
		item := PT(&buffer[cursor.Index])
		return cursor.Offset >= item.Len()
	}
	return false
}
