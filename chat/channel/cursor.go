package channel

// Cursor tracks a subscriber's position in a channel's buffer: which item,
// and how many of that item's addressable bytes have already been delivered.
//
// Offset is measured within the item at Index and restarts at 0 for each
// item. A Cursor is relative to one buffer generation; Subscriber.Recv
// resets it to Cursor{} when it moves to a new generation.
type Cursor struct {
	Index  int
	Offset int
}
