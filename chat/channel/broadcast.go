package channel

import "sync"

// signal is a single-slot "something changed" broadcaster: any number of
// goroutines can wait on Chan(), and a Notify() call wakes every waiter that
// was already watching by closing and replacing the channel. It mirrors the
// *event* semantics of tokio::sync::watch / Notify used by the original
// implementation — the value carried is irrelevant, only the wakeup is.
type signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

// Chan returns the channel to select on. It closes the next time Notify is
// called.
func (s *signal) Chan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Notify wakes every current waiter and arms a fresh channel for the next
// round.
func (s *signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}
