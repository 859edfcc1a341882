package sync

import "sync"

// Event is a one-shot flag that goroutines can wait on, similar to closing a channel but safe to set more than once.
type Event struct {
	once sync.Once
	ch   chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set marks the Event as happened, waking all waiters. Returns true only for the call that changed the state.
func (e *Event) Set() bool {
	changed := false
	e.once.Do(func() {
		close(e.ch)
		changed = true
	})
	return changed
}

func (e *Event) IsSet() bool {
	select {
	case <-e.ch:
		return true
	default:
		return false
	}
}

// Wait returns a channel that is closed once the Event is set.
func (e *Event) Wait() <-chan struct{} {
	return e.ch
}
