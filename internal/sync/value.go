package sync

import "sync"

// Value guards a value that is read often and replaced occasionally, such as a credential shared between requests and
// a background refresh.
type Value[T any] struct {
	mu    sync.RWMutex
	value T
}

func NewValue[T any](value T) *Value[T] {
	return &Value[T]{value: value}
}

// Get returns a copy of the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
}
