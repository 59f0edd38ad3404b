// Package live holds observable values: a current value plus subscribers that
// are told about every distinct change.
package live

import (
	"context"
	"sync"
)

// Value is a concurrency-safe observable. Subscribers first receive the current
// value (if any) and then each distinct update. A slow subscriber only ever
// sees the latest value.
type Value[T any] struct {
	equal func(a, b T) bool

	mu   sync.Mutex
	val  T
	set  bool
	subs map[chan T]struct{}
}

// New returns an empty value. equal decides which updates are distinct; nil
// treats every update as distinct.
func New[T any](equal func(a, b T) bool) *Value[T] {
	return &Value[T]{
		equal: equal,
		subs:  make(map[chan T]struct{}),
	}
}

// Set stores x and notifies subscribers. It reports whether x was distinct
// from the previous value.
func (v *Value[T]) Set(x T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.set && v.equal != nil && v.equal(v.val, x) {
		return false
	}
	v.val = x
	v.set = true
	for ch := range v.subs {
		offer(ch, x)
	}
	return true
}

// Get returns the current value and whether one has been set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val, v.set
}

// Subscribe returns a channel of updates closed when ctx ends.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	v.mu.Lock()
	if v.set {
		ch <- v.val
	}
	v.subs[ch] = struct{}{}
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		delete(v.subs, ch)
		close(ch)
		v.mu.Unlock()
	}()
	return ch
}

// offer replaces any unread value in ch with x.
func offer[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- x:
	default:
	}
}
