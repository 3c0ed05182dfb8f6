// Package event provides a typed publish/subscribe list.
package event

import "sync"

// Emitter delivers values of type T to every subscriber.
//
// Emit calls subscribers synchronously, in subscription order, on the
// caller's goroutine. The subscriber list is snapshotted before delivery so
// a subscriber may unsubscribe itself.
type Emitter[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
	ids  []int
}

// Subscribe registers fn and returns a function that removes it.
func (e *Emitter[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[int]func(T))
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	e.ids = append(e.ids, id)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.subs, id)
			for i, v := range e.ids {
				if v == id {
					e.ids = append(e.ids[:i], e.ids[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit delivers v to all current subscribers.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	fns := make([]func(T), 0, len(e.ids))
	for _, id := range e.ids {
		fns = append(fns, e.subs[id])
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of subscribers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ids)
}
