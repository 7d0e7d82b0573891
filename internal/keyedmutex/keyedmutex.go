// Package keyedmutex provides reference-counted mutual exclusion scoped
// to an arbitrary key, so unrelated keys never contend and an unused key
// leaves nothing behind.
package keyedmutex

import "sync"

// entry is one key's binary semaphore plus its outstanding-waiter count.
// The token channel holds at most one value: empty means held, one value
// buffered means free.
type entry struct {
	token   chan struct{}
	waiters int
}

// KeyedMutex maps a key to a lock whose lifetime is tied to the number of
// goroutines currently acquiring or holding it.
type KeyedMutex struct {
	guard   sync.Mutex
	entries map[any]*entry
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[any]*entry)}
}

// Lock acquires the lock for k, blocking until it is free.
func (m *KeyedMutex) Lock(k any) {
	e := m.ref(k)
	<-e.token
}

// Unlock releases the lock for k. Unlocking a key that is not held is a
// silent no-op.
func (m *KeyedMutex) Unlock(k any) {
	m.guard.Lock()
	e, ok := m.entries[k]
	if !ok {
		m.guard.Unlock()
		return
	}
	e.waiters--
	last := e.waiters == 0
	if last {
		delete(m.entries, k)
	}
	m.guard.Unlock()

	select {
	case e.token <- struct{}{}:
	default:
		// Already free; nothing to signal.
	}
}

// ref returns the entry for k, creating it (pre-loaded as free) if absent,
// and records one more waiter under the global guard before releasing it
// so Lock's blocking wait happens outside the critical section.
func (m *KeyedMutex) ref(k any) *entry {
	m.guard.Lock()
	defer m.guard.Unlock()

	e, ok := m.entries[k]
	if !ok {
		e = &entry{token: make(chan struct{}, 1)}
		e.token <- struct{}{} // starts free
		m.entries[k] = e
	}
	e.waiters++
	return e
}

// Len reports the number of keys with at least one outstanding
// acquire/hold. Intended for tests asserting the "unused keys are
// reclaimed" invariant.
func (m *KeyedMutex) Len() int {
	m.guard.Lock()
	defer m.guard.Unlock()
	return len(m.entries)
}
