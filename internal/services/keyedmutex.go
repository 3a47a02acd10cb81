package services

import "sync"

// keyedMutex serializes operations per key. The completion and redemption
// workflows both run a read-then-conditionally-write sequence that must not
// interleave for the same patient; locking on the patient (or patient+form)
// key avoids a global lock across unrelated patients.
//
// Locks are never evicted; the map grows with the patient population, which
// is bounded.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

func (k *keyedMutex) Lock(key string) {
	k.get(key).Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.get(key).Unlock()
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
