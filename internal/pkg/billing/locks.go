package billing

import "sync"

// keyedMutex serializes work per string key. The customer-keyed instance
// guards the compare-and-write half of a reconciliation pass; the user-keyed
// instance guards first-time customer creation. Entries are kept for the
// process lifetime, which is bounded by the number of distinct customers.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
