package locks

import "sync"

// KeyedMutex hands out one mutex per key. Entries are never evicted; the
// key space is bounded by the number of known users.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for key, creating it if needed.
func (k *KeyedMutex) Get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	k.locks[key] = l
	return l
}

// Lock locks key and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	l := k.Get(key)
	l.Lock()
	return l.Unlock
}
