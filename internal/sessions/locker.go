package sessions

import "sync"

// keyLock is a ref-counted mutex for one session key. Entries are removed
// from the locker map once no goroutine holds or waits on them.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Locker serializes operations per session key. Operations on different keys
// proceed in parallel.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// NewLocker creates an empty per-key locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock acquires the lock for key and returns the release function.
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &keyLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
