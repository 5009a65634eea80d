package state

import (
	"sync"
	"time"
)

// keyLocks hands out one mutex per key.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLocks) lock(key string, timeout time.Duration) (UnlockFunc, error) {
	k.mu.Lock()
	lock, exists := k.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	if lock.TryLock() {
		return lock.Unlock, nil
	}

	done := make(chan struct{})
	go func() {
		lock.Lock()
		close(done)
	}()

	select {
	case <-done:
		return lock.Unlock, nil
	case <-time.After(timeout):
		// The waiter still acquires the lock eventually; hand it straight back.
		go func() {
			<-done
			lock.Unlock()
		}()
		return nil, ErrStateLocked
	}
}
