package utils

import "time"

// TimedMutex is a mutual exclusion lock whose acquisition can be bounded by a timeout. The zero
// value is not usable; create one with NewTimedMutex.
type TimedMutex struct {
	sem chan struct{}
}

// NewTimedMutex returns an unlocked TimedMutex.
func NewTimedMutex() *TimedMutex {
	return &TimedMutex{sem: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is acquired.
func (m *TimedMutex) Lock() {
	m.sem <- struct{}{}
}

// TryLock acquires the mutex only if it is free right now.
func (m *TimedMutex) TryLock() bool {
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// TryLockFor waits at most timeout for the mutex. The uncontended path does not allocate a timer.
func (m *TimedMutex) TryLockFor(timeout time.Duration) bool {
	if m.TryLock() {
		return true
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics, as with sync.Mutex.
func (m *TimedMutex) Unlock() {
	select {
	case <-m.sem:
	default:
		panic("utils: unlock of unlocked TimedMutex")
	}
}
