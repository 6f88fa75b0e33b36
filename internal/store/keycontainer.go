package store

import (
	"sync"
	"time"

	"github.com/desertbit/timer"
	"github.com/seesee/jottery/internal/apperr"
	jcrypto "github.com/seesee/jottery/internal/crypto"
)

// keyContainer guards the master key behind a mutex, zeroes it on
// clear, and enforces an auto-lock timeout from last user activity
// (original_source/tui/src/crypto/key_manager.rs). It is the only
// process-wide mutable secret per spec.md §5.
type keyContainer struct {
	mu               sync.Mutex
	key              []byte
	derivedAt        time.Time
	lastActivity     time.Time
	autoLockDuration time.Duration // 0 disables auto-lock
	lockTimer        *timer.Timer
	onAutoLock       func()
}

func newKeyContainer() *keyContainer {
	return &keyContainer{}
}

// setAutoLockCallback registers the callback invoked (without k.mu
// held) when the background timer auto-locks the container.
func (k *keyContainer) setAutoLockCallback(cb func()) {
	k.mu.Lock()
	k.onAutoLock = cb
	k.mu.Unlock()
}

// set installs key as the current master key and records the time of
// derivation as the first activity timestamp.
func (k *keyContainer) set(key []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.clearLocked()
	k.key = key
	k.derivedAt = time.Now()
	k.lastActivity = k.derivedAt
	k.armTimerLocked()
}

// get returns a copy of the current master key, or KindKeyRequired if
// the container is locked or the auto-lock timeout has elapsed.
func (k *keyContainer) get() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key == nil {
		return nil, apperr.New(apperr.KindKeyRequired, "store is locked")
	}
	if k.expiredLocked() {
		k.clearLocked()
		return nil, apperr.New(apperr.KindKeyRequired, "store auto-locked")
	}

	cp := make([]byte, len(k.key))
	copy(cp, k.key)
	return cp, nil
}

// clear zeroes and discards the master key.
func (k *keyContainer) clear() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.clearLocked()
}

func (k *keyContainer) clearLocked() {
	if k.key != nil {
		jcrypto.ZeroBytes(k.key)
		k.key = nil
	}
	if k.lockTimer != nil {
		k.lockTimer.Stop()
		k.lockTimer = nil
	}
}

// isLocked reports whether the container currently holds no key
// (without checking expiry — use get() to also enforce auto-lock).
func (k *keyContainer) isLocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.key == nil
}

// registerActivity resets the auto-lock timer from the current moment.
func (k *keyContainer) registerActivity() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == nil {
		return
	}
	k.lastActivity = time.Now()
	k.armTimerLocked()
}

// setAutoLock sets the auto-lock duration in minutes; 0 disables it.
func (k *keyContainer) setAutoLock(minutes int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if minutes <= 0 {
		k.autoLockDuration = 0
		if k.lockTimer != nil {
			k.lockTimer.Stop()
			k.lockTimer = nil
		}
		return
	}
	k.autoLockDuration = time.Duration(minutes) * time.Minute
	k.armTimerLocked()
}

// timeUntilLock returns the time remaining before auto-lock fires, and
// false if auto-lock is disabled or the container is already locked.
func (k *keyContainer) timeUntilLock() (time.Duration, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == nil || k.autoLockDuration == 0 {
		return 0, false
	}
	remaining := k.autoLockDuration - time.Since(k.lastActivity)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// shouldLock reports whether the auto-lock timeout has elapsed.
func (k *keyContainer) shouldLock() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.expiredLocked()
}

func (k *keyContainer) expiredLocked() bool {
	if k.autoLockDuration == 0 {
		return false
	}
	return time.Since(k.lastActivity) >= k.autoLockDuration
}

// armTimerLocked (re)starts the background timer that clears the key
// when the auto-lock duration elapses with no further activity. Callers
// must hold k.mu.
func (k *keyContainer) armTimerLocked() {
	if k.lockTimer != nil {
		k.lockTimer.Stop()
		k.lockTimer = nil
	}
	if k.autoLockDuration == 0 || k.key == nil {
		return
	}
	k.lockTimer = timer.NewTimer(k.autoLockDuration)
	t := k.lockTimer
	go func() {
		<-t.C
		k.mu.Lock()
		locked := k.expiredLocked()
		if locked {
			k.clearLocked()
		}
		cb := k.onAutoLock
		k.mu.Unlock()
		if locked && cb != nil {
			cb()
		}
	}()
}
