// Package olc implements the version lock used by optimistic lock coupling.
//
// A Lock is a single 64-bit word. Bit 0 marks the owner as obsolete, bit 1
// marks it write-locked and the remaining bits count completed write
// sections. Readers never write the word: they remember the version they
// saw and validate it later. Writers upgrade a previously read version with
// a compare-and-swap, so a writer also detects any change made since its
// own optimistic read.
package olc

import "sync/atomic"

const (
	obsoleteBit = 0b01
	lockedBit   = 0b10
)

// Lock is an optimistic version lock. The zero value is unlocked.
type Lock struct {
	word atomic.Uint64
}

// IsLocked reports whether v was taken while a writer held the lock.
func IsLocked(v uint64) bool { return v&lockedBit == lockedBit }

// IsObsolete reports whether v belongs to an unlinked owner.
func IsObsolete(v uint64) bool { return v&obsoleteBit == obsoleteBit }

// Version returns the raw lock word.
func (l *Lock) Version() uint64 { return l.word.Load() }

// ReadLock returns the current version. ok is false when the lock is held
// by a writer or the owner is obsolete; the caller must restart.
func (l *Lock) ReadLock() (v uint64, ok bool) {
	v = l.word.Load()
	if IsLocked(v) || IsObsolete(v) {
		return v, false
	}
	return v, true
}

// Check reports whether the lock still carries version v. Every optimistic
// read must be followed by a successful Check before its result is used.
func (l *Lock) Check(v uint64) bool {
	return l.word.Load() == v
}

// Upgrade turns a read of version v into a write lock. It fails when the
// version moved on or another writer got there first.
func (l *Lock) Upgrade(v uint64) bool {
	return l.word.CompareAndSwap(v, v+lockedBit)
}

// WriteLock makes a single attempt to take the write lock.
func (l *Lock) WriteLock() bool {
	v, ok := l.ReadLock()
	if !ok {
		return false
	}
	return l.Upgrade(v)
}

// WriteUnlock releases the write lock and publishes a new version.
func (l *Lock) WriteUnlock() {
	l.word.Add(lockedBit)
}

// WriteUnlockObsolete releases the write lock and marks the owner obsolete.
// An obsolete lock never becomes readable again.
func (l *Lock) WriteUnlockObsolete() {
	l.word.Add(lockedBit | obsoleteBit)
}

// Recycle prepares the lock of a reclaimed owner for reuse. The version
// keeps counting upward so a stale reader can never validate against it.
func (l *Lock) Recycle() {
	v := l.word.Load()
	l.word.Store((v &^ (lockedBit | obsoleteBit)) + 4)
}
