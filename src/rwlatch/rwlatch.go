// Package rwlatch provides a read-update-write latch that keeps its whole
// state in a single 32-bit word: an exclusive writer bit, a pending-writer
// bit, an update-lock bit and a shared-reader count. An update lock coexists
// with readers but excludes other updaters and writers; it can be upgraded
// to a write lock in place.
package rwlatch

import (
	"sync/atomic"

	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
)

const (
	// Available latch
	unlocked uint32 = 0
	// Flag to indicate that WriteTryLock() is being held
	writer uint32 = 1 << 31
	// Flag to indicate that a writer is waiting via WriteLockPoll()
	writerWaiting uint32 = 1 << 30
	// Flag to indicate that a write lock is held or pending
	writerPending uint32 = writer | writerWaiting
	// Flag to indicate that an update lock exists
	updater uint32 = 1 << 29
)

type Latch struct {
	word atomic.Uint32
}

// ReadTryLock tries to acquire a shared lock. prioritizeUpdater makes a
// reader ignore WriterWaiting while an updater holds the latch: the updater
// may still need to lend read access before it can upgrade, so stalling
// readers behind the pending writer would deadlock that path.
func (l *Latch) ReadTryLock(prioritizeUpdater bool) bool {
	w := unlocked
	for !l.word.CompareAndSwap(w, w+1) {
		w = l.word.Load()
		assert.Assert(w&writer == 0 || w&^writerPending == 0,
			"writer must not coexist with readers or updater: %#x", w)
		assert.Assert(w&^(writerPending|updater) < updater,
			"reader count overflow: %#x", w)
		if prioritizeUpdater {
			if w&writer != 0 || w&(writerWaiting|updater) == writerWaiting {
				return false
			}
		} else if w&writerPending != 0 {
			return false
		}
	}
	return true
}

// UpdateTryLock tries to acquire the update lock. It fails if a writer holds
// or awaits the latch, or another updater is present.
func (l *Latch) UpdateTryLock() bool {
	w := unlocked
	for !l.word.CompareAndSwap(w, w|updater) {
		w = l.word.Load()
		assert.Assert(w&writer == 0 || w&^writerPending == 0,
			"writer must not coexist with readers or updater: %#x", w)
		if w&(writerPending|updater) != 0 {
			return false
		}
	}
	return true
}

// WriteTryLock tries to acquire the exclusive lock in one step.
func (l *Latch) WriteTryLock() bool {
	return l.word.CompareAndSwap(unlocked, writer)
}

// UpgradeTryLock converts a held update lock into the exclusive lock. The
// upgrade succeeds only when no other bit than WriterWaiting accompanies
// the updater bit (i.e. all shared readers have drained).
func (l *Latch) UpgradeTryLock() bool {
	w := updater
	for !l.word.CompareAndSwap(w, w^(writer|updater)) {
		w = l.word.Load()
		assert.Assert(w&(writer|updater) == updater,
			"upgrade requires a held update lock: %#x", w)
		if w&^(writerWaiting|updater) != 0 {
			return false
		}
	}
	return true
}

// WriteLockWaitStart announces a pending exclusive request.
// Returns the latch word as it was before the flag was set.
func (l *Latch) WriteLockWaitStart() uint32 {
	return l.word.Or(writerWaiting)
}

// WriteLockPoll attempts to convert a pending exclusive request into a held
// one. If the pending flag is no longer set (another writer's poll consumed
// it), it is re-asserted.
func (l *Latch) WriteLockPoll() bool {
	if l.word.CompareAndSwap(writerWaiting, writer) {
		return true
	}
	if l.word.Load()&writerWaiting == 0 {
		l.WriteLockWaitStart()
	}
	return false
}

// ReadUnlock releases a shared lock.
// Returns whether any pending writer may have to be woken up.
func (l *Latch) ReadUnlock() bool {
	w := l.word.Add(^uint32(0))
	assert.Assert((w+1)&^(writerPending|updater) != 0, "no read lock was held: %#x", w+1)
	assert.Assert(w&writer == 0, "no write lock may coexist with readers: %#x", w)
	return w&^writerPending == 0
}

// UpdateUnlock releases the update lock.
func (l *Latch) UpdateUnlock() {
	w := l.word.And(^updater)
	assert.Assert(w&(writer|updater) == updater, "the update lock must have existed: %#x", w)
}

// WriteUnlock releases the exclusive lock.
func (l *Latch) WriteUnlock() {
	w := l.word.And(^writer)
	assert.Assert(w&(writer|updater) == writer, "the write lock must have existed: %#x", w)
}

func (l *Latch) IsWriteLocked() bool {
	return l.word.Load()&writer != 0
}

func (l *Latch) IsUpdateLocked() bool {
	return l.word.Load()&updater != 0
}

func (l *Latch) IsReadLocked() bool {
	w := l.word.Load()
	return w&^writerPending != 0 && w&writer == 0
}

// IsLockedOrWaiting reports whether any lock is held or waited for.
func (l *Latch) IsLockedOrWaiting() bool {
	return l.word.Load() != 0
}

// IsLocked reports whether any lock is held.
func (l *Latch) IsLocked() bool {
	return l.word.Load()&^writerWaiting != 0
}
