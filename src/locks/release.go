package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
)

// releaseYieldEvery bounds how long a committing transaction with a huge
// lock list monopolizes the latches.
const releaseYieldEvery = 1000

// cancelWaitingAndReleaseLocked cancels a waiting lock request, dequeues
// it and wakes the waiting transaction. Caller holds mu and waitMu. The
// path is reentrancy-safe: trx.lock.cancel marks the cancellation for code
// that may run while another thread holds the transaction's mutex.
func (s *System) cancelWaitingAndReleaseLocked(lock *Lock) {
	assert.Assert(lock != nil, "cancel of a nil wait lock")
	trx := lock.trx

	trx.lock.cancel = true

	if !lock.IsTable() {
		s.recDequeueFromPage(lock)
	} else {
		if holdsAutoincLocks(trx) {
			/* AUTO-INC locks do not survive a statement abort. */
			s.releaseAutoincLocksLocked(trx)
		}
		s.tableDequeue(lock)
		s.trxTableLocksRemove(lock)
	}

	resetLockAndTrxWaitLocked(lock)
	if trx.lock.waiting {
		waitEndLocked(trx)
	}

	trx.lock.cancel = false
}

// CancelWaitingAndRelease cancels a waiting lock request (caller-side
// timeout or KILL) and releases the waiting transaction.
func (s *System) CancelWaitingAndRelease(lock *Lock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	s.cancelWaitingAndReleaseLocked(lock)
}

// Release releases all explicit locks of a committing (or fully rolled
// back) transaction and grants waiters that become eligible. The lock list
// is drained from its tail; every releaseYieldEvery locks both latches are
// dropped briefly so concurrent operations make progress under a large
// commit.
func (s *System) Release(trx *Trx) {
	count := 0

	s.mu.Lock()
	s.waitMu.Lock()

	for lock := trx.lock.locks.last(); lock != nil; lock = trx.lock.locks.last() {
		if !lock.IsTable() {
			s.recDequeueFromPage(lock)
		} else {
			s.tableDequeue(lock)
		}

		count++
		if count == releaseYieldEvery {
			s.waitMu.Unlock()
			s.mu.Unlock()
			count = 0
			s.mu.Lock()
			s.waitMu.Lock()
		}
	}

	trx.lock.tableLocks = trx.lock.tableLocks[:0]
	assert.Assert(len(trx.lock.autoincLocks) == 0,
		"AUTO-INC locks survived a full release")
	trx.lock.recCached = 0
	trx.lock.tableCached = 0

	s.waitMu.Unlock()
	s.mu.Unlock()
}

// TrxHandleWait checks whether the transaction was already rolled back as
// a deadlock victim; if it still has to wait, the wait is cancelled.
// Returns StatusDeadlock, StatusSuccess (the lock was granted before we
// got here) or StatusWait (the wait lock existed and was cancelled).
func (s *System) TrxHandleWait(trx *Trx) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	return s.trxHandleWaitLocked(trx)
}

func (s *System) trxHandleWaitLocked(trx *Trx) Status {
	if trx.lock.wasChosenAsDeadlockVictim {
		trx.lock.wasChosenAsDeadlockVictim = false
		return StatusDeadlock
	}
	if trx.lock.waitLock == nil {
		return StatusSuccess
	}
	s.cancelWaitingAndReleaseLocked(trx.lock.waitLock)
	return StatusWait
}
