package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// setLockAndTrxWait registers lock as the single request trx is waiting on
// and arms a fresh wait channel. Caller holds mu.
func (s *System) setLockAndTrxWait(lock *Lock) {
	trx := lock.trx

	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	assert.Assert(trx.lock.waitLock == nil || trx.lock.waitLock.trx == trx,
		"stale wait lock of another transaction")
	trx.lock.waitLock = lock
	if !trx.lock.waiting {
		// A page move re-registers the wait lock of a suspended trx;
		// the channel it is blocked on must survive the move.
		trx.lock.waitCh = make(chan struct{})
	}
}

// resetLockAndTrxWaitLocked clears the wait flag and the trx back-pointer.
// Caller holds waitMu (or is clearing a request of its own running trx,
// which no other thread can signal).
func resetLockAndTrxWaitLocked(lock *Lock) {
	if lock.trx.lock.waitLock == lock {
		lock.trx.lock.waitLock = nil
	}
	lock.typeMode &^= FlagWait
}

// waitEndLocked resumes a suspended transaction. Caller holds waitMu.
func waitEndLocked(trx *Trx) {
	assert.Assert(trx.lock.waiting, "wait end without a waiting caller")
	trx.lock.waiting = false
	close(trx.lock.waitCh)
}

// grantLocked grants a waiting lock request and wakes the owner.
// Caller holds mu and waitMu.
func (s *System) grantLocked(lock *Lock) {
	resetLockAndTrxWaitLocked(lock)

	trx := lock.trx
	if lock.Mode() == ModeAutoInc {
		table := lock.table
		assert.Assert(table.autoincTrx == nil, "granting AUTO-INC while held")
		table.autoincTrx = trx
		trx.lock.autoincLocks = append(trx.lock.autoincLocks, lock)
	}

	s.counters.LockGrants.Inc()

	/* If we are resolving a deadlock by choosing another transaction as
	a victim, our original transaction may not be waiting anymore. */
	if trx.lock.waiting {
		waitEndLocked(trx)
	}
}

// recCreate builds a record lock struct and installs it in the page chain
// and the owner's lock list. cLock, when non-nil, is the conflicting lock
// that caused this request; the priority policy uses it to keep priority
// transactions ordered ahead in the chain and to abort a waiting holder.
// Caller holds mu.
func (s *System) recCreate(
	cLock *Lock,
	typeMode TypeMode,
	page Page,
	heapNo common.HeapNo,
	index *Index,
	trx *Trx,
) *Lock {
	assert.Assert(typeMode&FlagTable == 0, "record lock with a table flag")

	/* If rec is the supremum record, we reset the gap and record-only
	bits: every lock on the supremum is a gap lock by construction. */
	if heapNo == common.HeapNoSupremum {
		assert.Assert(typeMode&FlagRecNotGap == 0,
			"record-only lock on the supremum")
		typeMode &^= FlagGap | FlagRecNotGap
	}

	var nBits uint32
	if typeMode&(FlagPredicate|FlagPrdtPage) == 0 {
		nBits = ((page.HeapCount + 7) / 8) * 8
	} else {
		// Predicate locks always sit on the infimum slot; one byte of
		// bitmap suffices.
		assert.Assert(heapNo == common.HeapNoInfimum,
			"predicate lock away from the infimum")
		nBits = 8
	}

	lock := trx.allocRecLock()
	lock.trx = trx
	lock.typeMode = typeMode
	lock.index = index
	lock.pageID = page.ID
	lock.nBits = nBits
	lock.bitmap = make([]byte, nBits/8)
	lock.setBit(heapNo)

	index.Table.nRecLocks++
	trx.lock.nRecLocks++

	hash := s.hashFor(typeMode)

	bfResolved := false
	if cLock != nil && s.isPriority(trx) {
		// Keep the chain ordered by the externally fixed commit order
		// among priority transactions.
		pos := cLock
		for pos.hashNext != nil &&
			s.isPriority(pos.hashNext.trx) &&
			s.orderBefore(pos.hashNext.trx, trx) {
			pos = pos.hashNext
		}
		hash.insertAfter(pos, lock)
		bfResolved = true
	} else {
		hash.insert(lock)
	}

	if typeMode&FlagWait != 0 {
		s.setLockAndTrxWait(lock)
	}
	trx.lock.locks.append(lock)

	s.counters.RecLocksCreated.Inc()

	if bfResolved {
		/* Delayed conflict resolution: if the conflicting lock's owner
		is itself suspended, abort it on behalf of the priority
		transaction so the queue in front of us drains. */
		s.waitMu.Lock()
		holder := cLock.trx
		if holder.lock.waiting && holder != trx {
			holder.lock.wasChosenAsDeadlockVictim = true
			s.cancelWaitingAndReleaseLocked(holder.lock.waitLock)
		}
		s.waitMu.Unlock()
	}

	return lock
}

// recEnqueueWaiting enqueues a request that cannot be granted immediately
// and runs deadlock detection.
// Caller holds mu.
func (s *System) recEnqueueWaiting(
	cLock *Lock,
	typeMode TypeMode,
	page Page,
	heapNo common.HeapNo,
	index *Index,
	trx *Trx,
	prdt *Predicate,
) Status {
	if trx.WaitTimeout == 0 {
		s.counters.WaitTimeouts.Inc()
		return StatusWaitTimeout
	}

	lock := s.recCreate(cLock, typeMode|FlagWait, page, heapNo, index, trx)
	if prdt != nil && typeMode&FlagPredicate != 0 {
		lock.prdt = prdt
	}

	if victim := s.checkAndResolve(lock, trx); victim != nil {
		assert.Assert(victim == trx, "resolver returned a foreign victim")
		/* No need to hold waitMu: we are clearing the wait flag of a
		request owned by the currently running transaction, which
		cannot be suspended yet. */
		resetLockAndTrxWaitLocked(lock)
		lock.resetBit(heapNo)
		return StatusDeadlock
	}

	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	if trx.lock.waitLock == nil {
		/* There was a deadlock, another transaction was chosen as the
		victim, and our lock got granted in the process. */
		return StatusLockedRec
	}

	trx.lock.waiting = true
	trx.lock.wasChosenAsDeadlockVictim = false

	s.counters.LockWaits.Inc()
	s.log.Debugw("transaction waits for a record lock",
		"trx", trx.ID, "index", index.Name, "rec", common.RecordID{Page: page.ID, HeapNo: heapNo})

	return StatusWait
}

// recFindSimilarOnPage looks for a reusable record lock struct of the same
// transaction and precise mode on the same page whose bitmap is wide enough.
func recFindSimilarOnPage(typeMode TypeMode, heapNo common.HeapNo, first *Lock, trx *Trx) *Lock {
	for l := first; l != nil; l = nextOnPage(l) {
		if l.trx == trx && l.typeMode == typeMode && l.nBits > uint32(heapNo) {
			return l
		}
	}
	return nil
}

// recAddToQueue adds a record lock request to the page queue. The request
// normally lands at the end of the chain; when there are no waiters on the
// record and the request itself is not waiting, a suitable existing struct
// is reused by setting the bit. Reusing a struct ahead of a waiter would
// break FIFO, hence the scan. Does not check compatibility or deadlocks.
// Caller holds mu.
func (s *System) recAddToQueue(
	typeMode TypeMode,
	page Page,
	heapNo common.HeapNo,
	index *Index,
	trx *Trx,
) {
	switch typeMode.Mode() {
	case ModeS, ModeX:
	default:
		assert.Unreachable("record lock with table mode %s", typeMode.Mode())
	}

	if assert.Enabled() && typeMode&(FlagWait|FlagGap) == 0 {
		other := ModeX
		if typeMode.Mode() == ModeX {
			other = ModeS
		}
		conflicting := s.recOtherHasExplReq(other, page.ID, heapNo, trx)
		assert.Assert(conflicting == nil || s.isPriority(trx) || s.isPriority(conflicting.trx),
			"granting a record lock past a conflicting granted lock")
	}

	if heapNo == common.HeapNoSupremum {
		assert.Assert(typeMode&FlagRecNotGap == 0,
			"record-only lock on the supremum")
		typeMode &^= FlagGap | FlagRecNotGap
	}

	first := s.hashFor(typeMode).firstOnPage(page.ID)

	// A waiting request on the same record forces a fresh struct at the
	// end of the chain.
	for l := first; l != nil; l = nextOnPage(l) {
		if l.IsWaiting() && l.IsSetBit(heapNo) {
			s.recCreate(nil, typeMode, page, heapNo, index, trx)
			return
		}
	}

	if first != nil && typeMode&FlagWait == 0 {
		if l := recFindSimilarOnPage(typeMode, heapNo, first, trx); l != nil {
			l.setBit(heapNo)
			return
		}
	}

	s.recCreate(nil, typeMode, page, heapNo, index, trx)
}

// recHasExpl finds a granted lock of trx on (page, heapNo) at least as
// strong as preciseMode, with matching gap coverage. A supremum request is
// always regarded as a gap request.
func (s *System) recHasExpl(
	preciseMode TypeMode,
	pid common.PageIdentity,
	heapNo common.HeapNo,
	trx *Trx,
) *Lock {
	m := preciseMode.Mode()
	assert.Assert(m == ModeS || m == ModeX, "record mode expected, got %s", m)
	assert.Assert(preciseMode&FlagInsertIntention == 0,
		"insert intention has no strength ordering")

	for l := recGetFirst(&s.rec, pid, heapNo); l != nil; l = recGetNext(heapNo, l) {
		if l.trx == trx &&
			l.typeMode&(FlagWait|FlagInsertIntention) == 0 &&
			(l.typeMode&(FlagRecNotGap|FlagGap) == 0 ||
				heapNo == common.HeapNoSupremum ||
				l.typeMode&preciseMode&(FlagRecNotGap|FlagGap) != 0) &&
			l.Mode().StrongerOrEq(m) {
			return l
		}
	}
	return nil
}

// recOtherHasExplReq finds a non-gap request of mode by some other
// transaction on the record; used by queue-state assertions.
func (s *System) recOtherHasExplReq(
	mode Mode,
	pid common.PageIdentity,
	heapNo common.HeapNo,
	trx *Trx,
) *Lock {
	// Only gap locks live on the supremum, and gap locks are not under
	// scrutiny here.
	if heapNo == common.HeapNoSupremum {
		return nil
	}

	for l := recGetFirst(&s.rec, pid, heapNo); l != nil; l = recGetNext(heapNo, l) {
		if l.trx != trx && !l.IsGap() && !l.IsWaiting() && l.Mode().StrongerOrEq(mode) {
			return l
		}
	}
	return nil
}

// recOtherHasConflicting scans the record's queue for a lock of another
// transaction the new request would have to wait for.
// Caller holds mu.
func (s *System) recOtherHasConflicting(
	mode TypeMode,
	pid common.PageIdentity,
	heapNo common.HeapNo,
	trx *Trx,
) *Lock {
	onSupremum := heapNo == common.HeapNoSupremum

	for l := recGetFirst(&s.rec, pid, heapNo); l != nil; l = recGetNext(heapNo, l) {
		if s.recHasToWait(trx, mode, l, onSupremum) {
			return l
		}
	}
	return nil
}

// recLock locks the record in the requested mode, enqueueing a waiting
// request on conflict. Low-level: does not look at implicit locks, but
// checks explicit lock compatibility within the queue. With impl set, no
// lock is placed when no wait is necessary (the caller relies on an
// implicit lock instead).
func (s *System) recLock(
	impl bool,
	mode TypeMode,
	page Page,
	heapNo common.HeapNo,
	index *Index,
	trx *Trx,
) Status {
	assert.Assert(mode.Mode() == ModeS || mode.Mode() == ModeX,
		"record lock request with mode %s", mode.Mode())
	assert.Assert(mode&FlagGap == 0 || mode&FlagRecNotGap == 0,
		"gap and record-only flags are mutually exclusive")

	s.mu.Lock()
	defer s.mu.Unlock()

	if assert.Enabled() {
		need := ModeIS
		if mode.Mode() == ModeX {
			need = ModeIX
		}
		assert.Assert(s.tableHas(trx, index.Table, need) != nil,
			"record lock without a covering intention lock on %q", index.Table.Name)
	}

	// A sufficient table lock covers the request outright.
	if s.tableHas(trx, index.Table, mode.Mode()) != nil {
		return StatusSuccess
	}

	first := s.rec.firstOnPage(page.ID)
	if first == nil {
		// No lock on the page at all: simplified and faster path.
		if !impl {
			s.recCreate(nil, mode, page, heapNo, index, trx)
		}
		return StatusLockedRec
	}

	if nextOnPage(first) == nil && first.trx == trx &&
		first.typeMode == mode && first.nBits > uint32(heapNo) {
		if impl {
			return StatusSuccess
		}
		// The only lock on the page is ours with the same precise mode:
		// just make sure the bit is set.
		if first.IsSetBit(heapNo) {
			return StatusSuccess
		}
		first.setBit(heapNo)
		return StatusLockedRec
	}

	if s.recHasExpl(mode, page.ID, heapNo, trx) != nil {
		// Already covered by a lock at least as strong.
		return StatusSuccess
	}

	if c := s.recOtherHasConflicting(mode, page.ID, heapNo, trx); c != nil {
		return s.recEnqueueWaiting(c, mode, page, heapNo, index, trx, nil)
	}

	if impl {
		return StatusSuccess
	}
	s.recAddToQueue(mode, page, heapNo, index, trx)
	return StatusLockedRec
}

// recHasToWaitInQueue checks whether a waiting record lock still has an
// earlier conflicting lock in its queue, returning the blocker.
func (s *System) recHasToWaitInQueue(waitLock *Lock) *Lock {
	assert.Assert(waitLock.IsWaiting(), "queue check on a granted lock")
	assert.Assert(!waitLock.IsTable(), "record queue check on a table lock")

	heapNo := waitLock.FirstSetBit().Expect("waiting lock covers no record")

	hash := s.hashFor(waitLock.typeMode)
	for l := hash.firstOnPage(waitLock.pageID); l != waitLock; l = nextOnPage(l) {
		assert.Assert(l != nil, "waiting lock fell off its page chain")
		if l.IsSetBit(heapNo) && s.hasToWait(waitLock, l) {
			return l
		}
	}
	return nil
}

// recGrantWaitersOnPage walks the whole page chain and grants every waiter
// whose queue no longer conflicts. Eligible S waiters behind a still-waiting
// X are granted too: the scan deliberately does not stop at the first
// conflict. Caller holds mu and waitMu.
func (s *System) recGrantWaitersOnPage(hash *lockHash, pid common.PageIdentity) {
	for l := hash.firstOnPage(pid); l != nil; l = nextOnPage(l) {
		if !l.IsWaiting() {
			continue
		}
		if c := s.recHasToWaitInQueue(l); c == nil {
			assert.Assert(l.trx.lock.waitLock == l, "waiter lost its back-pointer")
			s.grantLocked(l)
		} else {
			s.assertNoPriorityPriorityWait(l.trx, c.trx)
		}
	}
}

// recDequeueFromPage removes a record lock (all records its bitmap covers)
// from the queue and grants now-eligible waiters behind it.
// Caller holds mu and waitMu.
func (s *System) recDequeueFromPage(inLock *Lock) {
	assert.Assert(!inLock.IsTable(), "record dequeue of a table lock")

	pid := inLock.pageID
	hash := s.hashFor(inLock.typeMode)

	inLock.index.Table.nRecLocks--
	inLock.trx.lock.nRecLocks--

	hash.remove(inLock)
	inLock.trx.lock.locks.remove(inLock)

	s.counters.RecLocksRemoved.Inc()

	s.recGrantWaitersOnPage(hash, pid)
}

// recDiscard removes a record lock from the queue without granting anyone.
// Caller holds mu.
func (s *System) recDiscard(inLock *Lock) {
	assert.Assert(!inLock.IsTable(), "record discard of a table lock")

	inLock.index.Table.nRecLocks--
	inLock.trx.lock.nRecLocks--

	s.hashFor(inLock.typeMode).remove(inLock)
	inLock.trx.lock.locks.remove(inLock)

	s.counters.RecLocksRemoved.Inc()
}

// recCancel cancels a waiting record lock request and wakes the requester.
// It does not grant waiters behind the cancelled request.
// Caller holds mu.
func (s *System) recCancel(lock *Lock) {
	assert.Assert(!lock.IsTable(), "record cancel of a table lock")

	// A waiting request covers exactly one record.
	lock.resetBit(lock.FirstSetBit().Expect("waiting lock covers no record"))

	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	resetLockAndTrxWaitLocked(lock)
	if lock.trx.lock.waiting {
		waitEndLocked(lock.trx)
	}
}

func (s *System) recFreeAllFromDiscardPageLow(pid common.PageIdentity, hash *lockHash) {
	l := hash.firstOnPage(pid)
	for l != nil {
		assert.Assert(l.FirstSetBit().IsNone(), "discarding a page with live lock bits")
		assert.Assert(!l.IsWaiting(), "discarding a page with waiters")
		next := nextOnPage(l)
		s.recDiscard(l)
		l = next
	}
}

// recFreeAllFromDiscardPage removes all lock structs of a page that is
// being discarded. Bitmaps must already be reset. Caller holds mu.
func (s *System) recFreeAllFromDiscardPage(pid common.PageIdentity) {
	s.recFreeAllFromDiscardPageLow(pid, &s.rec)
	s.recFreeAllFromDiscardPageLow(pid, &s.prdt)
	s.recFreeAllFromDiscardPageLow(pid, &s.prdtPage)
}

// recResetAndReleaseWaitLow clears all lock bits of one record in the given
// hash, cancelling waiters on it. Caller holds mu.
func (s *System) recResetAndReleaseWaitLow(hash *lockHash, pid common.PageIdentity, heapNo common.HeapNo) {
	for l := recGetFirst(hash, pid, heapNo); l != nil; l = recGetNext(heapNo, l) {
		if l.IsWaiting() {
			s.recCancel(l)
		} else {
			l.resetBit(heapNo)
		}
	}
}

// recResetAndReleaseWait clears the lock bits of one record in every hash,
// releasing transactions waiting on it. Predicate locks sit on the infimum.
// Caller holds mu.
func (s *System) recResetAndReleaseWait(pid common.PageIdentity, heapNo common.HeapNo) {
	s.recResetAndReleaseWaitLow(&s.rec, pid, heapNo)
	s.recResetAndReleaseWaitLow(&s.prdt, pid, common.HeapNoInfimum)
	s.recResetAndReleaseWaitLow(&s.prdtPage, pid, common.HeapNoInfimum)
}

// RecUnlock releases a granted record lock of mode held by trx on the given
// record before commit (e.g. a semi-consistent read releasing a
// non-matching row) and grants eligible waiters.
func (s *System) RecUnlock(trx *Trx, pid common.PageIdentity, heapNo common.HeapNo, mode Mode) {
	assert.Assert(trx.lock.waitLock == nil, "unlocking while suspended")

	s.mu.Lock()
	defer s.mu.Unlock()

	first := recGetFirst(&s.rec, pid, heapNo)

	var held *Lock
	for l := first; l != nil; l = recGetNext(heapNo, l) {
		if l.trx == trx && l.Mode() == mode {
			held = l
			break
		}
	}

	if held == nil {
		s.log.Errorw("unlock row could not find a matching granted lock",
			"trx", trx.ID, "rec", common.RecordID{Page: pid, HeapNo: heapNo}, "mode", mode)
		return
	}

	assert.Assert(!held.IsWaiting(), "unlocking a waiting request")
	held.resetBit(heapNo)

	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	for l := first; l != nil; l = recGetNext(heapNo, l) {
		if !l.IsWaiting() {
			continue
		}
		if c := s.recHasToWaitInQueue(l); c == nil {
			assert.Assert(l.trx != trx, "self-grant after unlock")
			s.grantLocked(l)
		} else {
			s.assertNoPriorityPriorityWait(l.trx, c.trx)
		}
	}
}
