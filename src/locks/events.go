package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// HeapNoMove pairs a record's heap number on the donor side with its heap
// number on the receiver side of a page operation. The btree caller, which
// walks both page layouts, supplies the pairing; the lock manager never
// reads page bytes.
type HeapNoMove struct {
	Old common.HeapNo
	New common.HeapNo
}

// recInheritToGap makes the heir record inherit the locks of the donor
// record as granted gap locks, without resetting the donor. Waiting
// requests on the donor are inherited as granted gap locks too.
// Insert-intention locks are never inherited. Caller holds mu.
func (s *System) recInheritToGap(
	heirPage Page,
	donorPID common.PageIdentity,
	heirHeapNo common.HeapNo,
	heapNo common.HeapNo,
) {
	/* At READ UNCOMMITTED or READ COMMITTED we do not want locks set by
	an UPDATE or a DELETE to be inherited as gap locks. S or X locks set
	by a consistency constraint (duplicate check) are inherited even
	then. */
	for l := recGetFirst(&s.rec, donorPID, heapNo); l != nil; l = recGetNext(heapNo, l) {
		updateTaken := ModeX
		if l.trx.Duplicates {
			updateTaken = ModeS
		}
		if !l.IsInsertIntention() &&
			(l.trx.IsolationLevel > ReadCommitted || l.Mode() != updateTaken) {
			s.recAddToQueue(FlagGap|TypeMode(l.Mode()), heirPage, heirHeapNo,
				l.index, l.trx)
		}
	}
}

// recInheritToGapIfGapLock inherits only the gap coverage of the donor
// record onto the heir, skipping holders whose table X lock already covers
// everything.
func (s *System) recInheritToGapIfGapLock(
	page Page,
	heirHeapNo common.HeapNo,
	heapNo common.HeapNo,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for l := recGetFirst(&s.rec, page.ID, heapNo); l != nil; l = recGetNext(heapNo, l) {
		if !l.IsInsertIntention() &&
			(heapNo == common.HeapNoSupremum || !l.IsRecordNotGap()) &&
			s.tableHas(l.trx, l.index.Table, ModeX) == nil {
			s.recAddToQueue(FlagGap|TypeMode(l.Mode()), page, heirHeapNo,
				l.index, l.trx)
		}
	}
}

// recMoveLow moves the locks of the donor record onto the receiver record
// and resets the donor's bits. The receiver must have no lock requests on
// it (predicate hashes excepted: their locks all live on the infimum).
// Caller holds mu.
func (s *System) recMoveLow(
	hash *lockHash,
	receiverPage Page,
	donorPID common.PageIdentity,
	receiverHeapNo common.HeapNo,
	donorHeapNo common.HeapNo,
) {
	assert.Assert(recGetFirst(hash, receiverPage.ID, receiverHeapNo) == nil ||
		hash == &s.prdt || hash == &s.prdtPage,
		"moving locks onto an occupied record")

	for l := recGetFirst(hash, donorPID, donorHeapNo); l != nil; l = recGetNext(donorHeapNo, l) {
		l.resetBit(donorHeapNo)

		typeMode := l.typeMode
		if typeMode&FlagWait != 0 {
			assert.Assert(l.trx.lock.waitLock == l, "waiter lost its back-pointer")
			l.typeMode &^= FlagWait
		}

		/* The bit is reset first and the lock added after, so the
		routine also works when donor == receiver. */
		s.recAddToQueue(typeMode, receiverPage, receiverHeapNo, l.index, l.trx)
	}

	assert.Assert(recGetFirst(&s.rec, donorPID, donorHeapNo) == nil,
		"donor record still carries locks after the move")
}

func (s *System) recMove(
	receiverPage Page,
	donorPID common.PageIdentity,
	receiverHeapNo common.HeapNo,
	donorHeapNo common.HeapNo,
) {
	s.recMoveLow(&s.rec, receiverPage, donorPID, receiverHeapNo, donorHeapNo)
}

// moveGrantedLocksToFront stable-partitions the snapshot so granted locks
// precede waiters. Re-stamping granted locks first maximizes struct reuse
// in recAddToQueue and preserves queue order for the waiters.
func moveGrantedLocksToFront(old []*Lock) []*Lock {
	granted := make([]*Lock, 0, len(old))
	var waiting []*Lock
	for _, l := range old {
		if l.IsWaiting() {
			waiting = append(waiting, l)
		} else {
			granted = append(granted, l)
		}
	}
	return append(granted, waiting...)
}

// MoveReorganizePage re-stamps all locks of a page after an in-place
// reorganization changed its heap numbering. oldToNew pairs every heap
// number of the old layout (infimum and supremum included; their locks may
// be carrier state of an ongoing update) with its new value.
func (s *System) MoveReorganizePage(page Page, oldToNew []HeapNoMove) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first := s.rec.firstOnPage(page.ID)
	if first == nil {
		return
	}

	// Snapshot every lock on the page, then reset the originals. The
	// empty originals stay in the chain and get reused by recAddToQueue.
	var old []*Lock
	for l := first; l != nil; l = nextOnPage(l) {
		old = append(old, l.copyShallow())
		l.resetBitmap()
		if l.IsWaiting() {
			assert.Assert(l.trx.lock.waitLock == l, "waiter lost its back-pointer")
			l.typeMode &^= FlagWait
		}
	}

	old = moveGrantedLocksToFront(old)

	for _, c := range old {
		for _, mv := range oldToNew {
			/* The old lock bitmap can be too small for a new heap
			number; resetBit tolerates that. */
			if c.resetBit(mv.Old) {
				s.recAddToQueue(c.typeMode, page, mv.New, c.index, c.trx)
			}
		}
		assert.Assert(c.FirstSetBit().IsNone(),
			"reorganize mapping left a lock bit behind")
	}
}

// moveRecList moves per-record locks onto a sibling page for every moved
// record. A wait flag on a donated lock is carried to the new page's queue;
// the donor struct is left granted and empty.
func (s *System) moveRecList(newPage Page, oldPID common.PageIdentity, moves []HeapNoMove) {
	s.mu.Lock()
	defer s.mu.Unlock()

	/* Waiting locks and granted gap locks behind them are enqueued in
	their original order: chain insertion appends at the end, and
	recAddToQueue does not reuse structs when the queue has waiters. */
	for l := s.rec.firstOnPage(oldPID); l != nil; l = nextOnPage(l) {
		typeMode := l.typeMode
		for _, mv := range moves {
			if !l.resetBit(mv.Old) {
				continue
			}
			if typeMode&FlagWait != 0 {
				assert.Assert(l.trx.lock.waitLock == l, "waiter lost its back-pointer")
				l.typeMode &^= FlagWait
			}
			s.recAddToQueue(typeMode, newPage, mv.New, l.index, l.trx)
		}
	}
}

// MoveRecListEnd moves the locks of the record range that was moved to the
// end of another page. moves pairs old heap numbers with their numbers on
// the receiving page.
func (s *System) MoveRecListEnd(newPage Page, oldPID common.PageIdentity, moves []HeapNoMove) {
	s.moveRecList(newPage, oldPID, moves)
}

// MoveRecListStart is the mirror operation for a range moved to the start
// of another page.
func (s *System) MoveRecListStart(newPage Page, oldPID common.PageIdentity, moves []HeapNoMove) {
	s.moveRecList(newPage, oldPID, moves)
}

// RtrMoveRecList moves spatial-index record locks for records relocated in
// an arbitrary order.
func (s *System) RtrMoveRecList(newPage Page, oldPID common.PageIdentity, moves []HeapNoMove) {
	s.moveRecList(newPage, oldPID, moves)
}

// UpdateSplitRight updates the lock table after a page split to the right:
// supremum locks follow the moved upper range onto the right page, and the
// left supremum inherits gap coverage from the right page's first user
// record.
func (s *System) UpdateSplitRight(rightPage, leftPage Page, rightMinHeapNo common.HeapNo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recMove(rightPage, leftPage.ID, common.HeapNoSupremum, common.HeapNoSupremum)
	s.recInheritToGap(leftPage, rightPage.ID, common.HeapNoSupremum, rightMinHeapNo)
}

// UpdateMergeRight updates the lock table after the left page was merged
// into the right one. origSuccHeapNo is the heap number of the original
// successor of the infimum on the right page before the merge.
func (s *System) UpdateMergeRight(rightPage Page, origSuccHeapNo common.HeapNo, leftPID common.PageIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	/* Inherit the locks from the supremum of the discarded left page to
	the first record of the surviving range. */
	s.recInheritToGap(rightPage, leftPID, origSuccHeapNo, common.HeapNoSupremum)

	/* Reset the supremum locks of the left page, releasing waiters; page
	locks of the spatial hashes must not exist, the merge would have
	been blocked otherwise. */
	s.recResetAndReleaseWaitLow(&s.rec, leftPID, common.HeapNoSupremum)
	assert.Assert(s.prdtPage.firstOnPage(leftPID) == nil,
		"page merged away while carrying a spatial page lock")

	s.recFreeAllFromDiscardPage(leftPID)
}

// UpdateSplitLeft updates the lock table after a page split to the left:
// the left supremum inherits gap coverage from the right page's first user
// record.
func (s *System) UpdateSplitLeft(leftPage Page, rightPID common.PageIdentity, rightMinHeapNo common.HeapNo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recInheritToGap(leftPage, rightPID, common.HeapNoSupremum, rightMinHeapNo)
}

// UpdateMergeLeft updates the lock table after the right page was merged
// into the left one. leftNextHeapNo is the heap number of the first record
// moved from the right page (the successor of the original predecessor of
// the left supremum); HeapNoSupremum means no record was moved.
func (s *System) UpdateMergeLeft(leftPage Page, leftNextHeapNo common.HeapNo, rightPID common.PageIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leftNextHeapNo != common.HeapNoSupremum {
		/* Inherit the old left-supremum gap onto the first record
		moved in from the right page, then release the supremum. */
		s.recInheritToGap(leftPage, leftPage.ID, leftNextHeapNo, common.HeapNoSupremum)
		s.recResetAndReleaseWaitLow(&s.rec, leftPage.ID, common.HeapNoSupremum)
	}

	s.recMove(leftPage, rightPID, common.HeapNoSupremum, common.HeapNoSupremum)

	assert.Assert(s.prdtPage.firstOnPage(rightPID) == nil,
		"page merged away while carrying a spatial page lock")
	s.recFreeAllFromDiscardPage(rightPID)
}

// UpdateSplitAndMerge handles the combined split-and-merge rebalance: the
// left page first passes its supremum gap to the first record merged in,
// then inherits the gap before the right page's new first record.
func (s *System) UpdateSplitAndMerge(
	leftPage Page,
	leftNextHeapNo common.HeapNo,
	rightPID common.PageIdentity,
	rightMinHeapNo common.HeapNo,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recInheritToGap(leftPage, leftPage.ID, leftNextHeapNo, common.HeapNoSupremum)
	s.recResetAndReleaseWaitLow(&s.rec, leftPage.ID, common.HeapNoSupremum)
	s.recInheritToGap(leftPage, rightPID, common.HeapNoSupremum, rightMinHeapNo)
}

// UpdateRootRaise moves supremum locks from the root to its copy. Lock
// structs stay on the root even though it is no longer a leaf: during a
// pessimistic update its infimum acts as a carrier of the moved record's
// locks.
func (s *System) UpdateRootRaise(newPage Page, rootPID common.PageIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recMove(newPage, rootPID, common.HeapNoSupremum, common.HeapNoSupremum)
}

// UpdateCopyAndDiscard follows a page being copied whole to another and
// removed from the leaf chain.
func (s *System) UpdateCopyAndDiscard(newPage Page, oldPID common.PageIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recMove(newPage, oldPID, common.HeapNoSupremum, common.HeapNoSupremum)
	s.recFreeAllFromDiscardPage(oldPID)
}

// RecResetAndInheritGapLocks replaces the heir record's locks with gap
// locks inherited from the donor record.
func (s *System) RecResetAndInheritGapLocks(
	heirPage Page,
	donorPID common.PageIdentity,
	heirHeapNo common.HeapNo,
	heapNo common.HeapNo,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recResetAndReleaseWait(heirPage.ID, heirHeapNo)
	s.recInheritToGap(heirPage, donorPID, heirHeapNo, heapNo)
}

// UpdateDiscard updates the lock table when a whole page is discarded.
// heapNos lists every slot of the discarded page in record order, infimum
// and supremum included; each one's coverage is inherited by the heir
// record before the page's locks are freed.
func (s *System) UpdateDiscard(
	heirPage Page,
	heirHeapNo common.HeapNo,
	pid common.PageIdentity,
	heapNos []common.HeapNo,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.firstOnPage(pid) != nil {
		assert.Assert(s.prdt.firstOnPage(pid) == nil && s.prdtPage.firstOnPage(pid) == nil,
			"discarded page carries both record and predicate locks")
		for _, heapNo := range heapNos {
			s.recInheritToGap(heirPage, pid, heirHeapNo, heapNo)
			s.recResetAndReleaseWait(pid, heapNo)
		}
		s.recFreeAllFromDiscardPageLow(pid, &s.rec)
	} else {
		s.recFreeAllFromDiscardPageLow(pid, &s.prdt)
		s.recFreeAllFromDiscardPageLow(pid, &s.prdtPage)
	}
}

// UpdateInsert updates the lock table when a new user record is inserted:
// the record inherits the gap coverage of its successor.
func (s *System) UpdateInsert(page Page, recHeapNo, nextHeapNo common.HeapNo) {
	s.recInheritToGapIfGapLock(page, recHeapNo, nextHeapNo)
}

// UpdateDelete updates the lock table when a record is removed: the
// successor inherits the deleted record's locks as gap locks, then the
// deleted record's bits are reset and its waiters released.
func (s *System) UpdateDelete(page Page, heapNo, nextHeapNo common.HeapNo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recInheritToGap(page, page.ID, nextHeapNo, heapNo)
	s.recResetAndReleaseWait(page.ID, heapNo)
}

// RecStoreOnPageInfimum stashes a record's explicit locks on the page
// infimum, which acts as a dummy carrier while the record is moved by an
// update that changes its size.
func (s *System) RecStoreOnPageInfimum(page Page, heapNo common.HeapNo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recMove(page, page.ID, common.HeapNoInfimum, heapNo)
}

// RecRestoreFromPageInfimum restores a record's lock state from the donor
// page's infimum; the record is not necessarily on the donor page.
func (s *System) RecRestoreFromPageInfimum(page Page, heapNo common.HeapNo, donorPID common.PageIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recMoveLow(&s.rec, page, donorPID, heapNo, common.HeapNoInfimum)
}
