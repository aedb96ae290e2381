package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// LockRec locks the record in the requested mode (ModeS or ModeX, possibly
// ORed with FlagGap or FlagRecNotGap), enqueueing a waiting request on
// conflict. With impl set, no explicit lock is placed when no wait is
// necessary: the caller relies on an implicit lock instead.
func (s *System) LockRec(
	impl bool,
	mode TypeMode,
	page Page,
	heapNo common.HeapNo,
	index *Index,
	trx *Trx,
) Status {
	return s.recLock(impl, mode, page, heapNo, index, trx)
}

// convertImplToExplForTrx synthesizes an explicit X record lock on behalf
// of the transaction holding an implicit one. The holder is referenced, so
// it cannot commit and be reused before the conversion completes.
func (s *System) convertImplToExplForTrx(
	page Page,
	heapNo common.HeapNo,
	index *Index,
	trx *Trx,
) {
	assert.Assert(trx.IsReferenced(), "conversion for an unreferenced transaction")

	s.mu.Lock()
	if trx.State() != TrxStateCommitted &&
		s.recHasExpl(TypeMode(ModeX)|FlagRecNotGap, page.ID, heapNo, trx) == nil {
		s.recAddToQueue(TypeMode(ModeX)|FlagRecNotGap, page, heapNo, index, trx)
	}
	s.mu.Unlock()

	trx.Unref()
}

// convertImplToExpl converts an implicit X lock on the record into an
// explicit one, if it exists. For a clustered index the record's stored
// transaction id (recTrxID) identifies the holder directly; for a
// secondary index the resolver walks versions through the clustered index.
// The explicit lock is created on behalf of the holder, never the caller.
// Returns whether the caller itself already holds the implicit X lock.
func (s *System) convertImplToExpl(
	caller *Trx,
	page Page,
	heapNo common.HeapNo,
	index *Index,
	recTrxID common.TxnID,
) bool {
	var trx *Trx

	if index.Clustered {
		if recTrxID == 0 {
			return false
		}
		if recTrxID == caller.ID {
			return true
		}
		assert.Assert(s.registry != nil, "implicit conversion without a registry")
		trx = s.registry.Find(caller, recTrxID)
	} else {
		assert.Assert(s.resolver != nil, "secondary conversion without a resolver")
		trx = s.resolver.ImplXLockedTrx(caller,
			common.RecordID{Page: page.ID, HeapNo: heapNo}, index)
		if trx == caller {
			trx.Unref()
			return true
		}
	}

	if trx != nil {
		/* The holder is still active and has no explicit X lock on the
		record: set one for it so the caller's wait has a concrete
		object to queue behind. */
		s.convertImplToExplForTrx(page, heapNo, index, trx)
	}
	return false
}

// ClustRecReadCheckAndLock locks a clustered index record for a locking
// read (or a read cursor passing over it). recTrxID is the transaction id
// stored in the record; if it belongs to an active transaction, that
// implicit X lock is converted to an explicit one first. gapMode is 0
// (next-key), FlagGap or FlagRecNotGap.
func (s *System) ClustRecReadCheckAndLock(
	page Page,
	heapNo common.HeapNo,
	index *Index,
	recTrxID common.TxnID,
	mode Mode,
	gapMode TypeMode,
	trx *Trx,
) Status {
	assert.Assert(index.Clustered, "clustered read on a secondary index")
	assert.Assert(mode == ModeS || mode == ModeX, "read lock with mode %s", mode)
	assert.Assert(gapMode == 0 || gapMode == FlagGap || gapMode == FlagRecNotGap,
		"invalid gap mode %#x", gapMode)

	if heapNo != common.HeapNoSupremum &&
		s.convertImplToExpl(trx, page, heapNo, index, recTrxID) {
		// The caller already holds an implicit exclusive lock.
		return StatusSuccess
	}

	return s.recLock(false, TypeMode(mode)|gapMode, page, heapNo, index, trx)
}

// SecRecReadCheckAndLock is the secondary-index variant: implicit-lock
// detection goes through the clustered index via the resolver, and is only
// attempted when the page's max trx id reaches into the active window.
func (s *System) SecRecReadCheckAndLock(
	page Page,
	heapNo common.HeapNo,
	index *Index,
	pageMaxTrxID common.TxnID,
	mode Mode,
	gapMode TypeMode,
	trx *Trx,
) Status {
	assert.Assert(!index.Clustered, "secondary read on a clustered index")
	assert.Assert(mode == ModeS || mode == ModeX, "read lock with mode %s", mode)

	/* Some transaction may hold an implicit x-lock on the record only if
	the page's max trx id is at least the minimum active trx id. */
	if heapNo != common.HeapNoSupremum &&
		s.registry != nil && pageMaxTrxID >= s.registry.MinTrxID() &&
		s.convertImplToExplSec(trx, page, heapNo, index) {
		return StatusSuccess
	}

	return s.recLock(false, TypeMode(mode)|gapMode, page, heapNo, index, trx)
}

func (s *System) convertImplToExplSec(
	caller *Trx,
	page Page,
	heapNo common.HeapNo,
	index *Index,
) bool {
	assert.Assert(s.resolver != nil, "secondary conversion without a resolver")

	trx := s.resolver.ImplXLockedTrx(caller,
		common.RecordID{Page: page.ID, HeapNo: heapNo}, index)
	if trx == nil {
		return false
	}
	if trx == caller {
		trx.Unref()
		return true
	}
	s.convertImplToExplForTrx(page, heapNo, index, trx)
	return false
}

// ClustRecModifyCheckAndLock locks a clustered index record for update,
// delete-mark or delete-unmark: always X on the record, no gap.
func (s *System) ClustRecModifyCheckAndLock(
	page Page,
	heapNo common.HeapNo,
	index *Index,
	recTrxID common.TxnID,
	trx *Trx,
) Status {
	assert.Assert(index.Clustered, "clustered modify on a secondary index")

	/* If the transaction has no explicit x-lock on the record, set one
	for it (on behalf of whichever active transaction modified it). */
	if s.convertImplToExpl(trx, page, heapNo, index, recTrxID) {
		// We already hold an implicit exclusive lock.
		return StatusSuccess
	}

	st := s.recLock(true, TypeMode(ModeX)|FlagRecNotGap, page, heapNo, index, trx)
	if st == StatusLockedRec {
		st = StatusSuccess
	}
	return st
}

// SecRecModifyCheckAndLock locks a secondary index record for delete-mark
// or delete-unmark. No implicit-lock check is needed: the clustered record
// was modified first, which another active transaction's implicit lock
// would have prevented.
func (s *System) SecRecModifyCheckAndLock(
	page Page,
	heapNo common.HeapNo,
	index *Index,
	trx *Trx,
) Status {
	assert.Assert(!index.Clustered, "secondary modify on a clustered index")

	st := s.recLock(true, TypeMode(ModeX)|FlagRecNotGap, page, heapNo, index, trx)
	if st == StatusLockedRec {
		st = StatusSuccess
	}
	return st
}

// RecInsertCheckAndLock checks whether locks of other transactions prevent
// an immediate insert before the record at nextHeapNo (the successor of
// the insertion point). If they do, an X gap insert-intention lock on the
// successor is enqueued. inherit is set when the new record should inherit
// gap locks from the successor after the insert (via UpdateInsert).
func (s *System) RecInsertCheckAndLock(
	page Page,
	nextHeapNo common.HeapNo,
	index *Index,
	trx *Trx,
	inherit *bool,
) Status {
	s.mu.Lock()

	if assert.Enabled() {
		assert.Assert(s.tableHas(trx, index.Table, ModeIX) != nil,
			"insert without an IX lock on %q", index.Table.Name)
	}

	if recGetFirst(&s.rec, page.ID, nextHeapNo) == nil {
		// The successor carries no locks: the common fast path.
		s.mu.Unlock()
		*inherit = false
		return StatusSuccess
	}

	if index.Spatial {
		// Spatial indexes protect ranges with predicate locks, not gaps.
		s.mu.Unlock()
		return StatusSuccess
	}

	*inherit = true

	/* If another transaction locks the gap on the successor, waiting or
	granted, the insert waits — except when that lock is itself an
	insert-intention gap lock: two inserts into the same gap do not
	disturb each other, and treating them as conflicting used to produce
	a spurious deadlock. */
	const typeMode = TypeMode(ModeX) | FlagGap | FlagInsertIntention

	st := StatusSuccess
	if c := s.recOtherHasConflicting(typeMode, page.ID, nextHeapNo, trx); c != nil {
		st = s.recEnqueueWaiting(c, typeMode, page, nextHeapNo, index, trx, nil)
	}

	s.mu.Unlock()

	if st == StatusLockedRec {
		st = StatusSuccess
	}
	return st
}
