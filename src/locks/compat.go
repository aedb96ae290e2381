package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// recHasToWait checks whether a new record lock request must wait for lock2
// to be removed. lock2 is assumed to have a bit set on the same record.
func (s *System) recHasToWait(
	trx *Trx,
	typeMode TypeMode,
	lock2 *Lock,
	onSupremum bool,
) bool {
	assert.Assert(trx != nil, "request without a transaction")
	assert.Assert(!lock2.IsTable(), "record request compared against a table lock")

	if trx == lock2.trx || typeMode.Mode().Compatible(lock2.Mode()) {
		return false
	}

	/* We have somewhat complex rules when gap type record locks
	cause waits */

	if (onSupremum || typeMode&FlagGap != 0) && typeMode&FlagInsertIntention == 0 {
		/* Gap type locks without the insert-intention flag do not need
		to wait for anything: different users can have conflicting lock
		types on gaps. */
		return false
	}

	if typeMode&FlagInsertIntention == 0 && lock2.IsGap() {
		// A record-only or next-key request never waits for a gap lock.
		return false
	}

	if typeMode&FlagGap != 0 && lock2.IsRecordNotGap() {
		// A gap request never waits for a record-only lock.
		return false
	}

	if lock2.IsInsertIntention() {
		/* No lock request needs to wait for an insert intention lock to
		be removed. Otherwise a next-key lock waiting for an insert
		intention lock would deadlock with the insert that follows the
		grant. Insert intention locks also do not disturb each other. */
		return false
	}

	if (typeMode&FlagGap != 0 || lock2.IsGap()) && !s.needOrdering(trx, lock2.trx) {
		/* The upper layer has already fixed the commit order between
		these two transactions (parallel replication); gap waits would
		only re-derive an ordering that is already decided. */
		return false
	}

	s.assertNoPriorityPriorityWait(trx, lock2.trx)

	return true
}

// hasToWait checks whether lock1 has to wait for lock2 to be removed. For
// record locks, lock2 is assumed to cover the same record as lock1.
func (s *System) hasToWait(lock1, lock2 *Lock) bool {
	assert.Assert(lock1 != nil && lock2 != nil)

	if lock1.trx == lock2.trx || lock1.Mode().Compatible(lock2.Mode()) {
		return false
	}

	if lock1.IsTable() {
		return true
	}

	assert.Assert(!lock2.IsTable(), "record lock compared against a table lock")

	if lock1.typeMode&(FlagPredicate|FlagPrdtPage) != 0 {
		return s.prdtHasToWait(lock1.trx, lock1.typeMode, lock1.prdt, lock2)
	}

	return s.recHasToWait(lock1.trx, lock1.typeMode, lock2,
		lock1.IsSetBit(common.HeapNoSupremum))
}
