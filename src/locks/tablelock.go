package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
)

// tableHas finds a granted table lock of trx on table at least as strong
// as mode. Only the owning transaction mutates its tableLocks vector, so
// the scan itself is safe without mu for a running transaction; callers
// inside the lock system hold mu anyway.
func (s *System) tableHas(trx *Trx, table *Table, mode Mode) *Lock {
	for _, l := range trx.lock.tableLocks {
		if l == nil {
			continue
		}
		assert.Assert(l.trx == trx, "foreign lock in the trx table vector")
		if l.table == table && !l.IsWaiting() && l.Mode().StrongerOrEq(mode) {
			return l
		}
	}
	return nil
}

// tableCreate creates a table lock object and appends it to the table's
// queue. Does not check compatibility or deadlocks. cLock is the
// conflicting lock when the request comes from a priority transaction; the
// new lock is then queued right behind it and a suspended holder aborted.
// Caller holds mu.
func (s *System) tableCreate(table *Table, typeMode TypeMode, trx *Trx, cLock *Lock) *Lock {
	var lock *Lock

	switch typeMode.Mode() {
	case ModeAutoInc:
		table.nWaitingOrGrantedAutoincLocks++
		/* The reusable per-table lock instance serves the non-waiting
		case; a waiting AUTO-INC request gets its own struct. */
		if typeMode&FlagWait == 0 {
			lock = &table.autoincLock
			assert.Assert(table.autoincTrx == nil, "AUTO-INC lock is already held")
			table.autoincTrx = trx
			trx.lock.autoincLocks = append(trx.lock.autoincLocks, lock)
		}
	case ModeX, ModeS:
		table.nLockXOrS++
	}

	if lock == nil {
		lock = trx.allocTableLock()
	}

	lock.typeMode = typeMode | FlagTable
	lock.trx = trx
	lock.table = table
	lock.index = nil

	trx.lock.locks.append(lock)

	if cLock != nil && s.isPriority(trx) {
		table.locks.insertAfter(cLock, lock)

		s.waitMu.Lock()
		holder := cLock.trx
		if holder.lock.waiting && holder != trx {
			holder.lock.wasChosenAsDeadlockVictim = true
			s.cancelWaitingAndReleaseLocked(holder.lock.waitLock)
		}
		s.waitMu.Unlock()
	} else {
		table.locks.append(lock)
	}

	if typeMode&FlagWait != 0 {
		s.setLockAndTrxWait(lock)
	}

	trx.lock.tableLocks = append(trx.lock.tableLocks, lock)

	s.counters.TableLocksCreated.Inc()

	return lock
}

// tableOtherHasIncompatible finds a lock of another transaction on the
// table incompatible with mode, scanning the queue from the newest entry.
// Waiting locks count when withWaiting is set. Caller holds mu.
func (s *System) tableOtherHasIncompatible(
	trx *Trx,
	withWaiting bool,
	table *Table,
	mode Mode,
) *Lock {
	// Requests up to IX cannot conflict while no X or S lock is present.
	if mode <= ModeIX && table.nLockXOrS == 0 {
		return nil
	}

	for l := table.locks.last(); l != nil; l = l.tablePrev {
		if l.trx != trx &&
			!l.Mode().Compatible(mode) &&
			(withWaiting || !l.IsWaiting()) {
			return l
		}
	}
	return nil
}

// tableEnqueueWaiting enqueues a waiting table lock request and checks for
// deadlocks. Caller holds mu.
func (s *System) tableEnqueueWaiting(mode Mode, table *Table, trx *Trx, cLock *Lock) Status {
	if trx.WaitTimeout == 0 {
		s.counters.WaitTimeouts.Inc()
		return StatusWaitTimeout
	}

	lock := s.tableCreate(table, TypeMode(mode)|FlagWait, trx, cLock)

	if victim := s.checkAndResolve(lock, trx); victim != nil {
		assert.Assert(victim == trx, "resolver returned a foreign victim")
		/* The order matters: the lock must keep its state until removed
		from the queue. */
		s.tableRemoveLow(lock)
		resetLockAndTrxWaitLocked(lock)
		s.trxTableLocksRemove(lock)
		return StatusDeadlock
	}

	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	if trx.lock.waitLock == nil {
		/* Deadlock resolution chose another transaction as the victim
		and our lock got granted in the process. */
		return StatusSuccess
	}

	trx.lock.waiting = true
	trx.lock.wasChosenAsDeadlockVictim = false

	s.counters.LockWaits.Inc()
	s.log.Debugw("transaction waits for a table lock",
		"trx", trx.ID, "table", table.Name, "mode", mode)

	return StatusWait
}

// LockTable locks the table in the given mode, enqueueing a waiting
// request on conflict.
func (s *System) LockTable(table *Table, mode Mode, trx *Trx) Status {
	/* Look for an equal or stronger lock the same trx already has on the
	table; only this transaction can touch its own table lock vector. */
	if s.tableHas(trx, table, mode) != nil {
		return StatusSuccess
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	waitFor := s.tableOtherHasIncompatible(trx, true, table, mode)
	if waitFor != nil {
		return s.tableEnqueueWaiting(mode, table, trx, waitFor)
	}

	s.tableCreate(table, TypeMode(mode), trx, nil)
	return StatusSuccess
}

// tablePopAutoincLocks pops trailing entries off the trx's AUTO-INC vector,
// skipping nil gaps left by out-of-order removal.
func tablePopAutoincLocks(trx *Trx) {
	assert.Assert(len(trx.lock.autoincLocks) > 0, "AUTO-INC vector is empty")
	for {
		trx.lock.autoincLocks = trx.lock.autoincLocks[:len(trx.lock.autoincLocks)-1]
		if len(trx.lock.autoincLocks) == 0 ||
			trx.lock.autoincLocks[len(trx.lock.autoincLocks)-1] != nil {
			return
		}
	}
}

// tableRemoveAutoincLock unregisters an AUTO-INC lock from the owner's
// vector. The common case removes the most recent acquisition; a drop of a
// table mid-statement may leave nil gaps inside the vector instead.
func tableRemoveAutoincLock(lock *Lock, trx *Trx) {
	assert.Assert(lock.typeMode == TypeMode(ModeAutoInc)|FlagTable,
		"not an AUTO-INC table lock")
	assert.Assert(len(trx.lock.autoincLocks) > 0, "AUTO-INC vector is empty")

	last := trx.lock.autoincLocks[len(trx.lock.autoincLocks)-1]
	if last == lock {
		tablePopAutoincLocks(trx)
		return
	}
	assert.Assert(last != nil, "trailing nil in the AUTO-INC vector")

	for i := len(trx.lock.autoincLocks) - 2; i >= 0; i-- {
		if trx.lock.autoincLocks[i] == lock {
			trx.lock.autoincLocks[i] = nil
			return
		}
	}
	assert.Unreachable("AUTO-INC lock missing from the owner's vector")
}

// tableRemoveLow unlinks a table lock from the queue and the owner's lock
// list without granting anyone. Caller holds mu.
func (s *System) tableRemoveLow(lock *Lock) {
	trx := lock.trx
	table := lock.table

	switch lock.Mode() {
	case ModeAutoInc:
		assert.Assert((table.autoincTrx == trx) == !lock.IsWaiting(),
			"AUTO-INC holder out of sync with the wait flag")
		if table.autoincTrx == trx {
			table.autoincTrx = nil
			/* Granted AUTO-INC locks are freed in reverse acquisition
			order to avoid scanning the vector. */
			tableRemoveAutoincLock(lock, trx)
		}
		assert.Assert(table.nWaitingOrGrantedAutoincLocks > 0,
			"AUTO-INC counter underflow")
		table.nWaitingOrGrantedAutoincLocks--
	case ModeX, ModeS:
		assert.Assert(table.nLockXOrS > 0, "X/S counter underflow")
		table.nLockXOrS--
	}

	trx.lock.locks.remove(lock)
	table.locks.remove(lock)

	s.counters.TableLocksRemoved.Inc()
}

// tableHasToWaitInQueue checks whether a waiting table lock still has an
// earlier conflicting lock in its queue. Caller holds mu.
func (s *System) tableHasToWaitInQueue(waitLock *Lock) bool {
	assert.Assert(waitLock.IsWaiting(), "queue check on a granted lock")
	assert.Assert(waitLock.IsTable(), "table queue check on a record lock")

	table := waitLock.table
	if waitLock.Mode() <= ModeIX && table.nLockXOrS == 0 {
		return false
	}

	for l := table.locks.first(); l != waitLock; l = l.tableNext {
		assert.Assert(l != nil, "waiting lock fell off the table queue")
		if s.hasToWait(waitLock, l) {
			return true
		}
	}
	return false
}

// tableDequeue removes a table lock from the queue and grants waiters
// behind it that no longer conflict. Caller holds mu and waitMu.
func (s *System) tableDequeue(inLock *Lock) {
	assert.Assert(inLock.IsTable(), "table dequeue of a record lock")

	next := inLock.tableNext
	table := inLock.table

	s.tableRemoveLow(inLock)

	if inLock.Mode() <= ModeIX && table.nLockXOrS == 0 {
		return
	}

	for l := next; l != nil; l = l.tableNext {
		if l.IsWaiting() && !s.tableHasToWaitInQueue(l) {
			assert.Assert(l.trx != inLock.trx, "self-grant on table dequeue")
			s.grantLocked(l)
		}
	}
}

// trxTableLocksRemove blanks the lock's slot in the owner's table lock
// vector. Caller holds mu.
func (s *System) trxTableLocksRemove(lockToRemove *Lock) {
	trx := lockToRemove.trx

	for i, l := range trx.lock.tableLocks {
		if l == lockToRemove {
			trx.lock.tableLocks[i] = nil
			return
		}
	}
	assert.Unreachable("table lock missing from the owner's vector")
}

// releaseAutoincLocksLocked releases all AUTO-INC locks of the transaction
// in reverse acquisition order. Caller holds mu and waitMu.
func (s *System) releaseAutoincLocksLocked(trx *Trx) {
	for len(trx.lock.autoincLocks) > 0 {
		lock := trx.lock.autoincLocks[len(trx.lock.autoincLocks)-1]
		assert.Assert(lock != nil, "trailing nil in the AUTO-INC vector")
		s.tableDequeue(lock)
		s.trxTableLocksRemove(lock)
	}
}

// holdsAutoincLocks reports whether the transaction holds any AUTO-INC
// locks.
func holdsAutoincLocks(trx *Trx) bool {
	return len(trx.lock.autoincLocks) > 0
}

// UnlockTableAutoinc releases the AUTO-INC locks a transaction may hold.
// Called by the owning thread at the end of an SQL statement; AUTO-INC
// locks do not live until commit.
func (s *System) UnlockTableAutoinc(trx *Trx) {
	assert.Assert(trx.lock.waitLock == nil, "releasing AUTO-INC while suspended")

	if !holdsAutoincLocks(trx) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	s.releaseAutoincLocksLocked(trx)
}
