package locks

import (
	"fmt"

	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

const (
	// deadlockMaxDepth bounds the DFS stack; exceeding it terminates the
	// search with the joining transaction as victim.
	deadlockMaxDepth = 200
	// deadlockMaxCost bounds the number of visited nodes.
	deadlockMaxCost = 1_000_000
)

// heapNoNone marks a frame that refers to a table lock.
const heapNoNone = ^common.HeapNo(0)

// deadlockFrame is one saved DFS position.
type deadlockFrame struct {
	lock     *Lock
	waitLock *Lock
	heapNo   common.HeapNo
}

// deadlockChecker runs one bounded depth-first search over the waits-for
// graph. The frame stack is a fixed-size array: no allocation happens on
// the hot deadlock path and recursion depth stays bounded.
//
// The search runs under mu and waitMu.
type deadlockChecker struct {
	s *System

	cost      uint64
	start     *Trx
	tooDeep   bool
	waitLock  *Lock
	markStart uint64

	frames [deadlockMaxDepth]deadlockFrame
	nElems int
}

func (c *deadlockChecker) isTooDeep() bool {
	return c.nElems >= deadlockMaxDepth || c.cost > deadlockMaxCost
}

func (c *deadlockChecker) push(lock *Lock, heapNo common.HeapNo) bool {
	assert.Assert(lock.IsTable() == (heapNo == heapNoNone),
		"frame heap number out of sync with the lock shape")
	if c.nElems >= len(c.frames) {
		return false
	}
	c.frames[c.nElems] = deadlockFrame{lock: lock, waitLock: c.waitLock, heapNo: heapNo}
	c.nElems++
	return true
}

func (c *deadlockChecker) pop() (*Lock, common.HeapNo) {
	assert.Assert(c.nElems > 0, "pop from an empty deadlock stack")
	c.nElems--
	f := c.frames[c.nElems]
	c.waitLock = f.waitLock
	return f.lock, f.heapNo
}

// isVisited reports whether the lock owner's subtree was already fully
// searched in this invocation.
func (c *deadlockChecker) isVisited(lock *Lock) bool {
	return lock.trx.lock.deadlockMark > c.markStart
}

// getNextLock advances along the queue to the next lock owned by a
// transaction whose subtree is not searched yet. "Next" means the previous
// entry for table locks: table queues are traversed newest to oldest.
func (c *deadlockChecker) getNextLock(lock *Lock, heapNo common.HeapNo) *Lock {
	for {
		if lock.IsTable() {
			assert.Assert(heapNo == heapNoNone)
			lock = lock.tablePrev
		} else {
			assert.Assert(heapNo != heapNoNone)
			lock = recGetNext(heapNo, lock)
		}
		if lock == nil || !c.isVisited(lock) {
			break
		}
	}
	assert.Assert(lock == nil || lock.IsTable() == c.waitLock.IsTable(),
		"queue traversal switched lock shapes")
	return lock
}

// getFirstLock positions the traversal on the first lock of the current
// wait lock's queue: for record locks the oldest lock on the record, for
// table locks the newest entry of the table queue.
func (c *deadlockChecker) getFirstLock(heapNo *common.HeapNo) *Lock {
	lock := c.waitLock

	if !lock.IsTable() {
		*heapNo = lock.FirstSetBit().Expect("waiting lock covers no record")

		hash := c.s.hashFor(lock.typeMode)
		first := hash.firstOnPage(lock.pageID)
		assert.Assert(first != nil, "waiting lock on an empty page chain")
		if !first.IsSetBit(*heapNo) {
			first = recGetNext(*heapNo, first)
		}
		assert.Assert(first != nil && first != c.waitLock,
			"a waiting lock must queue behind at least one other lock")
		return first
	}

	// Table queues are traversed newest to oldest.
	*heapNo = heapNoNone
	last := lock.table.locks.last()
	assert.Assert(last != nil, "waiting lock on an empty table queue")
	if last == c.waitLock {
		last = last.tablePrev
	}
	assert.Assert(last != nil, "a waiting table lock must queue behind another lock")
	return last
}

// nextMark stamps a fully searched subtree. The 64-bit counter is
// monotonic for the process lifetime.
func (c *deadlockChecker) nextMark() uint64 {
	c.s.markCounter++
	assert.Assert(c.s.markCounter > 0, "deadlock mark counter wrapped")
	return c.s.markCounter
}

// search looks iteratively for a cycle reachable from the joining
// transaction's wait lock. Returns the victim, or nil when no deadlock
// exists (any more).
func (c *deadlockChecker) search() *Trx {
	assert.Assert(c.start != nil && c.waitLock != nil)
	assert.Assert(c.markStart <= c.s.markCounter)

	var heapNo common.HeapNo
	lock := c.getFirstLock(&heapNo)
	if c.isVisited(lock) {
		lock = c.getNextLock(lock, heapNo)
	}

	for {
		for c.nElems > 0 && lock == nil {
			var prev *Lock
			prev, heapNo = c.pop()
			lock = c.getNextLock(prev, heapNo)
		}

		if lock == nil {
			break
		}

		if lock == c.waitLock {
			/* The whole queue ahead of this wait lock has been
			searched: mark the subtree and backtrack. */
			assert.Assert(lock.trx.lock.deadlockMark <= c.markStart)
			lock.trx.lock.deadlockMark = c.nextMark()
			lock = nil
			continue
		}

		if !c.s.hasToWait(c.waitLock, lock) {
			lock = c.getNextLock(lock, heapNo)
			continue
		}

		trx2 := lock.trx

		if trx2 == c.start {
			// Found a cycle.
			c.notify(lock)
			return c.selectVictim()
		}

		if c.isTooDeep() {
			c.tooDeep = true
			return c.start
		}

		if wl := trx2.lock.waitLock; wl != nil && trx2.lock.waiting {
			/* The transaction ahead holds a conflicting lock and is
			itself waiting: descend into its wait queue. */
			c.cost++
			if !c.push(lock, heapNo) {
				c.tooDeep = true
				return c.start
			}
			c.waitLock = wl
			lock = c.getFirstLock(&heapNo)
			if c.isVisited(lock) {
				lock = c.getNextLock(lock, heapNo)
			}
		} else {
			lock = c.getNextLock(lock, heapNo)
		}
	}

	assert.Assert(c.nElems == 0, "deadlock search ended with frames on the stack")
	return nil
}

// trxWeightGE orders transactions for victim selection. Transactions that
// have edited non-transactional tables are heavier than any that have not;
// otherwise the weight is held locks plus modified rows.
func trxWeightGE(a, b *Trx) bool {
	if a.EditedNonTransactional != b.EditedNonTransactional {
		return a.EditedNonTransactional
	}
	return a.weight() >= b.weight()
}

// selectVictim picks the transaction to roll back once a cycle is found:
// the lighter of the joining transaction and the transaction whose wait
// closes the cycle (c.waitLock.trx), with priority transactions protected.
func (c *deadlockChecker) selectVictim() *Trx {
	assert.Assert(c.start.lock.waitLock != nil, "joining trx stopped waiting mid-search")
	assert.Assert(c.waitLock.trx != c.start, "self-edge in the waits-for graph")

	if trxWeightGE(c.waitLock.trx, c.start) {
		/* The joining transaction is not heavier: it becomes the
		victim, unless it is a protected priority transaction. */
		if c.s.isPriority(c.start) {
			return c.waitLock.trx
		}
		return c.start
	}

	if c.s.isPriority(c.waitLock.trx) {
		return c.start
	}
	return c.waitLock.trx
}

// notify records the detected deadlock in the retained report and the log.
func (c *deadlockChecker) notify(lock *Lock) {
	s := c.s

	s.latestDeadlock.Reset()
	w := &s.latestDeadlock

	fmt.Fprintf(w, "*** (1) TRANSACTION:\n")
	writeTrxInfo(w, c.waitLock.trx)
	fmt.Fprintf(w, "*** (1) WAITING FOR THIS LOCK TO BE GRANTED:\n")
	writeLockInfo(w, c.waitLock)
	fmt.Fprintf(w, "*** (2) TRANSACTION:\n")
	writeTrxInfo(w, lock.trx)
	fmt.Fprintf(w, "*** (2) HOLDS THE LOCK(S):\n")
	writeLockInfo(w, lock)

	/* The joining transaction may already have been granted its lock
	when an earlier round rolled back some other waiter. */
	if wl := c.start.lock.waitLock; wl != nil {
		fmt.Fprintf(w, "*** (2) WAITING FOR THIS LOCK TO BE GRANTED:\n")
		writeLockInfo(w, wl)
	}

	if s.opts.ReportAllDeadlocks {
		s.log.Warnw("transactions deadlock detected",
			"waiter", c.waitLock.trx.ID, "blocker", lock.trx.ID)
	}
}

// rollbackVictimLocked rolls back the transaction ahead that was selected
// as the victim. Caller holds mu and waitMu.
func (c *deadlockChecker) rollbackVictimLocked() {
	victim := c.waitLock.trx

	fmt.Fprintf(&c.s.latestDeadlock, "*** WE ROLL BACK TRANSACTION (1)\n")

	victim.lock.wasChosenAsDeadlockVictim = true
	c.s.cancelWaitingAndReleaseLocked(victim.lock.waitLock)
}

// rollbackPrint records the too-deep termination in the retained report.
func (c *deadlockChecker) rollbackPrint(victim *Trx, lock *Lock) {
	s := c.s
	s.latestDeadlock.Reset()
	w := &s.latestDeadlock

	fmt.Fprintf(w, "TOO DEEP OR LONG SEARCH IN THE LOCK TABLE WAITS-FOR GRAPH,"+
		" WE WILL ROLL BACK FOLLOWING TRANSACTION\n\n*** TRANSACTION:\n")
	writeTrxInfo(w, victim)
	fmt.Fprintf(w, "*** WAITING FOR THIS LOCK TO BE GRANTED:\n")
	writeLockInfo(w, lock)
}

// checkAndResolve checks whether the joining lock request closes a cycle
// in the waits-for graph and resolves every deadlock it finds by rolling
// back a victim. Returns trx if the joining transaction itself was chosen,
// nil if another victim was chosen or there is no deadlock (any more).
// Caller holds mu.
func (s *System) checkAndResolve(lock *Lock, trx *Trx) *Trx {
	if !s.opts.DeadlockDetect {
		return nil
	}

	var victim *Trx
	for {
		s.waitMu.Lock()
		c := &deadlockChecker{
			s:         s,
			start:     trx,
			waitLock:  lock,
			markStart: s.markCounter,
		}

		victim = c.search()

		if c.tooDeep {
			assert.Assert(victim == trx, "too-deep search must victimize the joiner")
			if !s.opts.VictimizePriorityOnTooDeep && s.isPriority(trx) &&
				c.waitLock.trx != trx {
				/* Configuration hook: spare the priority joiner and
				roll back the holder it waits for instead. */
				c.rollbackVictimLocked()
				s.deadlockFound = true
				s.counters.Deadlocks.Inc()
				s.waitMu.Unlock()
				victim = nil
				continue
			}
			c.rollbackPrint(victim, lock)
			s.deadlockFound = true
			s.counters.Deadlocks.Inc()
			s.log.Warnw("waits-for search too deep, rolling back the joining transaction",
				"trx", trx.ID)
			s.waitMu.Unlock()
			break
		}

		if victim != nil && victim != trx {
			assert.Assert(victim == c.waitLock.trx, "victim is not on the found cycle")
			c.rollbackVictimLocked()
			s.deadlockFound = true
			s.counters.Deadlocks.Inc()
			s.waitMu.Unlock()
			// Try to resolve the remaining deadlocks, if any.
			continue
		}

		if victim != nil {
			fmt.Fprintf(&s.latestDeadlock, "*** WE ROLL BACK TRANSACTION (2)\n")
			s.deadlockFound = true
			s.counters.Deadlocks.Inc()
		}
		s.waitMu.Unlock()
		break
	}

	return victim
}
