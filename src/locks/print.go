package locks

import (
	"fmt"
	"io"
)

// writeTrxInfo prints one transaction's summary line in the diagnostic
// dump format.
func writeTrxInfo(w io.Writer, trx *Trx) {
	state := "ACTIVE"
	if trx.State() == TrxStateCommitted {
		state = "COMMITTED IN MEMORY"
	}
	fmt.Fprintf(w, "TRANSACTION %d, %s, %d lock struct(s), %d row lock(s), undo log entries %d\n",
		trx.ID, state, trx.lock.locks.len(), trx.lock.nRecLocks, trx.UndoNo)
}

// writeLockInfo pretty-prints a single lock.
func writeLockInfo(w io.Writer, lock *Lock) {
	if lock.IsTable() {
		fmt.Fprintf(w, "TABLE LOCK table `%s` trx id %d lock mode %s",
			lock.table.Name, lock.trx.ID, lock.Mode())
		if lock.IsWaiting() {
			fmt.Fprint(w, " waiting")
		}
		fmt.Fprintln(w)
		return
	}

	fmt.Fprintf(w, "RECORD LOCKS page %s index %s of table `%s` trx id %d lock mode %s",
		lock.pageID, lock.index.Name, lock.index.Table.Name, lock.trx.ID, lock.Mode())
	switch {
	case lock.typeMode&FlagPrdtPage != 0:
		fmt.Fprint(w, " predicate page lock")
	case lock.typeMode&FlagPredicate != 0:
		fmt.Fprint(w, " predicate lock")
	case lock.IsGap():
		fmt.Fprint(w, " locks gap before rec")
	case lock.IsRecordNotGap():
		fmt.Fprint(w, " locks rec but not gap")
	}
	if lock.IsInsertIntention() {
		fmt.Fprint(w, " insert intention")
	}
	if lock.IsWaiting() {
		fmt.Fprint(w, " waiting")
	}

	fmt.Fprint(w, " heap no(s)")
	for heapNo := uint32(0); heapNo < lock.nBits; heapNo++ {
		if lock.bitmap[heapNo/8]&(1<<(heapNo%8)) != 0 {
			fmt.Fprintf(w, " %d", heapNo)
		}
	}
	fmt.Fprintln(w)
}

// nLocks counts record lock structs in one hash. Caller holds mu.
func (h *lockHash) nLocks() int {
	n := 0
	for _, chain := range h.cells {
		for l := chain; l != nil; l = l.hashNext {
			n++
		}
	}
	return n
}

// PrintInfoSummary writes the lock-system summary: chain sizes and the
// retained report of the latest deadlock, if any.
func (s *System) PrintInfoSummary(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deadlockFound {
		fmt.Fprintln(w, "------------------------")
		fmt.Fprintln(w, "LATEST DETECTED DEADLOCK")
		fmt.Fprintln(w, "------------------------")
		_, _ = w.Write(s.latestDeadlock.Bytes())
	}

	fmt.Fprintln(w, "------------")
	fmt.Fprintln(w, "TRANSACTIONS")
	fmt.Fprintln(w, "------------")
	fmt.Fprintf(w, "Total number of record lock structs in row lock hash table %d\n",
		s.rec.nLocks())
}

// PrintInfoAllTransactions writes a human-readable summary of the lock
// system and every known transaction's lock state. The format is for
// operators, not machines.
func (s *System) PrintInfoAllTransactions(w io.Writer) {
	s.PrintInfoSummary(w)

	if s.registry == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.ForEach(func(trx *Trx) bool {
		fmt.Fprint(w, "---")
		writeTrxInfo(w, trx)

		s.waitMu.Lock()
		if wl := trx.lock.waitLock; wl != nil {
			fmt.Fprintln(w, "------- TRX HAS BEEN WAITING FOR THIS LOCK TO BE GRANTED:")
			writeLockInfo(w, wl)
			fmt.Fprintln(w, "------------------")
		}
		s.waitMu.Unlock()

		for l := trx.lock.locks.first(); l != nil; l = l.trxNext {
			writeLockInfo(w, l)
		}
		return true
	})
}
