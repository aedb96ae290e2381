package locks

import (
	"context"
	"time"
)

// WaitFor suspends the caller until its enqueued lock request is granted,
// cancelled, or timed out. It is the wait-loop driver: call it after an
// acquisition operation returned StatusWait.
//
// Returns StatusSuccess when the lock was granted, StatusDeadlock when the
// transaction was chosen as a deadlock victim, and StatusWaitTimeout when
// the transaction's wait timeout expired or ctx was cancelled.
func (s *System) WaitFor(ctx context.Context, trx *Trx) Status {
	s.waitMu.Lock()
	ch := trx.lock.waitCh
	waiting := trx.lock.waiting
	s.waitMu.Unlock()

	if !waiting || ch == nil {
		// Granted or cancelled before the caller got here.
		return s.TrxHandleWait(trx)
	}

	var timeout <-chan time.Time
	if trx.WaitTimeout > 0 {
		t := time.NewTimer(trx.WaitTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ch:
		s.waitMu.Lock()
		victim := trx.lock.wasChosenAsDeadlockVictim
		if victim {
			trx.lock.wasChosenAsDeadlockVictim = false
		}
		s.waitMu.Unlock()
		if victim {
			return StatusDeadlock
		}
		return StatusSuccess
	case <-timeout:
		s.counters.WaitTimeouts.Inc()
		return s.resolveInterruptedWait(trx, StatusWaitTimeout)
	case <-ctx.Done():
		return s.resolveInterruptedWait(trx, StatusWaitTimeout)
	}
}

// resolveInterruptedWait finishes a wait that ended for a reason other
// than a grant signal. The grant may still have raced the timeout; the
// authoritative state is behind the latches.
func (s *System) resolveInterruptedWait(trx *Trx, interrupted Status) Status {
	switch s.TrxHandleWait(trx) {
	case StatusDeadlock:
		return StatusDeadlock
	case StatusSuccess:
		return StatusSuccess
	default:
		// The wait lock existed and has been cancelled.
		return interrupted
	}
}
