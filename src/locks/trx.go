package locks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// TrxState mirrors the lifecycle the lock manager cares about: only active
// transactions own locks; a committed-in-memory transaction must not get
// new explicit locks synthesized on its behalf.
type TrxState uint8

const (
	TrxStateActive TrxState = iota
	TrxStateCommitted
)

// recPoolSize is the number of pre-allocated record-lock structs per
// transaction; most transactions never lock more than a handful of pages.
const recPoolSize = 8

// tablePoolSize bounds the pre-allocated table-lock structs.
const tablePoolSize = 8

// Trx is the lock manager's view of a transaction.
type Trx struct {
	ID common.TxnID

	// mu protects trx-local state (state transitions, duplicates flag).
	// Lock ordering: System.mu → System.waitMu → Trx.mu.
	mu sync.Mutex

	state          TrxState
	refCount       atomic.Int64
	IsolationLevel IsolationLevel

	// Duplicates is set while the transaction runs INSERT ... ON DUPLICATE
	// or REPLACE; it flips which of its locks count as update-taken for
	// the READ COMMITTED gap-inheritance exception.
	Duplicates bool

	// UndoNo counts the rows this transaction has modified; it feeds the
	// deadlock victim weight.
	UndoNo uint64

	// EditedNonTransactional outranks any weight: such transactions are
	// never preferred as deadlock victims.
	EditedNonTransactional bool

	// WaitTimeout of zero refuses any enqueue with StatusWaitTimeout.
	WaitTimeout time.Duration

	lock trxLockState
}

// trxLockState is everything guarded by the lock-system latches rather than
// the transaction itself.
type trxLockState struct {
	// locks is the intrusive list of all lock structs this trx owns,
	// in acquisition order. Guarded by System.mu.
	locks trxLockList

	// waitLock is the single lock request this trx is suspended on, or
	// nil. The pointer and the wait channel are guarded by System.waitMu.
	waitLock *Lock
	waitCh   chan struct{}
	// waiting is set while a suspended caller expects a wake-up signal.
	waiting bool

	wasChosenAsDeadlockVictim bool

	// cancel marks a cancellation in progress so that reentrant paths
	// (priority-abort while another thread holds this trx's mutex) can
	// detect it. Guarded by System.mu.
	cancel bool

	// deadlockMark tags the last deadlock search that fully explored this
	// trx's subtree. Guarded by System.mu.
	deadlockMark uint64

	// Pre-allocated lock structs, used before falling back to the heap.
	recPool     [recPoolSize]Lock
	recCached   int
	tablePool   [tablePoolSize]Lock
	tableCached int

	// tableLocks records table lock structs in acquisition order; slots
	// may be nil where a lock was removed out of order.
	tableLocks []*Lock

	// autoincLocks records granted AUTO-INC locks in acquisition order;
	// they are released in reverse order at end of statement.
	autoincLocks []*Lock

	nRecLocks int
}

func NewTrx(id common.TxnID, iso IsolationLevel, waitTimeout time.Duration) *Trx {
	return &Trx{
		ID:             id,
		state:          TrxStateActive,
		IsolationLevel: iso,
		WaitTimeout:    waitTimeout,
	}
}

func (t *Trx) State() TrxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Trx) MarkCommitted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TrxStateCommitted
}

// Ref/Unref implement the registry's reference-count contract: a referenced
// transaction cannot be committed and reused while a reader is converting
// its implicit lock.
func (t *Trx) Ref()   { t.refCount.Add(1) }
func (t *Trx) Unref() { t.refCount.Add(-1) }

func (t *Trx) IsReferenced() bool { return t.refCount.Load() > 0 }

// WaitChannel returns the channel the external wait driver blocks on. It is
// closed when the lock is granted or the wait is cancelled.
// Valid only between an enqueue returning StatusWait and the wake-up.
func (t *Trx) WaitChannel() <-chan struct{} {
	return t.lock.waitCh
}

// WasChosenAsDeadlockVictim must be read after the wait channel closed.
func (t *Trx) WasChosenAsDeadlockVictim() bool {
	return t.lock.wasChosenAsDeadlockVictim
}

// allocRecLock hands out a pooled record-lock struct while any remain,
// then falls back to the heap.
func (t *Trx) allocRecLock() *Lock {
	if t.lock.recCached < recPoolSize {
		l := &t.lock.recPool[t.lock.recCached]
		t.lock.recCached++
		*l = Lock{}
		return l
	}
	return &Lock{}
}

func (t *Trx) allocTableLock() *Lock {
	if t.lock.tableCached < tablePoolSize {
		l := &t.lock.tablePool[t.lock.tableCached]
		t.lock.tableCached++
		*l = Lock{}
		return l
	}
	return &Lock{}
}

// weight orders deadlock victims: fewer locks and fewer modified rows make
// a transaction cheaper to roll back.
func (t *Trx) weight() uint64 {
	return uint64(t.lock.locks.len()) + t.UndoNo
}
