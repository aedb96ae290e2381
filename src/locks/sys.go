package locks

import (
	"bytes"
	"sync"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/RowStore/src/metrics"
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// Registry is the transaction registry the lock manager consults when it
// needs to resolve a transaction id stored in a record. Find returns a
// referenced transaction (caller must Unref) or nil if the id is not active.
type Registry interface {
	Find(caller *Trx, id common.TxnID) *Trx
	MaxTrxID() common.TxnID
	MinTrxID() common.TxnID
	// ForEach visits every known transaction until the callback returns
	// false. Used by the diagnostics dump.
	ForEach(f func(*Trx) bool)
}

// ImplicitLockResolver finds the transaction holding an implicit X lock on
// a secondary index record by walking record versions in the clustered
// index. The returned transaction is referenced, or nil.
type ImplicitLockResolver interface {
	ImplXLockedTrx(caller *Trx, rec common.RecordID, index *Index) *Trx
}

// Options configure a lock System.
type Options struct {
	// NCells is the initial number of hash cells of each lock table.
	NCells uint64
	// DeadlockDetect disables the waits-for search when false; waits then
	// resolve by timeout only.
	DeadlockDetect bool
	// ReportAllDeadlocks logs every detected deadlock at warn level.
	ReportAllDeadlocks bool
	// VictimizePriorityOnTooDeep preserves the upstream behavior of
	// choosing the joining transaction as victim when the search exceeds
	// its bounds even if the policy marks it as priority.
	VictimizePriorityOnTooDeep bool
}

// System is the process-wide lock table. One instance per engine.
//
// Latching: mu is the global lock-table latch guarding the three hash
// tables, every lock struct's layout (bitmaps, mode bits, intrusive links),
// per-trx lock vectors and per-table queues. waitMu guards wait-side state:
// each trx's waitLock pointer, wait channel and victim flag. waitMu is
// acquired while holding mu when a grant or cancellation happens; it is
// never held around a latch acquisition of mu.
type System struct {
	mu     sync.Mutex
	waitMu sync.Mutex

	rec      lockHash
	prdt     lockHash
	prdtPage lockHash

	log      *zap.SugaredLogger
	counters *metrics.Counters
	policy   PriorityPolicy

	registry Registry
	resolver ImplicitLockResolver

	opts Options

	// markCounter stamps fully-searched subtrees during deadlock checks.
	markCounter uint64

	deadlockFound bool
	// latestDeadlock retains the report of the most recent deadlock for
	// the diagnostics dump.
	latestDeadlock bytes.Buffer

	initialised bool
}

// New creates the lock system. registry may be nil if implicit-lock
// conversion is never used; resolver may be nil if there are no secondary
// indexes.
func New(
	opts Options,
	log *zap.SugaredLogger,
	counters *metrics.Counters,
	registry Registry,
	resolver ImplicitLockResolver,
	policy PriorityPolicy,
) *System {
	assert.Assert(opts.NCells > 0, "lock system needs at least one hash cell")

	s := &System{
		log:      log,
		counters: counters,
		policy:   policy,
		registry: registry,
		resolver: resolver,
		opts:     opts,
	}
	s.rec.create(opts.NCells)
	s.prdt.create(opts.NCells)
	s.prdtPage.create(opts.NCells)
	s.initialised = true

	return s
}

// Resize rehashes all three lock tables online.
func (s *System) Resize(nCells uint64) {
	assert.Assert(nCells > 0, "lock system needs at least one hash cell")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.migrate(nCells)
	s.prdt.migrate(nCells)
	s.prdtPage.migrate(nCells)
}

// Close frees the hash tables. The system must not be used afterwards.
func (s *System) Close() {
	if !s.initialised {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.free()
	s.prdt.free()
	s.prdtPage.free()
	s.initialised = false
}

// hashFor picks the hash table a record lock belongs to by its flags.
func (s *System) hashFor(tm TypeMode) *lockHash {
	switch {
	case tm&FlagPredicate != 0:
		return &s.prdt
	case tm&FlagPrdtPage != 0:
		return &s.prdtPage
	default:
		return &s.rec
	}
}

// recGetFirst positions on the first lock covering (page, heapNo) in the
// given hash, in chain (request) order.
func recGetFirst(h *lockHash, pid common.PageIdentity, heapNo common.HeapNo) *Lock {
	for l := h.firstOnPage(pid); l != nil; l = nextOnPage(l) {
		if l.IsSetBit(heapNo) {
			return l
		}
	}
	return nil
}

// recGetNext advances to the next lock in the chain covering heapNo.
func recGetNext(heapNo common.HeapNo, l *Lock) *Lock {
	for n := nextOnPage(l); n != nil; n = nextOnPage(n) {
		if n.IsSetBit(heapNo) {
			return n
		}
	}
	return nil
}

// DeadlockFound reports whether any deadlock has been detected since start.
func (s *System) DeadlockFound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlockFound
}
