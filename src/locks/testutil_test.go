package locks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RowStore/src/metrics"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

const testWaitTimeout = 2 * time.Second

type testEnv struct {
	sys   *System
	reg   *stubRegistry
	table *Table
	index *Index
}

// stubRegistry is the minimal transaction registry used by the tests; the
// real one lives in the txn package, which depends on this one.
type stubRegistry struct {
	trxs map[common.TxnID]*Trx
	next common.TxnID
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{trxs: map[common.TxnID]*Trx{}, next: 1}
}

func (r *stubRegistry) begin(iso IsolationLevel) *Trx {
	trx := NewTrx(r.next, iso, testWaitTimeout)
	r.trxs[r.next] = trx
	r.next++
	return trx
}

func (r *stubRegistry) Find(_ *Trx, id common.TxnID) *Trx {
	trx, ok := r.trxs[id]
	if !ok || trx.State() != TrxStateActive {
		return nil
	}
	trx.Ref()
	return trx
}

func (r *stubRegistry) MaxTrxID() common.TxnID { return r.next }

func (r *stubRegistry) MinTrxID() common.TxnID {
	lowest := r.next
	for id, trx := range r.trxs {
		if trx.State() == TrxStateActive && id < lowest {
			lowest = id
		}
	}
	return lowest
}

func (r *stubRegistry) ForEach(f func(*Trx) bool) {
	for _, trx := range r.trxs {
		if !f(trx) {
			return
		}
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := newStubRegistry()
	sys := New(
		Options{NCells: 64, DeadlockDetect: true, VictimizePriorityOnTooDeep: true},
		zap.NewNop().Sugar(),
		metrics.Nop(),
		reg,
		nil,
		nil,
	)
	t.Cleanup(sys.Close)

	table := NewTable(1, "accounts")
	return &testEnv{
		sys:   sys,
		reg:   reg,
		table: table,
		index: &Index{Name: "PRIMARY", Table: table, Clustered: true},
	}
}

func (e *testEnv) page(pageNo common.PageID, heapCount uint32) Page {
	return Page{
		ID:        common.PageIdentity{FileID: 1, PageID: pageNo},
		HeapCount: heapCount,
	}
}

// beginIX starts a transaction already holding IX on the test table.
func (e *testEnv) beginIX(t *testing.T) *Trx {
	t.Helper()
	trx := e.reg.begin(RepeatableRead)
	require.Equal(t, StatusSuccess, e.sys.LockTable(e.table, ModeIX, trx))
	return trx
}

// commit releases everything and retires the transaction.
func (e *testEnv) commit(trx *Trx) {
	e.sys.Release(trx)
	trx.MarkCommitted()
}

// asyncWait runs WaitFor in a goroutine and returns the result channel.
func (e *testEnv) asyncWait(trx *Trx) <-chan Status {
	ch := make(chan Status, 1)
	go func() {
		ch <- e.sys.WaitFor(context.Background(), trx)
	}()
	return ch
}

// expectStatus asserts that the wait resolves promptly with the status.
func expectStatus(t *testing.T, ch <-chan Status, want Status) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(testWaitTimeout + time.Second):
		t.Fatalf("wait did not resolve, expected %s", want)
	}
}

// expectBlocked asserts that the wait does not resolve within a grace
// period.
func expectBlocked(t *testing.T, ch <-chan Status) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("wait resolved early with %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// lockStructsOnPage counts lock structs in the record hash chain of a page.
func (e *testEnv) lockStructsOnPage(pid common.PageIdentity) int {
	e.sys.mu.Lock()
	defer e.sys.mu.Unlock()

	n := 0
	for l := e.sys.rec.firstOnPage(pid); l != nil; l = nextOnPage(l) {
		n++
	}
	return n
}

// holdsExpl reports whether trx holds a granted lock at least as strong as
// preciseMode on the record.
func (e *testEnv) holdsExpl(preciseMode TypeMode, pid common.PageIdentity, heapNo common.HeapNo, trx *Trx) bool {
	e.sys.mu.Lock()
	defer e.sys.mu.Unlock()
	return e.sys.recHasExpl(preciseMode, pid, heapNo, trx) != nil
}

// trxOwnsAnyLock reports whether any lock struct anywhere references trx.
func (e *testEnv) trxOwnsAnyLock(trx *Trx) bool {
	e.sys.mu.Lock()
	defer e.sys.mu.Unlock()
	return trx.lock.locks.first() != nil
}
