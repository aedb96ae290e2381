package locks

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

func TestImplicitLockConvertedToExplicitOnRead(t *testing.T) {
	e := newTestEnv(t)
	page := e.page(1, 8)
	const heapNo = common.HeapNo(3)

	// t1 inserted the row: no explicit lock exists, the record carries
	// t1's id as an implicit X lock.
	t1 := e.beginIX(t)
	t2 := e.beginIX(t)

	require.Zero(t, e.lockStructsOnPage(page.ID))

	// t2 runs SELECT ... FOR UPDATE over the row. The conversion
	// synthesizes an explicit X lock owned by t1, then t2 queues behind.
	st := e.sys.ClustRecReadCheckAndLock(page, heapNo, e.index, t1.ID, ModeX, FlagRecNotGap, t2)
	require.Equal(t, StatusWait, st)

	require.True(t, e.holdsExpl(TypeMode(ModeX)|FlagRecNotGap, page.ID, heapNo, t1),
		"the synthesized explicit lock belongs to the implicit holder")

	ch := e.asyncWait(t2)
	expectBlocked(t, ch)

	e.commit(t1)
	expectStatus(t, ch, StatusSuccess)
	require.True(t, e.holdsExpl(TypeMode(ModeX)|FlagRecNotGap, page.ID, heapNo, t2))

	e.commit(t2)
}

func TestImplicitLockOfCallerIsNotConverted(t *testing.T) {
	e := newTestEnv(t)
	page := e.page(1, 8)
	const heapNo = common.HeapNo(3)

	t1 := e.beginIX(t)

	// The caller reads its own freshly inserted row: no explicit lock
	// is needed or created.
	st := e.sys.ClustRecReadCheckAndLock(page, heapNo, e.index, t1.ID, ModeX, FlagRecNotGap, t1)
	require.Equal(t, StatusSuccess, st)
	require.Zero(t, e.lockStructsOnPage(page.ID))

	e.commit(t1)
}

func TestCommittedTrxIDTriggersNoConversion(t *testing.T) {
	e := newTestEnv(t)
	page := e.page(1, 8)
	const heapNo = common.HeapNo(3)

	old := e.beginIX(t)
	e.commit(old)

	t2 := e.beginIX(t)
	st := e.sys.ClustRecReadCheckAndLock(page, heapNo, e.index, old.ID, ModeS, 0, t2)
	require.Equal(t, StatusLockedRec, st)
	require.Equal(t, 1, e.lockStructsOnPage(page.ID), "only t2's own lock exists")

	e.commit(t2)
}

func TestClustModifyTakesRecordOnlyX(t *testing.T) {
	e := newTestEnv(t)
	page := e.page(1, 8)
	const heapNo = common.HeapNo(2)

	t1 := e.beginIX(t)
	t2 := e.beginIX(t)

	require.Equal(t, StatusSuccess,
		e.sys.ClustRecModifyCheckAndLock(page, heapNo, e.index, 0, t1))

	// Modify relies on the implicit lock: no struct is created while no
	// queue exists on the page.
	require.Zero(t, e.lockStructsOnPage(page.ID))

	// A conflicting reader forces the explicit queue into existence.
	require.Equal(t, StatusWait,
		e.sys.ClustRecReadCheckAndLock(page, heapNo, e.index, t1.ID, ModeS, 0, t2))
	ch := e.asyncWait(t2)

	e.commit(t1)
	expectStatus(t, ch, StatusSuccess)
	e.commit(t2)
}

// secResolver maps records to the transaction holding an implicit X lock,
// standing in for the row-version walk through the clustered index.
type secResolver struct {
	impl map[common.RecordID]*Trx
}

func (r *secResolver) ImplXLockedTrx(_ *Trx, rec common.RecordID, _ *Index) *Trx {
	trx := r.impl[rec]
	if trx == nil || trx.State() != TrxStateActive {
		return nil
	}
	trx.Ref()
	return trx
}

func TestSecRecReadConvertsThroughResolver(t *testing.T) {
	e := newTestEnv(t)
	resolver := &secResolver{impl: map[common.RecordID]*Trx{}}
	e.sys.resolver = resolver

	secIndex := &Index{Name: "idx_name", Table: e.table, Clustered: false}
	page := e.page(7, 8)
	const heapNo = common.HeapNo(2)

	t1 := e.beginIX(t)
	t2 := e.beginIX(t)

	rec := common.RecordID{Page: page.ID, HeapNo: heapNo}
	resolver.impl[rec] = t1

	// The page max trx id reaches into the active window, so the
	// resolver runs and synthesizes t1's explicit lock.
	st := e.sys.SecRecReadCheckAndLock(page, heapNo, secIndex, t1.ID, ModeS, 0, t2)
	require.Equal(t, StatusWait, st)
	require.True(t, e.holdsExpl(TypeMode(ModeX)|FlagRecNotGap, page.ID, heapNo, t1))

	ch := e.asyncWait(t2)
	e.commit(t1)
	expectStatus(t, ch, StatusSuccess)

	e.commit(t2)
}

func TestSecRecReadSkipsResolverForOldPages(t *testing.T) {
	e := newTestEnv(t)
	resolver := &secResolver{impl: map[common.RecordID]*Trx{}}
	e.sys.resolver = resolver

	secIndex := &Index{Name: "idx_name", Table: e.table, Clustered: false}
	page := e.page(7, 8)

	t2 := e.beginIX(t)

	// pageMaxTrxID of zero is below every active id: no implicit lock
	// can exist and the resolver must not be consulted.
	st := e.sys.SecRecReadCheckAndLock(page, 2, secIndex, 0, ModeS, 0, t2)
	require.Equal(t, StatusLockedRec, st)

	e.commit(t2)
}

func TestSecModifyLocksWithoutImplicitCheck(t *testing.T) {
	e := newTestEnv(t)
	secIndex := &Index{Name: "idx_name", Table: e.table, Clustered: false}
	page := e.page(7, 8)

	t1 := e.beginIX(t)

	require.Equal(t, StatusSuccess,
		e.sys.SecRecModifyCheckAndLock(page, 2, secIndex, t1))
	require.Zero(t, e.lockStructsOnPage(page.ID),
		"modify with an empty queue relies on the implicit lock")

	e.commit(t1)
}

func TestTableLockCoversRecordRequest(t *testing.T) {
	e := newTestEnv(t)
	page := e.page(1, 8)

	trx := e.reg.begin(RepeatableRead)
	require.Equal(t, StatusSuccess, e.sys.LockTable(e.table, ModeX, trx))

	require.Equal(t, StatusSuccess,
		e.sys.ClustRecReadCheckAndLock(page, 2, e.index, 0, ModeX, 0, trx),
		"a table X lock makes record locks unnecessary")
	require.Zero(t, e.lockStructsOnPage(page.ID))

	e.commit(trx)
}

func TestPredicateLocksConflictByIntersection(t *testing.T) {
	e := newTestEnv(t)
	spatial := &Index{Name: "idx_geo", Table: e.table, Clustered: false, Spatial: true}
	page := e.page(9, 8)

	t1 := e.beginIX(t)
	t2 := e.beginIX(t)
	t2.WaitTimeout = 0

	require.Equal(t, StatusLockedRec,
		e.sys.PrdtLock(page, spatial, &Predicate{MBR: MBR{0, 0, 10, 10}}, ModeS, t1))

	// Disjoint boxes do not conflict even with an incompatible mode.
	require.Equal(t, StatusLockedRec,
		e.sys.PrdtLock(page, spatial, &Predicate{MBR: MBR{20, 20, 30, 30}}, ModeX, t2))

	// An intersecting X box against the held S box must wait.
	require.Equal(t, StatusWaitTimeout,
		e.sys.PrdtLock(page, spatial, &Predicate{MBR: MBR{5, 5, 15, 15}}, ModeX, t2))

	e.commit(t1)
	e.commit(t2)
}

func TestSpatialInsertSkipsGapProtection(t *testing.T) {
	e := newTestEnv(t)
	spatial := &Index{Name: "idx_geo", Table: e.table, Clustered: false, Spatial: true}
	page := e.page(9, 8)

	t1 := e.beginIX(t)
	t2 := e.beginIX(t)

	// Some record lock exists on the successor, yet a spatial insert
	// does not take insert-intention gap locks.
	require.Equal(t, StatusLockedRec,
		e.sys.LockRec(false, TypeMode(ModeS), page, 4, spatial, t1))

	var inherit bool
	require.Equal(t, StatusSuccess,
		e.sys.RecInsertCheckAndLock(page, 4, spatial, t2, &inherit))

	e.commit(t1)
	e.commit(t2)
}
