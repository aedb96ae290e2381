package locks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

func TestResizeKeepsChainsIntact(t *testing.T) {
	e := newTestEnv(t)

	t1 := e.beginIX(t)
	pages := make([]Page, 0, 50)
	for i := 0; i < 50; i++ {
		page := e.page(common.PageID(i), 8)
		pages = append(pages, page)
		require.Equal(t, StatusLockedRec,
			e.sys.ClustRecReadCheckAndLock(page, 2, e.index, 0, ModeS, 0, t1))
	}

	e.sys.Resize(7)
	for _, page := range pages {
		require.True(t, e.holdsExpl(TypeMode(ModeS), page.ID, 2, t1))
	}

	e.sys.Resize(4096)
	for _, page := range pages {
		require.True(t, e.holdsExpl(TypeMode(ModeS), page.ID, 2, t1))
	}

	e.commit(t1)
}

func TestResizePreservesQueueOrder(t *testing.T) {
	e := newTestEnv(t)
	page := e.page(3, 8)

	t1 := e.beginIX(t)
	t2 := e.beginIX(t)

	require.Equal(t, StatusLockedRec,
		e.sys.ClustRecReadCheckAndLock(page, 2, e.index, 0, ModeS, 0, t1))
	require.Equal(t, StatusWait,
		e.sys.ClustRecReadCheckAndLock(page, 2, e.index, 0, ModeX, 0, t2))
	ch := e.asyncWait(t2)

	e.sys.Resize(3)

	e.sys.mu.Lock()
	first := e.sys.rec.firstOnPage(page.ID)
	e.sys.mu.Unlock()
	require.Same(t, t1, first.trx, "rehashing must keep chain order")

	e.commit(t1)
	expectStatus(t, ch, StatusSuccess)
	e.commit(t2)
}

func TestPrintInfoAllTransactions(t *testing.T) {
	e := newTestEnv(t)
	page := e.page(1, 8)

	t1 := e.beginIX(t)
	t2 := e.beginIX(t)

	require.Equal(t, StatusLockedRec,
		e.sys.ClustRecReadCheckAndLock(page, 2, e.index, 0, ModeX, FlagRecNotGap, t1))
	require.Equal(t, StatusWait,
		e.sys.ClustRecReadCheckAndLock(page, 2, e.index, 0, ModeS, 0, t2))

	var b strings.Builder
	e.sys.PrintInfoAllTransactions(&b)
	out := b.String()

	require.Contains(t, out, "TRANSACTIONS")
	require.Contains(t, out, "TABLE LOCK table `accounts`")
	require.Contains(t, out, "RECORD LOCKS")
	require.Contains(t, out, "locks rec but not gap")
	require.Contains(t, out, "WAITING FOR THIS LOCK")

	require.Equal(t, StatusWait, e.sys.TrxHandleWait(t2))
	e.commit(t1)
	e.commit(t2)
}

func TestLatestDeadlockReportIsRetained(t *testing.T) {
	e := newTestEnv(t)
	p1 := e.page(1, 8)
	p2 := e.page(2, 8)

	t1 := e.beginIX(t)
	t2 := e.beginIX(t)

	require.Equal(t, StatusLockedRec,
		e.sys.ClustRecReadCheckAndLock(p1, 2, e.index, 0, ModeX, 0, t1))
	require.Equal(t, StatusLockedRec,
		e.sys.ClustRecReadCheckAndLock(p2, 2, e.index, 0, ModeX, 0, t2))
	require.Equal(t, StatusWait,
		e.sys.ClustRecReadCheckAndLock(p1, 2, e.index, 0, ModeX, 0, t2))
	ch := e.asyncWait(t2)

	require.Equal(t, StatusDeadlock,
		e.sys.ClustRecReadCheckAndLock(p2, 2, e.index, 0, ModeX, 0, t1))

	var b strings.Builder
	e.sys.PrintInfoSummary(&b)
	require.Contains(t, b.String(), "LATEST DETECTED DEADLOCK")
	require.Contains(t, b.String(), "WE ROLL BACK TRANSACTION")

	e.commit(t1)
	expectStatus(t, ch, StatusSuccess)
	e.commit(t2)
}
