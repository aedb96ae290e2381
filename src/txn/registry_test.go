package txn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/RowStore/src/locks"
)

func TestRegistryAssignsMonotonicIDs(t *testing.T) {
	r := NewRegistry()

	a := r.Begin(locks.RepeatableRead, time.Second)
	b := r.Begin(locks.ReadCommitted, time.Second)
	require.Less(t, a.ID, b.ID)
	require.Equal(t, locks.ReadCommitted, b.IsolationLevel)
}

func TestFindReferencesActiveTransactions(t *testing.T) {
	r := NewRegistry()

	a := r.Begin(locks.RepeatableRead, time.Second)
	caller := r.Begin(locks.RepeatableRead, time.Second)

	found := r.Find(caller, a.ID)
	require.Same(t, a, found)
	require.True(t, a.IsReferenced())
	a.Unref()

	require.Nil(t, r.Find(caller, 9999), "unknown ids resolve to nil")

	a.MarkCommitted()
	require.Nil(t, r.Find(caller, a.ID), "committed transactions resolve to nil")
}

func TestMinAndMaxTrxIDs(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, r.MaxTrxID(), r.MinTrxID(), "empty registry: min equals max")

	a := r.Begin(locks.RepeatableRead, time.Second)
	b := r.Begin(locks.RepeatableRead, time.Second)

	require.Equal(t, a.ID, r.MinTrxID())
	require.Greater(t, r.MaxTrxID(), b.ID)

	a.MarkCommitted()
	r.Finish(a)
	require.Equal(t, b.ID, r.MinTrxID())
}

func TestForEachVisitsAll(t *testing.T) {
	r := NewRegistry()
	r.Begin(locks.RepeatableRead, time.Second)
	r.Begin(locks.RepeatableRead, time.Second)

	n := 0
	r.ForEach(func(*locks.Trx) bool {
		n++
		return true
	})
	require.Equal(t, 2, n)

	n = 0
	r.ForEach(func(*locks.Trx) bool {
		n++
		return false
	})
	require.Equal(t, 1, n, "a false return stops the walk")
}
