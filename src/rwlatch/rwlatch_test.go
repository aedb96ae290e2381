package rwlatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadLockBasic(t *testing.T) {
	var l Latch

	require.True(t, l.ReadTryLock(false))
	require.True(t, l.ReadTryLock(false))
	require.True(t, l.IsReadLocked())
	require.False(t, l.IsWriteLocked())

	require.False(t, l.ReadUnlock(), "a reader remains, no writer wake-up")
	require.True(t, l.ReadUnlock(), "last reader should report wake-up")
	require.False(t, l.IsLockedOrWaiting())
}

func TestWriteLockExcludesEverything(t *testing.T) {
	var l Latch

	require.True(t, l.WriteTryLock())
	require.True(t, l.IsWriteLocked())

	require.False(t, l.ReadTryLock(false))
	require.False(t, l.UpdateTryLock())
	require.False(t, l.WriteTryLock())

	l.WriteUnlock()
	require.False(t, l.IsLockedOrWaiting())
}

func TestUpdateLockCoexistsWithReaders(t *testing.T) {
	var l Latch

	require.True(t, l.UpdateTryLock())
	require.True(t, l.IsUpdateLocked())

	require.True(t, l.ReadTryLock(false), "readers may join an update lock")
	require.False(t, l.UpdateTryLock(), "second updater must fail")
	require.False(t, l.WriteTryLock())

	require.False(t, l.UpgradeTryLock(), "upgrade must wait for readers to drain")
	l.ReadUnlock()
	require.True(t, l.UpgradeTryLock())
	require.True(t, l.IsWriteLocked())
	require.False(t, l.IsUpdateLocked())

	l.WriteUnlock()
}

func TestWriterWaitingBlocksNewReaders(t *testing.T) {
	var l Latch

	require.True(t, l.ReadTryLock(false))
	l.WriteLockWaitStart()

	require.False(t, l.ReadTryLock(false), "pending writer must starve new readers")
	require.False(t, l.UpdateTryLock())
	require.False(t, l.WriteLockPoll(), "reader still holds the latch")

	require.True(t, l.ReadUnlock(), "writer should be woken")
	require.True(t, l.WriteLockPoll())
	require.True(t, l.IsWriteLocked())
	l.WriteUnlock()
}

func TestReadTryLockPrioritizeUpdater(t *testing.T) {
	var l Latch

	// An updater holds the latch and a writer announces itself. A plain
	// reader backs off; a reader prioritizing the updater gets through,
	// since the writer cannot proceed before the updater anyway.
	require.True(t, l.UpdateTryLock())
	l.WriteLockWaitStart()

	require.False(t, l.ReadTryLock(false))
	require.True(t, l.ReadTryLock(true))

	l.ReadUnlock()
	l.UpdateUnlock()

	// With only the pending-writer flag set, both variants back off.
	require.False(t, l.ReadTryLock(false))
	require.False(t, l.ReadTryLock(true))

	require.True(t, l.WriteLockPoll())
	l.WriteUnlock()
}

func TestUpgradeKeepsWriterWaitingFlag(t *testing.T) {
	var l Latch

	require.True(t, l.UpdateTryLock())
	l.WriteLockWaitStart()

	require.True(t, l.UpgradeTryLock(), "upgrade succeeds despite a pending writer")
	require.True(t, l.IsWriteLocked())

	l.WriteUnlock()
	require.False(t, l.IsLocked())
	require.True(t, l.IsLockedOrWaiting(), "pending flag survives the unlock")
}

func TestWriteLockPollReassertsClearedFlag(t *testing.T) {
	var l Latch

	require.True(t, l.WriteTryLock())
	require.False(t, l.WriteLockPoll(), "poll must fail while the writer holds the latch")
	require.True(t, l.IsLockedOrWaiting())

	l.WriteUnlock()
	require.True(t, l.WriteLockPoll(), "re-asserted flag converts on the next poll")
	l.WriteUnlock()
}

func TestConcurrentReadersNeverOverlapWriter(t *testing.T) {
	var l Latch
	var inWrite, overlap int32
	var mu sync.Mutex

	const goroutines = 16
	const iters = 2000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(writer bool) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				if writer {
					if !l.WriteTryLock() {
						continue
					}
					mu.Lock()
					if inWrite != 0 {
						overlap++
					}
					inWrite++
					mu.Unlock()

					mu.Lock()
					inWrite--
					mu.Unlock()
					l.WriteUnlock()
				} else {
					if !l.ReadTryLock(false) {
						continue
					}
					mu.Lock()
					if inWrite != 0 {
						overlap++
					}
					mu.Unlock()
					l.ReadUnlock()
				}
			}
		}(g%4 == 0)
	}
	wg.Wait()

	require.Zero(t, overlap, "writer overlapped with readers")
	require.False(t, l.IsLockedOrWaiting())
}
