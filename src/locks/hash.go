package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// lockHash is an open hash table of record locks keyed by page identity.
// Each cell is a singly-linked chain threaded through Lock.hashNext;
// insertion appends at the end of the chain, which is what keeps page
// queues in FIFO request order.
type lockHash struct {
	cells []*Lock
}

func (h *lockHash) create(nCells uint64) {
	assert.Assert(nCells > 0, "hash table must have at least one cell")
	h.cells = make([]*Lock, nCells)
}

func (h *lockHash) free() {
	h.cells = nil
}

func (h *lockHash) cellIdx(pid common.PageIdentity) uint64 {
	return pid.Fold() % uint64(len(h.cells))
}

// firstOnPage returns the head of the page's chain, skipping entries of
// other pages folded into the same cell.
func (h *lockHash) firstOnPage(pid common.PageIdentity) *Lock {
	for l := h.cells[h.cellIdx(pid)]; l != nil; l = l.hashNext {
		if l.pageID == pid {
			return l
		}
	}
	return nil
}

// nextOnPage advances along the chain to the next lock of the same page.
func nextOnPage(l *Lock) *Lock {
	pid := l.pageID
	for n := l.hashNext; n != nil; n = n.hashNext {
		if n.pageID == pid {
			return n
		}
	}
	return nil
}

// insert appends the lock to the end of its cell chain.
func (h *lockHash) insert(l *Lock) {
	cell := &h.cells[h.cellIdx(l.pageID)]
	for *cell != nil {
		cell = &(*cell).hashNext
	}
	*cell = l
	l.hashNext = nil
}

// insertAfter chains l directly behind pos; used by the priority policy to
// keep priority transactions ordered ahead of lower-priority peers.
func (h *lockHash) insertAfter(pos, l *Lock) {
	assert.Assert(pos != nil, "insertAfter requires a position")
	l.hashNext = pos.hashNext
	pos.hashNext = l
}

func (h *lockHash) remove(l *Lock) {
	cell := &h.cells[h.cellIdx(l.pageID)]
	for *cell != nil && *cell != l {
		cell = &(*cell).hashNext
	}
	assert.Assert(*cell == l, "lock not found in its hash cell")
	*cell = l.hashNext
	l.hashNext = nil
}

// migrate rehashes every chain into a table with the new cell count,
// preserving relative chain order of locks that land in the same cell.
func (h *lockHash) migrate(nCells uint64) {
	old := h.cells
	h.create(nCells)
	for _, chain := range old {
		for chain != nil {
			next := chain.hashNext
			h.insert(chain)
			chain = next
		}
	}
}
