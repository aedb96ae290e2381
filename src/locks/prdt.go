package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// MBR is a minimum bounding rectangle, the payload of a spatial predicate
// lock.
type MBR struct {
	XMin, YMin float64
	XMax, YMax float64
}

// Intersects reports whether the two rectangles overlap, borders included.
func (m MBR) Intersects(o MBR) bool {
	return m.XMin <= o.XMax && o.XMin <= m.XMax &&
		m.YMin <= o.YMax && o.YMin <= m.YMax
}

// Predicate is the payload attached to spatial index locks. Predicate locks
// are carried on the page infimum slot; compatibility uses spatial
// intersection instead of heap-number matching.
type Predicate struct {
	MBR MBR
}

// prdtHasToWait decides conflicts for predicate locks: same transaction
// never waits, compatible basic modes never wait, a page-level predicate
// lock conflicts by page occupancy alone, and a predicate lock conflicts
// only when the bounding boxes intersect.
func (s *System) prdtHasToWait(trx *Trx, typeMode TypeMode, prdt *Predicate, lock2 *Lock) bool {
	if trx == lock2.trx || typeMode.Mode().Compatible(lock2.Mode()) {
		return false
	}

	if typeMode&FlagPrdtPage != 0 || lock2.typeMode&FlagPrdtPage != 0 {
		return true
	}

	if prdt == nil || lock2.prdt == nil {
		return true
	}

	return prdt.MBR.Intersects(lock2.prdt.MBR)
}

// PrdtLock acquires a predicate lock covering prdt's bounding box on a
// spatial index page. Predicate locks live on the page infimum; conflicts
// are decided by box intersection rather than heap-number matching.
func (s *System) PrdtLock(page Page, index *Index, prdt *Predicate, mode Mode, trx *Trx) Status {
	typeMode := TypeMode(mode) | FlagPredicate

	s.mu.Lock()
	defer s.mu.Unlock()

	first := s.prdt.firstOnPage(page.ID)
	if first == nil {
		l := s.recCreate(nil, typeMode, page, common.HeapNoInfimum, index, trx)
		l.prdt = prdt
		return StatusLockedRec
	}

	// A granted predicate lock of ours that already covers the box.
	for l := first; l != nil; l = nextOnPage(l) {
		if l.trx == trx && !l.IsWaiting() && l.Mode().StrongerOrEq(mode) &&
			l.prdt != nil && l.prdt.MBR.XMin <= prdt.MBR.XMin &&
			l.prdt.MBR.YMin <= prdt.MBR.YMin &&
			l.prdt.MBR.XMax >= prdt.MBR.XMax &&
			l.prdt.MBR.YMax >= prdt.MBR.YMax {
			return StatusSuccess
		}
	}

	for l := first; l != nil; l = nextOnPage(l) {
		if s.prdtHasToWait(trx, typeMode, prdt, l) {
			return s.recEnqueueWaiting(l, typeMode, page, common.HeapNoInfimum,
				index, trx, prdt)
		}
	}

	l := s.recCreate(nil, typeMode, page, common.HeapNoInfimum, index, trx)
	l.prdt = prdt
	return StatusLockedRec
}

// PrdtPageLock places a shared page-level spatial lock on the page; a
// repeated request by the same transaction is a no-op. It never waits, and
// PrdtLock does not check these page locks when placing predicate locks.
func (s *System) PrdtPageLock(page Page, index *Index, trx *Trx) Status {
	typeMode := TypeMode(ModeS) | FlagPrdtPage

	s.mu.Lock()
	defer s.mu.Unlock()

	for l := s.prdtPage.firstOnPage(page.ID); l != nil; l = nextOnPage(l) {
		if l.trx == trx && !l.IsWaiting() {
			return StatusSuccess
		}
	}

	s.recCreate(nil, typeMode, page, common.HeapNoInfimum, index, trx)
	return StatusLockedRec
}
