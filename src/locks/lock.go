package locks

import (
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
	"github.com/Blackdeer1524/RowStore/src/pkg/optional"
)

// Page describes the index page a record lock request refers to. The lock
// manager never reads page bytes; the btree caller supplies the identity
// and the current slot-directory size.
type Page struct {
	ID common.PageIdentity
	// HeapCount is the number of heap slots currently allocated on the
	// page (including infimum and supremum). It sizes new lock bitmaps.
	HeapCount uint32
}

// Index is the minimal view of an index the lock manager needs.
type Index struct {
	Name      string
	Table     *Table
	Clustered bool
	Spatial   bool
}

// Table anchors the per-table lock queue and the AUTO-INC state.
type Table struct {
	ID   common.TableID
	Name string

	// Intrusive doubly-linked queue of table locks, oldest first.
	locks lockList

	// Number of granted or waiting X or S table locks. When zero, requests
	// up to IX never need to scan the queue.
	nLockXOrS int

	// Reusable lock object for the non-waiting AUTO-INC case and the
	// transaction currently holding it.
	autoincLock                   Lock
	autoincTrx                    *Trx
	nWaitingOrGrantedAutoincLocks int

	// Number of record locks on this table's pages, kept for diagnostics;
	// victim weighting does not read it.
	nRecLocks int
}

func NewTable(id common.TableID, name string) *Table {
	return &Table{ID: id, Name: name}
}

// Lock is the tagged record-or-table lock variant. Exactly one of the two
// shapes is populated, discriminated by FlagTable in typeMode.
type Lock struct {
	trx      *Trx
	typeMode TypeMode
	index    *Index // nil for table locks

	// Record shape: page identity, bitmap over heap numbers, position in
	// the page hash chain, optional spatial payload.
	pageID   common.PageIdentity
	nBits    uint32
	bitmap   []byte
	prdt     *Predicate
	hashNext *Lock

	// Table shape.
	table                *Table
	tablePrev, tableNext *Lock

	// Position in the owner transaction's lock list.
	trxPrev, trxNext *Lock
}

func (l *Lock) Trx() *Trx          { return l.trx }
func (l *Lock) TypeMode() TypeMode { return l.typeMode }
func (l *Lock) Mode() Mode         { return l.typeMode.Mode() }
func (l *Lock) Index() *Index      { return l.index }

func (l *Lock) IsTable() bool           { return l.typeMode.IsTable() }
func (l *Lock) IsWaiting() bool         { return l.typeMode.IsWaiting() }
func (l *Lock) IsGap() bool             { return l.typeMode.IsGap() }
func (l *Lock) IsRecordNotGap() bool    { return l.typeMode.IsRecordNotGap() }
func (l *Lock) IsInsertIntention() bool { return l.typeMode.IsInsertIntention() }

func (l *Lock) PageID() common.PageIdentity {
	assert.Assert(!l.IsTable(), "page id requested from a table lock")
	return l.pageID
}

func (l *Lock) Table() *Table {
	if l.IsTable() {
		return l.table
	}
	return l.index.Table
}

// bitmap helpers; heap numbers index bits LSB-first within each byte.

func (l *Lock) NBits() uint32 { return l.nBits }

func (l *Lock) IsSetBit(heapNo common.HeapNo) bool {
	if uint32(heapNo) >= l.nBits {
		return false
	}
	return l.bitmap[heapNo/8]&(1<<(heapNo%8)) != 0
}

func (l *Lock) setBit(heapNo common.HeapNo) {
	assert.Assert(uint32(heapNo) < l.nBits,
		"heap no %d out of bitmap range %d", heapNo, l.nBits)
	l.bitmap[heapNo/8] |= 1 << (heapNo % 8)
}

// resetBit clears the bit and reports whether it was set.
func (l *Lock) resetBit(heapNo common.HeapNo) bool {
	if uint32(heapNo) >= l.nBits {
		return false
	}
	mask := byte(1 << (heapNo % 8))
	was := l.bitmap[heapNo/8]&mask != 0
	l.bitmap[heapNo/8] &^= mask
	return was
}

func (l *Lock) resetBitmap() {
	for i := range l.bitmap {
		l.bitmap[i] = 0
	}
}

// FirstSetBit finds the lowest heap number this lock covers.
func (l *Lock) FirstSetBit() optional.Optional[common.HeapNo] {
	for i, b := range l.bitmap {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				return optional.Some(common.HeapNo(i*8 + bit))
			}
		}
	}
	return optional.None[common.HeapNo]()
}

// copyShallow clones the lock header and bitmap for the reorganize snapshot;
// list links are not carried over.
func (l *Lock) copyShallow() *Lock {
	c := &Lock{
		trx:      l.trx,
		typeMode: l.typeMode,
		index:    l.index,
		pageID:   l.pageID,
		nBits:    l.nBits,
		bitmap:   make([]byte, len(l.bitmap)),
		prdt:     l.prdt,
	}
	copy(c.bitmap, l.bitmap)
	return c
}

// lockList is an intrusive doubly-linked list threaded through table locks.
type lockList struct {
	head, tail *Lock
}

func (q *lockList) first() *Lock { return q.head }
func (q *lockList) last() *Lock  { return q.tail }

func (q *lockList) append(l *Lock) {
	l.tablePrev = q.tail
	l.tableNext = nil
	if q.tail != nil {
		q.tail.tableNext = l
	} else {
		q.head = l
	}
	q.tail = l
}

// insertAfter places l immediately after pos (pos == nil prepends).
func (q *lockList) insertAfter(pos, l *Lock) {
	if pos == nil {
		l.tablePrev = nil
		l.tableNext = q.head
		if q.head != nil {
			q.head.tablePrev = l
		} else {
			q.tail = l
		}
		q.head = l
		return
	}
	l.tablePrev = pos
	l.tableNext = pos.tableNext
	if pos.tableNext != nil {
		pos.tableNext.tablePrev = l
	} else {
		q.tail = l
	}
	pos.tableNext = l
}

func (q *lockList) remove(l *Lock) {
	if l.tablePrev != nil {
		l.tablePrev.tableNext = l.tableNext
	} else {
		assert.Assert(q.head == l, "lock not on this list")
		q.head = l.tableNext
	}
	if l.tableNext != nil {
		l.tableNext.tablePrev = l.tablePrev
	} else {
		q.tail = l.tablePrev
	}
	l.tablePrev, l.tableNext = nil, nil
}

// trxLockList is the same intrusive structure threaded through the owner
// transaction's links.
type trxLockList struct {
	head, tail *Lock
	length     int
}

func (q *trxLockList) first() *Lock { return q.head }
func (q *trxLockList) last() *Lock  { return q.tail }
func (q *trxLockList) len() int     { return q.length }

func (q *trxLockList) append(l *Lock) {
	l.trxPrev = q.tail
	l.trxNext = nil
	if q.tail != nil {
		q.tail.trxNext = l
	} else {
		q.head = l
	}
	q.tail = l
	q.length++
}

func (q *trxLockList) remove(l *Lock) {
	if l.trxPrev != nil {
		l.trxPrev.trxNext = l.trxNext
	} else {
		assert.Assert(q.head == l, "lock not on the trx list")
		q.head = l.trxNext
	}
	if l.trxNext != nil {
		l.trxNext.trxPrev = l.trxPrev
	} else {
		q.tail = l.trxPrev
	}
	l.trxPrev, l.trxNext = nil, nil
	q.length--
}
