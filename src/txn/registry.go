// Package txn provides the transaction registry the lock manager consults
// to resolve transaction ids stored in records, and the id allocation for
// new transactions.
package txn

import (
	"sync"
	"time"

	"github.com/Blackdeer1524/RowStore/src/locks"
	"github.com/Blackdeer1524/RowStore/src/pkg/assert"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
)

// Registry tracks active transactions by id.
type Registry struct {
	mu     sync.RWMutex
	active map[common.TxnID]*locks.Trx
	nextID common.TxnID
}

var _ locks.Registry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[common.TxnID]*locks.Trx),
		nextID: 1,
	}
}

// Begin registers a new active transaction.
func (r *Registry) Begin(iso locks.IsolationLevel, waitTimeout time.Duration) *locks.Trx {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	trx := locks.NewTrx(id, iso, waitTimeout)
	r.active[id] = trx
	return trx
}

// Find returns a referenced transaction by id, or nil if it is no longer
// active. The caller must Unref the result once done with it.
func (r *Registry) Find(caller *locks.Trx, id common.TxnID) *locks.Trx {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trx, ok := r.active[id]
	if !ok {
		return nil
	}
	if trx == caller {
		// The caller looking itself up still gets a reference for
		// symmetry with the foreign-holder path.
		trx.Ref()
		return trx
	}
	if trx.State() != locks.TrxStateActive {
		return nil
	}
	trx.Ref()
	return trx
}

// MaxTrxID returns the smallest id not assigned yet.
func (r *Registry) MaxTrxID() common.TxnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextID
}

// MinTrxID returns the smallest active transaction id; ids below it cannot
// hold implicit locks. With no active transactions it equals MaxTrxID.
func (r *Registry) MinTrxID() common.TxnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	min := r.nextID
	for id := range r.active {
		if id < min {
			min = id
		}
	}
	return min
}

// ForEach visits every registered transaction in no particular order until
// the callback returns false.
func (r *Registry) ForEach(f func(*locks.Trx) bool) {
	r.mu.RLock()
	trxs := make([]*locks.Trx, 0, len(r.active))
	for _, trx := range r.active {
		trxs = append(trxs, trx)
	}
	r.mu.RUnlock()

	for _, trx := range trxs {
		if !f(trx) {
			return
		}
	}
}

// Finish deregisters a transaction after its locks have been released.
func (r *Registry) Finish(trx *locks.Trx) {
	assert.Assert(!trx.IsReferenced(), "finishing a referenced transaction")

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, trx.ID)
}
