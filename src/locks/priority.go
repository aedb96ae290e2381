package locks

// PriorityPolicy is the pluggable cluster-replication hook. A priority
// transaction must proceed: it is never chosen as a deadlock victim (except
// the configurable too-deep termination), its locks are queued ahead of
// lower-priority peers, and it may abort a conflicting waiter.
//
// A nil policy means no transaction is special.
type PriorityPolicy interface {
	// IsPriority reports whether the transaction must not be victimized.
	IsPriority(trx *Trx) bool
	// OrderBefore reports whether a commits before b under the externally
	// fixed order. Meaningful only when both are priority transactions.
	OrderBefore(a, b *Trx) bool
	// NeedOrdering reports whether the upper layer still needs gap locks
	// to order a against b. When the commit order between the two is
	// already decided externally (parallel replication), gap waits are
	// skipped.
	NeedOrdering(a, b *Trx) bool
}

func (s *System) isPriority(trx *Trx) bool {
	return s.policy != nil && s.policy.IsPriority(trx)
}

func (s *System) orderBefore(a, b *Trx) bool {
	return s.policy != nil && s.policy.OrderBefore(a, b)
}

func (s *System) needOrdering(a, b *Trx) bool {
	if s.policy == nil {
		return true
	}
	return s.policy.NeedOrdering(a, b)
}

// assertNoPriorityPriorityWait flags the impossible case of one priority
// transaction waiting for another out of order; queue placement must have
// prevented it.
func (s *System) assertNoPriorityPriorityWait(waiter, holder *Trx) {
	if s.policy == nil {
		return
	}
	if !s.policy.IsPriority(waiter) || !s.policy.IsPriority(holder) {
		return
	}
	if s.policy.OrderBefore(waiter, holder) {
		return
	}
	s.log.Errorw("priority transaction waiting for a later priority transaction",
		"waiter", waiter.ID, "holder", holder.ID)
}
