// Package metrics wraps the OpenTelemetry counters the lock manager
// increments. The sink is increment-only; wiring an exporter is the
// embedding application's concern.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/Blackdeer1524/RowStore/src/pkg/utils"
)

// Counter is a monotonically increasing event counter.
type Counter struct {
	c metric.Int64Counter
}

func (c Counter) Inc() {
	c.c.Add(context.Background(), 1)
}

// Counters groups every counter the lock system reports to.
type Counters struct {
	RecLocksCreated   Counter
	RecLocksRemoved   Counter
	TableLocksCreated Counter
	TableLocksRemoved Counter
	LockWaits         Counter
	LockGrants        Counter
	WaitTimeouts      Counter
	Deadlocks         Counter
}

// New builds the counter set on the given meter.
func New(meter metric.Meter) (*Counters, error) {
	var (
		c   Counters
		err error
	)

	if c.RecLocksCreated.c, err = meter.Int64Counter("lock.rec.created"); err != nil {
		return nil, err
	}
	if c.RecLocksRemoved.c, err = meter.Int64Counter("lock.rec.removed"); err != nil {
		return nil, err
	}
	if c.TableLocksCreated.c, err = meter.Int64Counter("lock.table.created"); err != nil {
		return nil, err
	}
	if c.TableLocksRemoved.c, err = meter.Int64Counter("lock.table.removed"); err != nil {
		return nil, err
	}
	if c.LockWaits.c, err = meter.Int64Counter("lock.waits"); err != nil {
		return nil, err
	}
	if c.LockGrants.c, err = meter.Int64Counter("lock.grants"); err != nil {
		return nil, err
	}
	if c.WaitTimeouts.c, err = meter.Int64Counter("lock.wait.timeouts"); err != nil {
		return nil, err
	}
	if c.Deadlocks.c, err = meter.Int64Counter("lock.deadlocks"); err != nil {
		return nil, err
	}

	return &c, nil
}

// Nop returns counters backed by the no-op meter, for tests and embedders
// that do not export metrics.
func Nop() *Counters {
	return utils.Must(New(noop.NewMeterProvider().Meter("rowstore")))
}
