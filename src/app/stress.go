package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/panjf2000/ants"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RowStore/src/cfg"
	"github.com/Blackdeer1524/RowStore/src/cli"
	"github.com/Blackdeer1524/RowStore/src/locks"
	"github.com/Blackdeer1524/RowStore/src/metrics"
	"github.com/Blackdeer1524/RowStore/src/pkg/common"
	"github.com/Blackdeer1524/RowStore/src/pkg/utils"
	"github.com/Blackdeer1524/RowStore/src/txn"
)

// Stress drives the lock manager with concurrent transactions contending
// over a small keyspace, then writes the diagnostic dump. It exists to
// exercise the system end to end; correctness is asserted by the package
// tests.
type Stress struct {
	opts cli.Options

	log *zap.SugaredLogger
	env envVars
	cfg cfg.LockConfig

	sys  *locks.System
	reg  *txn.Registry
	pool *ants.Pool
	fs   afero.Fs

	tables  []*locks.Table
	indexes []*locks.Index

	granted   atomic.Uint64
	waited    atomic.Uint64
	deadlocks atomic.Uint64
	timeouts  atomic.Uint64
}

func NewStress(opts cli.Options) *Stress {
	return &Stress{opts: opts, fs: afero.NewOsFs()}
}

func (s *Stress) Init(_ context.Context) error {
	s.env = mustLoadEnv()

	if s.env.Environment == EnvDev {
		s.log = utils.Must(zap.NewDevelopment()).Sugar()
	} else {
		s.log = utils.Must(zap.NewProduction()).Sugar()
	}

	conf, err := cfg.LoadConfig(s.opts.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	s.cfg = conf

	counters, err := metrics.New(otel.Meter("rowstore/locks"))
	if err != nil {
		return errors.Wrap(err, "building lock counters")
	}

	s.reg = txn.NewRegistry()
	s.sys = locks.New(
		locks.Options{
			NCells:                     conf.HashCells,
			DeadlockDetect:             conf.DeadlockDetect,
			ReportAllDeadlocks:         conf.ReportAllDeadlocks,
			VictimizePriorityOnTooDeep: true,
		},
		s.log,
		counters,
		s.reg,
		nil,
		nil,
	)

	for i := 0; i < s.env.StressTables; i++ {
		table := locks.NewTable(common.TableID(i+1), fmt.Sprintf("stress_%d", i))
		s.tables = append(s.tables, table)
		s.indexes = append(s.indexes, &locks.Index{
			Name:      "PRIMARY",
			Table:     table,
			Clustered: true,
		})
	}

	s.pool, err = ants.NewPool(s.env.StressWorkers)
	if err != nil {
		return errors.Wrap(err, "creating worker pool")
	}

	return nil
}

func (s *Stress) Run(ctx context.Context) error {
	runID := uuid.New()
	s.log.Infow("stress run starting",
		"run", runID, "workers", s.env.StressWorkers, "rounds", s.env.StressRounds)

	var wg sync.WaitGroup
	for round := 0; round < s.env.StressRounds; round++ {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		seed := int64(round)
		err := s.pool.Submit(func() {
			defer wg.Done()
			s.runTxn(ctx, rand.New(rand.NewSource(seed)))
		})
		if err != nil {
			wg.Done()
			return errors.Wrap(err, "submitting stress round")
		}
	}
	wg.Wait()

	s.log.Infow("stress run finished",
		"run", runID,
		"granted", s.granted.Load(),
		"waited", s.waited.Load(),
		"deadlocks", s.deadlocks.Load(),
		"timeouts", s.timeouts.Load(),
	)

	return s.dump(runID)
}

// runTxn executes one short transaction: an intention lock on a random
// table and a few record locks, then commit or rollback.
func (s *Stress) runTxn(ctx context.Context, rng *rand.Rand) {
	trx := s.reg.Begin(locks.RepeatableRead, s.cfg.WaitTimeout)
	defer func() {
		s.sys.Release(trx)
		trx.MarkCommitted()
		s.reg.Finish(trx)
	}()

	ti := rng.Intn(len(s.tables))
	table, index := s.tables[ti], s.indexes[ti]

	if !s.step(ctx, trx, s.sys.LockTable(table, locks.ModeIX, trx)) {
		return
	}

	for i := 0; i < s.env.StressTxnLocks; i++ {
		page := locks.Page{
			ID: common.PageIdentity{
				FileID: common.FileID(table.ID),
				PageID: common.PageID(rng.Intn(s.env.StressPages)),
			},
			HeapCount: uint32(s.env.StressRecords) + 2,
		}
		heapNo := common.HeapNoUserLow + common.HeapNo(rng.Intn(s.env.StressRecords))

		mode := locks.ModeS
		if rng.Intn(2) == 0 {
			mode = locks.ModeX
		}

		st := s.sys.ClustRecReadCheckAndLock(page, heapNo, index, 0, mode, 0, trx)
		if !s.step(ctx, trx, st) {
			return
		}
	}
}

// step resolves one acquisition status, waiting when told to. Returns
// whether the transaction may continue.
func (s *Stress) step(ctx context.Context, trx *locks.Trx, st locks.Status) bool {
	if st == locks.StatusWait {
		s.waited.Add(1)
		st = s.sys.WaitFor(ctx, trx)
	}

	switch st {
	case locks.StatusSuccess, locks.StatusLockedRec:
		s.granted.Add(1)
		return true
	case locks.StatusDeadlock:
		s.deadlocks.Add(1)
		return false
	case locks.StatusWaitTimeout:
		s.timeouts.Add(1)
		return false
	default:
		return false
	}
}

func (s *Stress) dump(runID uuid.UUID) error {
	if s.opts.DumpPath == "" {
		fmt.Printf("=== lock system dump, run %s ===\n", runID)
		s.sys.PrintInfoAllTransactions(zap.NewStdLog(s.log.Desugar()).Writer())
		return nil
	}

	f, err := s.fs.Create(s.opts.DumpPath)
	if err != nil {
		return errors.Wrap(err, "creating dump file")
	}
	defer func() { _ = f.Close() }()

	fmt.Fprintf(f, "=== lock system dump, run %s ===\n", runID)
	s.sys.PrintInfoAllTransactions(f)

	return nil
}

func (s *Stress) Close() error {
	if s.pool != nil {
		s.pool.Release()
	}
	if s.sys != nil {
		s.sys.Close()
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
	return nil
}
