/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically scans for partial settlements (paid orders without a ledger
  entry) and, when AutoRepair is set, repairs the ones whose recipe
  resolves again.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Keeps the last MaxRuns runs in memory for the API

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - AutoRepair: Repair what can be repaired (default: false, scan only)

USAGE:
  scheduler := NewReconciliationScheduler(svc.Reconciler(), logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ListReconciliationRuns, RepairOrder
  - settlement/reconcile.go: Scan and Repair
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payment-engine/settlement"
)

// DefaultMaxRuns bounds the run history.
const DefaultMaxRuns = 50

// ReconciliationRun records one scheduler pass.
type ReconciliationRun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Found      int
	Repaired   int
	Failed     int
	OrderIDs   []settlement.OrderID
	Error      string
}

// ReconciliationScheduler handles automated partial-settlement checks.
type ReconciliationScheduler struct {
	Reconciler    *settlement.Reconciler
	CheckInterval time.Duration
	Enabled       bool
	AutoRepair    bool
	MaxRuns       int

	logger *zap.Logger
	now    func() time.Time

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	runsMu sync.Mutex
	runs   []ReconciliationRun
	seq    int
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(reconciler *settlement.Reconciler, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Reconciler:    reconciler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		MaxRuns:       DefaultMaxRuns,
		logger:        logger.Named("scheduler"),
		now:           time.Now,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger.Info("disabled, not starting")
		return
	}
	if rs.started {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.started = true
	rs.wg.Add(1)

	go rs.run(rs.ticker.C, rs.stop)

	rs.logger.Info("started", zap.Duration("check_interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.started {
		return
	}
	rs.ticker.Stop()
	close(rs.stop)
	rs.wg.Wait()
	rs.started = false
	rs.logger.Info("stopped")
}

func (rs *ReconciliationScheduler) run(ticks <-chan time.Time, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run immediately on start
	rs.RunNow(ctx)

	for {
		select {
		case <-ticks:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one pass synchronously and records it.
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ReconciliationRun {
	run := ReconciliationRun{StartedAt: rs.now().UTC(), OrderIDs: []settlement.OrderID{}}

	partial, err := rs.Reconciler.Scan(ctx)
	if err != nil {
		run.Error = fmt.Sprintf("scan: %v", err)
		rs.logger.Error("scan failed", zap.Error(err))
		return rs.record(run)
	}
	run.Found = len(partial)

	for _, order := range partial {
		run.OrderIDs = append(run.OrderIDs, order.ID)
		if !rs.AutoRepair {
			continue
		}
		_, err := rs.Reconciler.Repair(ctx, order.ID)
		switch {
		case err == nil:
			run.Repaired++
		case errors.Is(err, settlement.ErrPartialSettlement):
			// Recipe still missing; try again next pass.
		default:
			run.Failed++
			rs.logger.Warn("repair failed", zap.String("order_id", string(order.ID)), zap.Error(err))
		}
	}

	if run.Found > 0 {
		rs.logger.Warn("partial settlements found",
			zap.Int("found", run.Found),
			zap.Int("repaired", run.Repaired),
			zap.Int("failed", run.Failed))
	}
	return rs.record(run)
}

func (rs *ReconciliationScheduler) record(run ReconciliationRun) ReconciliationRun {
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()

	rs.seq++
	run.ID = fmt.Sprintf("run-%d", rs.seq)
	run.FinishedAt = rs.now().UTC()

	limit := rs.MaxRuns
	if limit <= 0 {
		limit = DefaultMaxRuns
	}
	rs.runs = append(rs.runs, run)
	if len(rs.runs) > limit {
		rs.runs = append([]ReconciliationRun(nil), rs.runs[len(rs.runs)-limit:]...)
	}
	return run
}

// Runs returns the recorded runs, newest first.
func (rs *ReconciliationScheduler) Runs() []ReconciliationRun {
	rs.runsMu.Lock()
	defer rs.runsMu.Unlock()

	out := make([]ReconciliationRun, len(rs.runs))
	for i, run := range rs.runs {
		out[len(rs.runs)-1-i] = run
	}
	return out
}
