/*
scheduler.go - Overdue spot check monitor

PURPOSE:
  Periodically scans open spot checks for ones past their due date, logs
  each of them and publishes the count on the ops_spot_checks_overdue gauge.
  Nothing is mutated: an overdue spot check stays countable.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Checks once immediately on start, then on every tick
  - Completed and cancelled spot checks are never overdue

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour, OPS_OVERDUE_INTERVAL)
  - Enabled: Whether the monitor is active (default: true)

USAGE:
  monitor := NewOverdueMonitor(store, metrics, logger)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - handlers.go: ListSpotChecks?overdue=true
  - counting/types.go: Batch.IsOverdue
*/
package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/ops-engine/config"
	"github.com/warp/ops-engine/counting"
	"github.com/warp/ops-engine/metrics"
)

// OverdueMonitor reports spot checks past their due date.
type OverdueMonitor struct {
	Store         counting.BatchStore
	Metrics       *metrics.Metrics
	Logger        logrus.FieldLogger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueMonitor creates a monitor checking every hour.
func NewOverdueMonitor(store counting.BatchStore, m *metrics.Metrics, logger logrus.FieldLogger) *OverdueMonitor {
	return &OverdueMonitor{
		Store:         store,
		Metrics:       m,
		Logger:        logger.WithField("component", "overdue-monitor"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the monitor.
func (om *OverdueMonitor) Start() {
	om.mu.Lock()
	defer om.mu.Unlock()

	if !om.Enabled {
		om.Logger.Info("disabled, not starting")
		return
	}
	if om.ticker != nil {
		return
	}

	om.ticker = time.NewTicker(om.CheckInterval)
	om.stop = make(chan struct{})
	om.wg.Add(1)

	go om.run()

	om.Logger.WithField("interval", om.CheckInterval.String()).Info("started")
}

// Stop stops the monitor and waits for a running check to finish.
func (om *OverdueMonitor) Stop() {
	om.mu.Lock()
	defer om.mu.Unlock()

	if om.ticker != nil {
		om.ticker.Stop()
		close(om.stop)
		om.wg.Wait()
		om.ticker = nil
		om.Logger.Info("stopped")
	}
}

func (om *OverdueMonitor) run() {
	defer om.wg.Done()

	// Run immediately on start
	om.check()

	for {
		select {
		case <-om.ticker.C:
			om.check()
		case <-om.stop:
			return
		}
	}
}

func (om *OverdueMonitor) check() {
	if _, err := om.RunNow(context.Background()); err != nil {
		config.LogError(om.Logger, moduleName, "OverdueMonitor.check", "list spot checks", nil, err)
	}
}

// RunNow scans once and returns the overdue spot checks, most overdue first.
func (om *OverdueMonitor) RunNow(ctx context.Context) ([]*counting.Batch, error) {
	batches, err := om.Store.ListBatches(ctx, counting.BatchFilter{})
	if err != nil {
		return nil, err
	}

	now := om.Now().UTC()
	var overdue []*counting.Batch
	for _, b := range batches {
		if !b.IsOverdue(now) {
			continue
		}
		overdue = append(overdue, b)
	}
	sort.SliceStable(overdue, func(i, j int) bool {
		return overdue[i].DueDate.Before(*overdue[j].DueDate)
	})

	for _, b := range overdue {
		om.Logger.WithFields(logrus.Fields{
			"id":          b.ID,
			"reference":   b.Reference,
			"assigned_to": b.AssignedTo,
			"status":      b.Status,
			"overdue_by":  now.Sub(*b.DueDate).Round(time.Minute).String(),
			"pending":     b.Aggregates.PendingItems,
		}).Warn("spot check overdue")
	}
	om.Metrics.SetOverdue(len(overdue))
	return overdue, nil
}

// GetNextRunTime returns when the next scheduled check will occur.
func (om *OverdueMonitor) GetNextRunTime() time.Time {
	return om.Now().Add(om.CheckInterval)
}
