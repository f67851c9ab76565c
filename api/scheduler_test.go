package api

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ops-engine/counting"
)

func newTestMonitor(t *testing.T, h *Handler) (*OverdueMonitor, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	m := NewOverdueMonitor(h.Store, h.Metrics, logger)
	m.Now = func() time.Time { return testNow }
	return m, hook
}

func TestOverdueMonitor_RunNow(t *testing.T) {
	// GIVEN: The overdue-checks scenario
	h := setupTestHandler(t)
	loadScenario(t, NewRouter(h), "overdue-checks")
	monitor, hook := newTestMonitor(t, h)

	// WHEN: Scanning once
	overdue, err := monitor.RunNow(context.Background())

	// THEN: Both open checks past due are reported, most overdue first
	require.NoError(t, err)
	ids := make([]string, len(overdue))
	for i, b := range overdue {
		ids[i] = b.ID
	}
	assert.Equal(t, []string{"sc-overdue-pending", "sc-overdue-started"}, ids)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.Metrics.OverdueBatches))

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
			assert.Equal(t, "overdue-monitor", e.Data["component"])
		}
	}
	assert.Equal(t, 2, warnings)

	// Overdue checks are untouched
	b, err := h.Store.GetBatch(context.Background(), "sc-overdue-started")
	require.NoError(t, err)
	assert.Equal(t, counting.BatchInProgress, b.Status)
}

func TestOverdueMonitor_ClearsGaugeWhenNothingOverdue(t *testing.T) {
	h := setupTestHandler(t)
	loadScenario(t, NewRouter(h), "overdue-checks")
	monitor, _ := newTestMonitor(t, h)

	_, err := monitor.RunNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2.0, testutil.ToFloat64(h.Metrics.OverdueBatches))

	// WHEN: The store is emptied
	require.NoError(t, h.Store.Reset(context.Background()))
	overdue, err := monitor.RunNow(context.Background())

	// THEN: The gauge drops back to zero
	require.NoError(t, err)
	assert.Empty(t, overdue)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.Metrics.OverdueBatches))
}

func TestOverdueMonitor_StartStop(t *testing.T) {
	h := setupTestHandler(t)
	loadScenario(t, NewRouter(h), "overdue-checks")
	monitor, _ := newTestMonitor(t, h)
	monitor.CheckInterval = 10 * time.Millisecond

	// WHEN: Started, the first check runs immediately
	monitor.Start()
	monitor.Start() // second start is a no-op

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(h.Metrics.OverdueBatches) == 2
	}, time.Second, 5*time.Millisecond)

	monitor.Stop()
	monitor.Stop()

	assert.Equal(t, testNow.Add(10*time.Millisecond), monitor.GetNextRunTime())
}

func TestOverdueMonitor_Disabled(t *testing.T) {
	h := setupTestHandler(t)
	loadScenario(t, NewRouter(h), "overdue-checks")
	monitor, hook := newTestMonitor(t, h)
	monitor.Enabled = false
	monitor.CheckInterval = time.Millisecond

	monitor.Start()
	time.Sleep(20 * time.Millisecond)
	monitor.Stop()

	assert.Equal(t, 0.0, testutil.ToFloat64(h.Metrics.OverdueBatches))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "disabled, not starting", hook.LastEntry().Message)
}
