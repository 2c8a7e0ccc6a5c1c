package monitor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/alert"
	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/cluster/clustertest"
	"github.com/Ajpantuso/replset-guard/internal/metrics"
	"github.com/Ajpantuso/replset-guard/internal/monitor"
	"github.com/Ajpantuso/replset-guard/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type step struct {
	snap *cluster.Snapshot
	err  error
}

type scriptedCollector struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scriptedCollector) Collect(context.Context) (*cluster.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.steps[s.calls%len(s.steps)]
	s.calls++
	return st.snap, st.err
}

func (s *scriptedCollector) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPollTransitions(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	collector := &scriptedCollector{steps: []step{
		{snap: clustertest.Healthy()},
		{snap: clustertest.NoPrimary()},
		{err: &util.UnreachableStoreError{Reason: "down"}},
		{snap: clustertest.Healthy()},
	}}
	mon := monitor.NewMonitor(collector,
		monitor.WithLogger{Logger: zap.New(core).Sugar()},
		monitor.WithMetrics{Metrics: m},
	)
	ctx := context.Background()

	res := mon.Poll(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, cluster.StatusExcellent, res.Assessment.OverallStatus)
	assert.Empty(t, mon.Active())

	res = mon.Poll(ctx)
	require.NoError(t, res.Err)
	active := mon.Active()
	require.Len(t, active, 1)
	assert.Equal(t, alert.KindNoPrimary, active[0].Kind)
	assert.Equal(t, 1, logs.FilterMessage("Alert raised").Len())

	res = mon.Poll(ctx)
	assert.Equal(t, util.CodeUnreachableStore, util.CodeOf(res.Err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectErrors.WithLabelValues(util.CodeUnreachableStore)))
	// a failed poll keeps the previous alert set
	assert.Len(t, mon.Active(), 1)

	last, ok := mon.Last()
	require.True(t, ok)
	assert.Error(t, last.Err)

	res = mon.Poll(ctx)
	require.NoError(t, res.Err)
	assert.Empty(t, mon.Active())
	assert.Equal(t, 1, logs.FilterMessage("Alert cleared").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterPrimaries))
}

func TestRunPollsUntilCancelled(t *testing.T) {
	collector := &scriptedCollector{steps: []step{{snap: clustertest.Healthy()}}}
	mon := monitor.NewMonitor(collector, monitor.WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	assert.Eventually(t, func() bool { return collector.Calls() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}

	_, ok := mon.Last()
	assert.True(t, ok)
}
