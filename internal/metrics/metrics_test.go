package metrics_test

import (
	"testing"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/cluster/clustertest"
	"github.com/Ajpantuso/replset-guard/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveAssessment(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())

	s := clustertest.New().
		Lagging("p:1", cluster.StatePrimary, true, 0).
		Lagging("s1:1", cluster.StateSecondary, true, 7*time.Second).
		Member("s2:1", cluster.StateSecondary, false).
		Snapshot()
	m.ObserveAssessment(cluster.Classify(s), s)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterPrimaries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClusterHealthy))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClusterMembers.WithLabelValues("SECONDARY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterStatus.WithLabelValues("GOOD")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClusterStatus.WithLabelValues("EXCELLENT")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.MemberLagSeconds.WithLabelValues("s1:1")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.MaxLagSeconds))
	assert.Equal(t, 1, testutil.CollectAndCount(m.MemberLagSeconds))

	split := clustertest.SplitBrain()
	m.ObserveAssessment(cluster.Classify(split), split)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterSplitBrain))
	assert.Equal(t, 0, testutil.CollectAndCount(m.MemberLagSeconds))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MaxLagSeconds))
}

func TestNewMetricsPerRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.NewMetrics(prometheus.NewRegistry())
		metrics.NewMetrics(prometheus.NewRegistry())
	})
}

func TestObserveOplog(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())

	last := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := last.Add(-90 * time.Minute)
	m.ObserveOplog(cluster.NewOplogInfo(1, 2, 3, &first, &last))
	assert.Equal(t, 5400.0, testutil.ToFloat64(m.OplogWindow))

	m.ObserveOplog(cluster.NewOplogInfo(0, 2, 0, nil, nil))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OplogWindow))
}
