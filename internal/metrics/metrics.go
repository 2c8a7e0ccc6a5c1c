package metrics

import (
	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Cluster state
	ClusterMembers    *prometheus.GaugeVec
	ClusterPrimaries  prometheus.Gauge
	ClusterHealthy    prometheus.Gauge
	ClusterStatus     *prometheus.GaugeVec
	ClusterSplitBrain prometheus.Gauge
	MemberLagSeconds  *prometheus.GaugeVec
	MaxLagSeconds     prometheus.Gauge
	OplogWindow       prometheus.Gauge

	// Collection
	CollectDuration prometheus.Histogram
	CollectErrors   *prometheus.CounterVec

	// Guarded actions
	WritesTotal   *prometheus.CounterVec
	RecoveryTotal *prometheus.CounterVec
	FaultsTotal   *prometheus.CounterVec
	AuditAppends  *prometheus.CounterVec

	// Appends lost because no caller was waiting on them
	UnreportedAuditFailures *prometheus.CounterVec

	// HTTP
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

// NewMetrics registers all collectors with reg. Use prometheus.NewRegistry()
// in tests so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Cluster state
		ClusterMembers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replset_members",
				Help: "Number of replica set members by state",
			},
			[]string{"state"},
		),
		ClusterPrimaries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replset_primaries",
				Help: "Number of members claiming to be primary",
			},
		),
		ClusterHealthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replset_healthy_members",
				Help: "Number of healthy members",
			},
		),
		ClusterStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replset_overall_status",
				Help: "1 for the current overall status, 0 otherwise",
			},
			[]string{"status"},
		),
		ClusterSplitBrain: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replset_split_brain",
				Help: "Whether more than one primary is observed",
			},
		),
		MemberLagSeconds: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "replset_member_lag_seconds",
				Help: "Replication lag of a member behind the primary",
			},
			[]string{"member"},
		),
		MaxLagSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replset_max_lag_seconds",
				Help: "Largest known replication lag",
			},
		),
		OplogWindow: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "replset_oplog_window_seconds",
				Help: "Time span covered by the oplog",
			},
		),

		// Collection
		CollectDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "replset_collect_duration_seconds",
				Help:    "Duration of replica set status queries",
				Buckets: prometheus.DefBuckets,
			},
		),
		CollectErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replset_collect_errors_total",
				Help: "Total number of failed status collections",
			},
			[]string{"reason"},
		),

		// Guarded actions
		WritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replset_guarded_writes_total",
				Help: "Total number of guarded writes",
			},
			[]string{"durability", "outcome"},
		),
		RecoveryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replset_recovery_actions_total",
				Help: "Total number of recovery actions",
			},
			[]string{"action", "outcome"},
		),
		FaultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replset_fault_injections_total",
				Help: "Total number of node stop and start operations",
			},
			[]string{"action", "outcome"},
		),
		AuditAppends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replset_audit_appends_total",
				Help: "Total number of audit appends",
			},
			[]string{"status"},
		),
		UnreportedAuditFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replset_audit_unreported_failures_total",
				Help: "Audit appends that failed in background work with no caller to return the error to",
			},
			[]string{"kind"},
		),

		// HTTP
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replset_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "code"},
		),
		HTTPRequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "replset_http_request_duration_seconds",
				Help:    "Latency of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

var allStatuses = []cluster.OverallStatus{
	cluster.StatusExcellent,
	cluster.StatusGood,
	cluster.StatusDegraded,
	cluster.StatusCritical,
}

// ObserveAssessment replaces the cluster state gauges with a.
func (m *Metrics) ObserveAssessment(a cluster.Assessment, s *cluster.Snapshot) {
	m.ClusterMembers.Reset()
	for _, member := range s.Members() {
		m.ClusterMembers.WithLabelValues(string(member.State)).Inc()
	}

	m.ClusterPrimaries.Set(float64(a.PrimaryCount))
	m.ClusterHealthy.Set(float64(a.HealthyCount))
	for _, status := range allStatuses {
		v := 0.0
		if status == a.OverallStatus {
			v = 1
		}
		m.ClusterStatus.WithLabelValues(string(status)).Set(v)
	}
	if a.SplitBrain {
		m.ClusterSplitBrain.Set(1)
	} else {
		m.ClusterSplitBrain.Set(0)
	}

	m.MemberLagSeconds.Reset()
	for name, lag := range a.PerMemberLag {
		if lag.LagSeconds != nil {
			m.MemberLagSeconds.WithLabelValues(name).Set(*lag.LagSeconds)
		}
	}
	if a.MaxLagSeconds != nil {
		m.MaxLagSeconds.Set(*a.MaxLagSeconds)
	} else {
		m.MaxLagSeconds.Set(0)
	}
}

// ObserveOplog records the oplog window, or zero when it is unknown.
func (m *Metrics) ObserveOplog(o cluster.OplogInfo) {
	if o.WindowSeconds != nil {
		m.OplogWindow.Set(*o.WindowSeconds)
		return
	}
	m.OplogWindow.Set(0)
}
