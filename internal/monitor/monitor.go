package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/alert"
	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/metrics"
	"github.com/Ajpantuso/replset-guard/internal/util"
	"go.uber.org/zap"
)

type Collector interface {
	Collect(ctx context.Context) (*cluster.Snapshot, error)
}

// Result is the outcome of one poll.
type Result struct {
	At         time.Time
	Snapshot   *cluster.Snapshot
	Assessment cluster.Assessment
	Alerts     []alert.Alert
	Err        error
}

// Monitor polls the cluster on an interval, publishes gauges and logs alert
// transitions. It never retries a failed poll before the next tick.
type Monitor struct {
	collector Collector
	cfg       *MonitorConfig

	mu     sync.RWMutex
	last   *Result
	active map[string]alert.Alert
}

func NewMonitor(collector Collector, opts ...MonitorOption) *Monitor {
	var cfg MonitorConfig
	cfg.Options(opts...)
	cfg.Default()

	return &Monitor{
		collector: collector,
		cfg:       &cfg,
		active:    make(map[string]alert.Alert),
	}
}

// Run polls once immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.cfg.Logger.Infow("Starting cluster monitor", "interval", m.cfg.Interval)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.cfg.Logger.Info("Cluster monitor stopped")
			return nil

		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll collects and classifies once.
func (m *Monitor) Poll(ctx context.Context) Result {
	res := Result{At: m.cfg.Clock()}

	snap, err := m.collector.Collect(ctx)
	if err != nil {
		res.Err = err
		m.cfg.Logger.Warnw("Failed to poll cluster status",
			"reason", util.CodeOf(err),
			"error", err,
		)
		if m.cfg.Metrics != nil {
			m.cfg.Metrics.CollectErrors.WithLabelValues(util.CodeOf(err)).Inc()
		}
		m.store(res)
		return res
	}

	res.Snapshot = snap
	res.Assessment = cluster.Classify(snap)
	res.Alerts = alert.Evaluate(res.Assessment)

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ObserveAssessment(res.Assessment, snap)
	}
	m.transition(res.Alerts)
	m.store(res)

	m.cfg.Logger.Debugw("Cluster polled",
		"overall_status", res.Assessment.OverallStatus,
		"threat_level", res.Assessment.ThreatLevel,
		"primaries", res.Assessment.PrimaryCount,
		"healthy", res.Assessment.HealthyCount,
		"total", res.Assessment.TotalCount,
	)
	return res
}

// Last returns the most recent poll result.
func (m *Monitor) Last() (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return Result{}, false
	}
	return *m.last, true
}

// Active returns the alerts raised by the latest successful poll.
func (m *Monitor) Active() []alert.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.active))
	for k := range m.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]alert.Alert, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.active[k])
	}
	return out
}

func (m *Monitor) store(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &res
}

func alertKey(a alert.Alert) string {
	return string(a.Kind) + "/" + a.Member
}

func (m *Monitor) transition(alerts []alert.Alert) {
	next := make(map[string]alert.Alert)
	for _, a := range alerts {
		if a.Kind == alert.KindNominal {
			continue
		}
		next[alertKey(a)] = a
	}

	m.mu.Lock()
	prev := m.active
	m.active = next
	m.mu.Unlock()

	for k, a := range next {
		if _, ok := prev[k]; !ok {
			m.cfg.Logger.Warnw("Alert raised",
				"level", a.Level,
				"kind", a.Kind,
				"member", a.Member,
				"message", a.Message,
			)
		}
	}
	for k, a := range prev {
		if _, ok := next[k]; !ok {
			m.cfg.Logger.Infow("Alert cleared",
				"kind", a.Kind,
				"member", a.Member,
			)
		}
	}
}

type MonitorConfig struct {
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
	Interval time.Duration
	Clock    func() time.Time
}

func (c *MonitorConfig) Options(opts ...MonitorOption) {
	for _, opt := range opts {
		opt.ConfigureMonitor(c)
	}
}

func (c *MonitorConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type MonitorOption interface {
	ConfigureMonitor(*MonitorConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureMonitor(c *MonitorConfig) {
	c.Logger = w.Logger
}

type WithMetrics struct {
	Metrics *metrics.Metrics
}

func (w WithMetrics) ConfigureMonitor(c *MonitorConfig) {
	c.Metrics = w.Metrics
}

type WithInterval time.Duration

func (w WithInterval) ConfigureMonitor(c *MonitorConfig) {
	c.Interval = time.Duration(w)
}
