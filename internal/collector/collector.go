package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/util"
	"go.uber.org/zap"
)

// MemberRecord is one member as reported by the store, before validation.
type MemberRecord struct {
	Name           string
	StateStr       string
	Health         float64
	OptimeDate     *time.Time
	PingMs         *int64
	SyncSourceHost string
	Uptime         *int64
}

// ReplicaSetStatus is the raw status document of a replica set.
type ReplicaSetStatus struct {
	Set     string
	Date    time.Time
	Members []MemberRecord
}

// StatusSource queries the replicated store for its member list.
type StatusSource interface {
	Status(ctx context.Context) (ReplicaSetStatus, error)
	Ping(ctx context.Context) error
}

// Collector turns a StatusSource answer into a validated Snapshot. It holds no
// state between calls: every Collect queries the store afresh.
type Collector struct {
	source StatusSource
	cfg    *CollectorConfig
}

func NewCollector(source StatusSource, opts ...CollectorOption) *Collector {
	var cfg CollectorConfig
	cfg.Options(opts...)
	cfg.Default()

	return &Collector{
		source: source,
		cfg:    &cfg,
	}
}

// Collect queries the store once, bounded by the configured timeout.
func (c *Collector) Collect(ctx context.Context) (*cluster.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := c.cfg.Clock()
	status, err := c.source.Status(ctx)
	if c.cfg.Observe != nil {
		c.cfg.Observe(c.cfg.Clock().Sub(start), err)
	}
	if err != nil {
		reason := "status query failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("status query exceeded %s", c.cfg.Timeout)
		}
		c.cfg.Logger.Warnw("Failed to collect replica set status",
			"reason", reason,
			"error", err,
		)
		return nil, &util.UnreachableStoreError{Reason: reason, Err: err}
	}

	snap, err := ToSnapshot(status, c.cfg.Clock())
	if err != nil {
		c.cfg.Logger.Warnw("Rejected replica set status", "error", err)
		return nil, err
	}

	c.cfg.Logger.Debugw("Collected replica set status",
		"replica_set", snap.ReplicaSet(),
		"members", snap.Len(),
	)
	return snap, nil
}

// Ping checks store reachability without collecting status.
func (c *Collector) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.source.Ping(ctx); err != nil {
		return &util.UnreachableStoreError{Reason: "ping failed", Err: err}
	}
	return nil
}

// ToSnapshot validates and maps a raw status. The status date is used as the
// snapshot time when present, otherwise now.
func ToSnapshot(status ReplicaSetStatus, now time.Time) (*cluster.Snapshot, error) {
	if len(status.Members) == 0 {
		return nil, &util.MalformedStatusError{Reason: "member list is empty"}
	}

	members := make([]cluster.MemberStatus, 0, len(status.Members))
	for i, r := range status.Members {
		if r.Name == "" {
			return nil, &util.MalformedStatusError{Reason: fmt.Sprintf("member %d has no name", i)}
		}
		members = append(members, cluster.MemberStatus{
			Name:          r.Name,
			State:         cluster.ParseMemberState(r.StateStr),
			Healthy:       r.Health == 1,
			Optime:        r.OptimeDate,
			PingMillis:    r.PingMs,
			SyncSource:    r.SyncSourceHost,
			UptimeSeconds: r.Uptime,
		})
	}

	takenAt := status.Date
	if takenAt.IsZero() {
		takenAt = now
	}
	return cluster.NewSnapshot(status.Set, takenAt, members)
}

type CollectorConfig struct {
	Logger  *zap.SugaredLogger
	Timeout time.Duration
	Clock   func() time.Time
	// Observe is called after every status query with its duration and error.
	Observe func(time.Duration, error)
}

func (c *CollectorConfig) Options(opts ...CollectorOption) {
	for _, opt := range opts {
		opt.ConfigureCollector(c)
	}
}

func (c *CollectorConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type CollectorOption interface {
	ConfigureCollector(*CollectorConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureCollector(c *CollectorConfig) {
	c.Logger = w.Logger
}

type WithTimeout time.Duration

func (w WithTimeout) ConfigureCollector(c *CollectorConfig) {
	c.Timeout = time.Duration(w)
}

type WithClock func() time.Time

func (w WithClock) ConfigureCollector(c *CollectorConfig) {
	c.Clock = w
}

type WithObserver func(time.Duration, error)

func (w WithObserver) ConfigureCollector(c *CollectorConfig) {
	c.Observe = w
}
