package etcd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/collector"
	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source reports an etcd cluster in replica set terms: the raft leader is the
// primary, voters are secondaries and learners are still catching up.
type Source struct {
	client *clientv3.Client
	cfg    *SourceConfig
}

func NewSource(client *clientv3.Client, opts ...SourceOption) *Source {
	var cfg SourceConfig
	cfg.Options(opts...)
	cfg.Default()

	return &Source{
		client: client,
		cfg:    &cfg,
	}
}

// memberProbe is the result of asking one member for its status.
type memberProbe struct {
	ID        uint64
	Name      string
	ClientURL string
	IsLearner bool
	Leader    uint64
	RTT       time.Duration
	Err       error
}

func newProbe(m *pb.Member) memberProbe {
	p := memberProbe{
		ID:        m.ID,
		Name:      m.Name,
		IsLearner: m.IsLearner,
	}
	if len(m.ClientURLs) == 0 {
		p.Err = errors.New("member has no client URLs")
		return p
	}
	p.ClientURL = m.ClientURLs[0]
	return p
}

func (s *Source) Status(ctx context.Context) (collector.ReplicaSetStatus, error) {
	memberList, err := s.client.MemberList(ctx)
	if err != nil {
		return collector.ReplicaSetStatus{}, fmt.Errorf("failed to get member list: %w", err)
	}

	probes := make([]memberProbe, len(memberList.Members))

	var g errgroup.Group
	g.SetLimit(s.cfg.ProbeConcurrency)
	for i, member := range memberList.Members {
		probes[i] = newProbe(member)
		if probes[i].Err != nil {
			continue
		}

		g.Go(func() error {
			start := s.cfg.Clock()
			resp, err := s.client.Status(ctx, probes[i].ClientURL)
			probes[i].RTT = s.cfg.Clock().Sub(start)
			if err != nil {
				s.cfg.Logger.Debugw("Member unhealthy",
					"member_id", fmt.Sprintf("%x", probes[i].ID),
					"endpoint", probes[i].ClientURL,
					"error", err,
				)
				probes[i].Err = err
				return nil
			}
			probes[i].Leader = resp.Leader
			return nil
		})
	}
	_ = g.Wait()

	status := buildStatus(s.cfg.ClusterName, probes, s.cfg.Clock())
	s.cfg.Logger.Debugw("Probed ETCD members",
		"cluster", s.cfg.ClusterName,
		"members", len(probes),
	)
	return status, nil
}

// Ping issues a serializable read, which any live member answers without a
// leader.
func (s *Source) Ping(ctx context.Context) error {
	_, err := s.client.Get(ctx, "health", clientv3.WithSerializable())
	return err
}

// buildStatus maps member probes onto the generic status shape. The leader
// is the one most reachable members agree on; unreachable members are
// UNKNOWN with zero health.
func buildStatus(clusterName string, probes []memberProbe, now time.Time) collector.ReplicaSetStatus {
	votes := make(map[uint64]int)
	for _, p := range probes {
		if p.Err == nil && p.Leader != 0 {
			votes[p.Leader]++
		}
	}
	var leader uint64
	for id, n := range votes {
		if n > votes[leader] || (n == votes[leader] && id < leader) {
			leader = id
		}
	}

	status := collector.ReplicaSetStatus{
		Set:     clusterName,
		Date:    now.UTC(),
		Members: make([]collector.MemberRecord, 0, len(probes)),
	}
	for _, p := range probes {
		rec := collector.MemberRecord{Name: memberName(p)}
		switch {
		case p.Err != nil:
			rec.StateStr = "UNKNOWN"
		case p.ID == leader:
			rec.StateStr = "PRIMARY"
		case p.IsLearner:
			rec.StateStr = "STARTUP2"
		default:
			rec.StateStr = "SECONDARY"
		}
		if p.Err == nil {
			rec.Health = 1
			ping := p.RTT.Milliseconds()
			rec.PingMs = &ping
		}
		status.Members = append(status.Members, rec)
	}
	return status
}

// memberName is the host:port of the member's client URL, falling back to
// the etcd member name.
func memberName(p memberProbe) string {
	if p.ClientURL != "" {
		if u, err := url.Parse(p.ClientURL); err == nil && u.Host != "" {
			return u.Host
		}
	}
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("%x", p.ID)
}

type SourceConfig struct {
	Logger           *zap.SugaredLogger
	ClusterName      string
	ProbeConcurrency int
	Clock            func() time.Time
}

func (c *SourceConfig) Options(opts ...SourceOption) {
	for _, opt := range opts {
		opt.ConfigureSource(c)
	}
}

func (c *SourceConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.ClusterName == "" {
		c.ClusterName = "etcd"
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = 8
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type SourceOption interface {
	ConfigureSource(*SourceConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureSource(c *SourceConfig) {
	c.Logger = w.Logger
}

func (w WithLogger) ConfigureDiscovery(c *DiscoveryConfig) {
	c.Logger = w.Logger
}

type WithClusterName string

func (w WithClusterName) ConfigureSource(c *SourceConfig) {
	c.ClusterName = string(w)
}

type WithProbeConcurrency int

func (w WithProbeConcurrency) ConfigureSource(c *SourceConfig) {
	c.ProbeConcurrency = int(w)
}
