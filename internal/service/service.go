package service

import (
	"context"
	"errors"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/alert"
	"github.com/Ajpantuso/replset-guard/internal/audit"
	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/guard"
	"github.com/Ajpantuso/replset-guard/internal/lifecycle"
	"github.com/Ajpantuso/replset-guard/internal/recovery"
	"github.com/Ajpantuso/replset-guard/internal/util"
)

// ErrLifecycleDisabled is returned by fault injection operations when no
// container runtime is configured.
var ErrLifecycleDisabled = errors.New("fault injection is disabled")

// ErrOplogUnavailable is returned by oplog reads when the store backend has
// no oplog.
var ErrOplogUnavailable = errors.New("oplog inspection is not available for this store")

// Collector yields fresh snapshots and checks store reachability.
type Collector interface {
	Collect(ctx context.Context) (*cluster.Snapshot, error)
	Ping(ctx context.Context) error
}

// OplogSource reads the operation log secondaries replicate from.
type OplogSource interface {
	Oplog(ctx context.Context) (cluster.OplogInfo, error)
	OplogTail(ctx context.Context, limit int) ([]cluster.OplogEntry, error)
}

// Service exposes every inbound operation. Each read queries the store
// afresh; nothing is served from cache.
type Service struct {
	collector Collector
	guard     *guard.Guard
	log       *audit.Log
	scheduler *lifecycle.Scheduler
	cfg       *ServiceConfig
}

func NewService(collector Collector, writer guard.Writer, log *audit.Log, opts ...ServiceOption) *Service {
	var cfg ServiceConfig
	cfg.Options(opts...)
	cfg.Default()

	s := &Service{
		collector: collector,
		log:       log,
		cfg:       &cfg,
	}
	s.guard = guard.NewGuard(collector, writer, log,
		guard.WithLogger{Logger: cfg.Logger},
		guard.WithWriteTimeout(cfg.WriteTimeout),
	)
	if cfg.Runtime != nil {
		s.scheduler = lifecycle.NewScheduler(cfg.Runtime,
			lifecycle.WithLogger{Logger: cfg.Logger},
			lifecycle.WithTimeout(cfg.LifecycleTimeout),
			lifecycle.WithRestartHook(s.onScheduledRestart),
		)
	}
	return s
}

// Close cancels pending restarts.
func (s *Service) Close() {
	if s.scheduler != nil {
		s.scheduler.Close()
	}
}

// Ping reports whether the store answers.
func (s *Service) Ping(ctx context.Context) error {
	return s.collector.Ping(ctx)
}

func (s *Service) Snapshot(ctx context.Context) (*cluster.Snapshot, error) {
	return s.collector.Collect(ctx)
}

func (s *Service) Assessment(ctx context.Context) (cluster.Assessment, error) {
	snap, err := s.collector.Collect(ctx)
	if err != nil {
		return cluster.Assessment{}, err
	}
	a := cluster.Classify(snap)
	s.cfg.Metrics.ObserveAssessment(a, snap)
	return a, nil
}

// AlertReport is the alert list with its rolled up severity.
type AlertReport struct {
	Summary    string             `json:"summary"`
	Alerts     []alert.Alert      `json:"alerts"`
	Assessment cluster.Assessment `json:"assessment"`
}

func (s *Service) Alerts(ctx context.Context) (AlertReport, error) {
	a, err := s.Assessment(ctx)
	if err != nil {
		return AlertReport{}, err
	}
	alerts := alert.Evaluate(a)
	return AlertReport{
		Summary:    alert.Summary(alerts),
		Alerts:     alerts,
		Assessment: a,
	}, nil
}

func (s *Service) Recommendations(ctx context.Context) ([]recovery.Recommendation, error) {
	snap, err := s.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return recovery.Recommend(snap, cluster.Classify(snap), s.oplogWindow(ctx)), nil
}

func (s *Service) HealPlan(ctx context.Context) ([]recovery.PlannedAction, error) {
	snap, err := s.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	return recovery.HealPlan(snap, cluster.Classify(snap), s.oplogWindow(ctx)), nil
}

func (s *Service) Oplog(ctx context.Context) (cluster.OplogInfo, error) {
	if s.cfg.Oplog == nil {
		return cluster.OplogInfo{}, ErrOplogUnavailable
	}
	info, err := s.cfg.Oplog.Oplog(ctx)
	if err != nil {
		return cluster.OplogInfo{}, err
	}
	s.cfg.Metrics.ObserveOplog(info)
	return info, nil
}

// OplogTail returns the newest limit oplog entries, newest first.
func (s *Service) OplogTail(ctx context.Context, limit int) ([]cluster.OplogEntry, error) {
	if s.cfg.Oplog == nil {
		return nil, ErrOplogUnavailable
	}
	return s.cfg.Oplog.OplogTail(ctx, limit)
}

// oplogWindow returns nil when the oplog is not configured or cannot be
// read; advice then falls back to lag thresholds.
func (s *Service) oplogWindow(ctx context.Context) *cluster.OplogInfo {
	if s.cfg.Oplog == nil {
		return nil
	}
	info, err := s.Oplog(ctx)
	if err != nil {
		s.cfg.Logger.Warnw("Failed to read oplog window, using lag thresholds only",
			"error", err,
		)
		return nil
	}
	return &info
}

// GuardedWrite gates and performs a write. The audit entry is returned even
// when the write was rejected or failed.
func (s *Service) GuardedWrite(ctx context.Context, req guard.Request) (audit.Entry, error) {
	entry, err := s.guard.Write(ctx, req)
	s.countAppend(entry, err)
	if entry.Outcome != "" {
		s.cfg.Metrics.WritesTotal.WithLabelValues(entry.RequestedDurability, string(entry.Outcome)).Inc()
	}
	return entry, err
}

func (s *Service) Resync(ctx context.Context, member string) (audit.Entry, error) {
	return s.recover(ctx, audit.KindResync, member, func(snap *cluster.Snapshot, _ cluster.Assessment) (recovery.Action, error) {
		return recovery.Resync(snap, member)
	})
}

func (s *Service) ForceSync(ctx context.Context, member string) (audit.Entry, error) {
	return s.recover(ctx, audit.KindForceSync, member, func(snap *cluster.Snapshot, a cluster.Assessment) (recovery.Action, error) {
		return recovery.ForceSync(snap, a, member)
	})
}

func (s *Service) Rollback(ctx context.Context, member string) (audit.Entry, error) {
	return s.recover(ctx, audit.KindRollback, member, func(snap *cluster.Snapshot, _ cluster.Assessment) (recovery.Action, error) {
		return recovery.HandleRollback(snap, member)
	})
}

// recover validates a recovery trigger against a fresh snapshot and records
// it. Rejections are audited too; only a collector failure is not.
func (s *Service) recover(ctx context.Context, kind audit.Kind, member string, validate func(*cluster.Snapshot, cluster.Assessment) (recovery.Action, error)) (audit.Entry, error) {
	snap, err := s.collector.Collect(ctx)
	if err != nil {
		return audit.Entry{}, err
	}
	a := cluster.Classify(snap)

	entry := audit.Entry{
		Kind:       kind,
		Target:     member,
		Assessment: &a,
	}

	action, cause := validate(snap, a)
	if cause != nil {
		entry.Outcome = audit.OutcomeRejected
		entry.Reason = util.CodeOf(cause)
		entry.Message = cause.Error()
		s.cfg.Logger.Warnw("Recovery action rejected",
			"action", kind,
			"member", member,
			"reason", entry.Reason,
		)
	} else {
		entry.Outcome = audit.OutcomeSuccess
		entry.Detail = action.Detail
		entry.DataLoss = action.DataLossRisk
		logFn := s.cfg.Logger.Infow
		if action.DataLossRisk {
			logFn = s.cfg.Logger.Warnw
		}
		logFn("Recovery action recorded",
			"action", kind,
			"member", member,
			"member_state", action.TargetState,
			"source", action.Source,
			"data_loss_risk", action.DataLossRisk,
		)
	}

	s.cfg.Metrics.RecoveryTotal.WithLabelValues(string(kind), string(entry.Outcome)).Inc()
	return s.append(ctx, entry, cause)
}

// append records entry and returns the stored entry with cause. A failed
// append is never swallowed.
func (s *Service) append(ctx context.Context, entry audit.Entry, cause error) (audit.Entry, error) {
	stored, err := s.log.Append(context.WithoutCancel(ctx), entry)
	if err != nil {
		s.cfg.Metrics.AuditAppends.WithLabelValues("error").Inc()
		s.cfg.Logger.Errorw("Failed to record audit entry",
			"kind", entry.Kind,
			"target", entry.Target,
			"error", err,
		)
		appendErr := &util.AuditAppendError{Err: err}
		if cause != nil {
			return audit.Entry{}, errors.Join(cause, appendErr)
		}
		return audit.Entry{}, appendErr
	}
	s.cfg.Metrics.AuditAppends.WithLabelValues("ok").Inc()
	return stored, cause
}

func (s *Service) countAppend(entry audit.Entry, err error) {
	var appendErr *util.AuditAppendError
	switch {
	case errors.As(err, &appendErr):
		s.cfg.Metrics.AuditAppends.WithLabelValues("error").Inc()
	case entry.Hash != "":
		s.cfg.Metrics.AuditAppends.WithLabelValues("ok").Inc()
	}
}

func (s *Service) QueryAudit(ctx context.Context, f audit.Filter, limit int, order audit.Order) ([]audit.Entry, error) {
	return s.log.Query(ctx, f, limit, order)
}

func (s *Service) AuditStats(ctx context.Context) (audit.Stats, error) {
	return s.log.Stats(ctx)
}

func (s *Service) VerifyAudit(ctx context.Context) (audit.VerifyResult, error) {
	return s.log.Verify(ctx)
}

func (s *Service) PruneAudit(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.log.Prune(ctx, olderThan)
}

// DefaultRestartDelay is used when a stop request does not name a delay.
func (s *Service) DefaultRestartDelay() time.Duration {
	return s.cfg.DefaultRestartDelay
}
