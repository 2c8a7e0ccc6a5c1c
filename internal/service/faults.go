package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/audit"
	"github.com/Ajpantuso/replset-guard/internal/lifecycle"
	"github.com/Ajpantuso/replset-guard/internal/util"
)

const reasonLifecycleFailed = "LIFECYCLE_FAILED"

// StopNode stops node and schedules its restart after restartAfter; zero
// means no automatic restart. The stop is audited whether or not it worked.
func (s *Service) StopNode(ctx context.Context, node string, restartAfter time.Duration) (audit.Entry, error) {
	if s.scheduler == nil {
		return audit.Entry{}, ErrLifecycleDisabled
	}

	entry := audit.Entry{
		Kind:   audit.KindNodeStop,
		Target: node,
		Detail: "no automatic restart",
	}
	if restartAfter > 0 {
		entry.Detail = fmt.Sprintf("restart after %s", restartAfter)
	}

	err := s.scheduler.Stop(ctx, node, restartAfter)
	s.finishFault(&entry, err)
	return s.append(ctx, entry, err)
}

// StartNode cancels any pending restart of node and starts it now.
func (s *Service) StartNode(ctx context.Context, node string) (audit.Entry, error) {
	if s.scheduler == nil {
		return audit.Entry{}, ErrLifecycleDisabled
	}

	entry := audit.Entry{
		Kind:   audit.KindNodeStart,
		Target: node,
		Detail: "manual start",
	}

	err := s.scheduler.Start(ctx, node)
	s.finishFault(&entry, err)
	return s.append(ctx, entry, err)
}

func (s *Service) PendingRestarts() ([]lifecycle.PendingRestart, error) {
	if s.scheduler == nil {
		return nil, ErrLifecycleDisabled
	}
	return s.scheduler.Pending(), nil
}

// CancelRestart drops the pending restart of node and reports whether one
// existed.
func (s *Service) CancelRestart(node string) (bool, error) {
	if s.scheduler == nil {
		return false, ErrLifecycleDisabled
	}
	return s.scheduler.Cancel(node), nil
}

func (s *Service) finishFault(entry *audit.Entry, err error) {
	entry.Outcome = audit.OutcomeSuccess
	if err != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Reason = reasonLifecycleFailed
		entry.Message = err.Error()
		s.cfg.Logger.Errorw("Fault injection failed",
			"action", entry.Kind,
			"node", entry.Target,
			"error", err,
		)
	}
	s.cfg.Metrics.FaultsTotal.WithLabelValues(string(entry.Kind), string(entry.Outcome)).Inc()
}

func (s *Service) onScheduledRestart(node string, err error) {
	entry := audit.Entry{
		Kind:   audit.KindNodeStart,
		Target: node,
		Detail: "scheduled restart",
	}
	s.finishFault(&entry, err)
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LifecycleTimeout)
	defer cancel()
	// The restart runs on a timer with no request waiting on it, so a failed
	// append can only be logged and counted.
	_, appendErr := s.append(ctx, entry, err)
	var lost *util.AuditAppendError
	if errors.As(appendErr, &lost) {
		s.cfg.Metrics.UnreportedAuditFailures.WithLabelValues(string(entry.Kind)).Inc()
	}
}
