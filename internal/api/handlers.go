package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/alert"
	"github.com/Ajpantuso/replset-guard/internal/audit"
	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/guard"
)

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getAssessment(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Assessment(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Alerts(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) getRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.Recommendations(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getHealPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.svc.HealPlan(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

const (
	defaultOplogTail = 10
	maxOplogTail     = 1000
)

func (s *Server) getOplog(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Oplog(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) getOplogTail(w http.ResponseWriter, r *http.Request) {
	limit := defaultOplogTail
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxOplogTail {
			s.writeError(w, badRequest(fmt.Sprintf("limit must be between 1 and %d", maxOplogTail)), nil)
			return
		}
		limit = n
	}
	entries, err := s.svc.OplogTail(r.Context(), limit)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

type monitorStatus struct {
	LastPollAt    *time.Time            `json:"last_poll_at,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
	OverallStatus cluster.OverallStatus `json:"overall_status,omitempty"`
	ThreatLevel   cluster.ThreatLevel   `json:"threat_level,omitempty"`
	ActiveAlerts  []alert.Alert         `json:"active_alerts"`
}

// getMonitorStatus serves what the background monitor last saw without
// querying the store.
func (s *Server) getMonitorStatus(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Monitor == nil {
		s.writeError(w, errMonitorDisabled, nil)
		return
	}
	status := monitorStatus{ActiveAlerts: s.cfg.Monitor.Active()}
	if last, ok := s.cfg.Monitor.Last(); ok {
		at := last.At.UTC()
		status.LastPollAt = &at
		if last.Err != nil {
			status.LastError = last.Err.Error()
		} else {
			status.OverallStatus = last.Assessment.OverallStatus
			status.ThreatLevel = last.Assessment.ThreatLevel
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

type writeRequest struct {
	Target     string         `json:"target"`
	Document   map[string]any `json:"document"`
	Durability string         `json:"durability"`
}

func (s *Server) postWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err, nil)
		return
	}
	if req.Target == "" {
		s.writeError(w, badRequest("target is required"), nil)
		return
	}
	durability, err := guard.ParseDurability(req.Durability)
	if err != nil {
		s.writeError(w, badRequest(err.Error()), nil)
		return
	}

	entry, err := s.svc.GuardedWrite(r.Context(), guard.Request{
		Target:     req.Target,
		Document:   req.Document,
		Durability: durability,
	})
	if err != nil {
		s.writeError(w, err, &entry)
		return
	}
	s.writeJSON(w, http.StatusCreated, entry)
}

type memberRequest struct {
	Member string `json:"member"`
}

func (s *Server) recovery(trigger func(context.Context, string) (audit.Entry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req memberRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, err, nil)
			return
		}
		if req.Member == "" {
			s.writeError(w, badRequest("member is required"), nil)
			return
		}

		entry, err := trigger(r.Context(), req.Member)
		if err != nil {
			s.writeError(w, err, &entry)
			return
		}
		s.writeJSON(w, http.StatusAccepted, entry)
	}
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := audit.Filter{Target: q.Get("target")}
	for _, k := range splitList(q.Get("kind")) {
		f.Kinds = append(f.Kinds, audit.Kind(strings.ToUpper(k)))
	}
	for _, o := range splitList(q.Get("outcome")) {
		f.Outcomes = append(f.Outcomes, audit.Outcome(strings.ToUpper(o)))
	}

	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		s.writeError(w, badRequest(fmt.Sprintf("invalid since: %v", err)), nil)
		return
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		s.writeError(w, badRequest(fmt.Sprintf("invalid until: %v", err)), nil)
		return
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			s.writeError(w, badRequest(fmt.Sprintf("invalid limit %q", v)), nil)
			return
		}
	}

	entries, err := s.svc.QueryAudit(r.Context(), f, limit, audit.ParseOrder(q.Get("order")))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) pruneAudit(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than")
	olderThan, err := time.ParseDuration(raw)
	if err != nil || olderThan <= 0 {
		s.writeError(w, badRequest(fmt.Sprintf("invalid older_than %q", raw)), nil)
		return
	}

	removed, err := s.svc.PruneAudit(r.Context(), olderThan)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) getAuditStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.AuditStats(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.VerifyAudit(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type stopRequest struct {
	Node string `json:"node"`
	// RestartAfter is a Go duration; omitted means the configured default
	// and "0s" means no automatic restart.
	RestartAfter *string `json:"restart_after"`
}

func (s *Server) stopNode(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err, nil)
		return
	}
	if req.Node == "" {
		s.writeError(w, badRequest("node is required"), nil)
		return
	}

	delay := s.svc.DefaultRestartDelay()
	if req.RestartAfter != nil {
		d, err := time.ParseDuration(*req.RestartAfter)
		if err != nil || d < 0 {
			s.writeError(w, badRequest(fmt.Sprintf("invalid restart_after %q", *req.RestartAfter)), nil)
			return
		}
		delay = d
	}

	entry, err := s.svc.StopNode(r.Context(), req.Node, delay)
	if err != nil {
		s.writeError(w, err, &entry)
		return
	}
	s.writeJSON(w, http.StatusAccepted, entry)
}

type startRequest struct {
	Node string `json:"node"`
}

func (s *Server) startNode(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err, nil)
		return
	}
	if req.Node == "" {
		s.writeError(w, badRequest("node is required"), nil)
		return
	}

	entry, err := s.svc.StartNode(r.Context(), req.Node)
	if err != nil {
		s.writeError(w, err, &entry)
		return
	}
	s.writeJSON(w, http.StatusAccepted, entry)
}

func (s *Server) getPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.svc.PendingRestarts()
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, pending)
}

func (s *Server) cancelPending(w http.ResponseWriter, r *http.Request) {
	node := r.PathValue("node")
	cancelled, err := s.svc.CancelRestart(node)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	if !cancelled {
		s.writeJSON(w, http.StatusNotFound, errorBody{
			Reason:  "NO_PENDING_RESTART",
			Message: fmt.Sprintf("no restart pending for %s", node),
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
