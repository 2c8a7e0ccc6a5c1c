package recovery

import (
	"fmt"
	"sort"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
)

// Priority orders recommendations; higher is more urgent.
type Priority string

const (
	PriorityInfo     Priority = "INFO"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

const (
	// RecommendLagSeconds is the secondary lag above which remediation is
	// recommended.
	RecommendLagSeconds = 60.0
	// ResyncLagSeconds is the secondary lag above which the heal plan proposes
	// a full resync.
	ResyncLagSeconds = 120.0
)

// Recommendation is a single remediation suggestion.
type Recommendation struct {
	Priority       Priority `json:"priority"`
	Issue          string   `json:"issue"`
	Action         string   `json:"action"`
	AffectedMember string   `json:"affected_member,omitempty"`
}

// Recommend derives remediation guidance from a snapshot and its assessment,
// most urgent first. It never returns an empty list. oplog may be nil; when
// its window is known, a secondary lagging beyond it needs an initial sync.
func Recommend(s *cluster.Snapshot, a cluster.Assessment, oplog *cluster.OplogInfo) []Recommendation {
	var recs []Recommendation

	if a.NoPrimary {
		recs = append(recs, Recommendation{
			Priority: PriorityCritical,
			Issue:    "no primary member",
			Action:   "inspect replica set configuration and restore a primary",
		})
	}
	if a.SplitBrain {
		recs = append(recs, Recommendation{
			Priority: PriorityCritical,
			Issue:    fmt.Sprintf("%d members claim to be primary", a.PrimaryCount),
			Action:   "step down stale primaries and isolate the minority partition",
		})
	}
	if a.PrimaryCount > 0 && a.SecondaryCount == 0 {
		recs = append(recs, Recommendation{
			Priority: PriorityHigh,
			Issue:    "no replication redundancy",
			Action:   "restore secondary members so writes are replicated",
		})
	}
	for _, name := range a.UnhealthyMembers {
		recs = append(recs, Recommendation{
			Priority:       PriorityMedium,
			Issue:          fmt.Sprintf("member %s is unreachable", name),
			Action:         "check network connectivity and server state, restart if needed",
			AffectedMember: name,
		})
	}
	for _, m := range s.Members() {
		if m.State != cluster.StateSecondary {
			continue
		}
		lag, ok := a.PerMemberLag[m.Name]
		if !ok || lag.LagSeconds == nil {
			continue
		}
		if oplog.Exceeded(*lag.LagSeconds) {
			recs = append(recs, Recommendation{
				Priority: PriorityHigh,
				Issue: fmt.Sprintf("member %s has fallen off the oplog: lag %.2fs exceeds window %.2fs",
					m.Name, *lag.LagSeconds, *oplog.WindowSeconds),
				Action:         "perform an initial sync of the member",
				AffectedMember: m.Name,
			})
			continue
		}
		if *lag.LagSeconds <= RecommendLagSeconds {
			continue
		}
		recs = append(recs, Recommendation{
			Priority:       PriorityMedium,
			Issue:          fmt.Sprintf("member %s has high replication lag: %.2fs", m.Name, *lag.LagSeconds),
			Action:         "check member performance and network, a resync may be required",
			AffectedMember: m.Name,
		})
	}
	for _, name := range a.RecoveryNeeded {
		m, _ := s.Member(name)
		recs = append(recs, Recommendation{
			Priority:       PriorityMedium,
			Issue:          fmt.Sprintf("member %s is in %s state", name, m.State),
			Action:         "monitor recovery progress, resync if it does not converge",
			AffectedMember: name,
		})
	}

	if len(recs) == 0 {
		return []Recommendation{{
			Priority: PriorityInfo,
			Issue:    "cluster nominal",
			Action:   "continue regular monitoring",
		}}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Priority.rank() > recs[j].Priority.rank()
	})
	return recs
}

// PlannedActionKind names what a heal plan step would do.
type PlannedActionKind string

const (
	PlanResync  PlannedActionKind = "RESYNC"
	PlanMonitor PlannedActionKind = "MONITOR"
)

// PlannedAction is one advisory heal step. Nothing is executed.
type PlannedAction struct {
	Member   string            `json:"member"`
	Issue    string            `json:"issue"`
	Action   PlannedActionKind `json:"action"`
	Priority Priority          `json:"priority"`
}

// HealPlan lists the actions an operator would take to heal the cluster.
// An empty plan means nothing needs attention.
func HealPlan(s *cluster.Snapshot, a cluster.Assessment, oplog *cluster.OplogInfo) []PlannedAction {
	plan := []PlannedAction{}
	for _, m := range s.Members() {
		switch m.State {
		case cluster.StateSecondary:
			lag, ok := a.PerMemberLag[m.Name]
			if !ok || lag.LagSeconds == nil {
				continue
			}
			if oplog.Exceeded(*lag.LagSeconds) {
				plan = append(plan, PlannedAction{
					Member:   m.Name,
					Issue:    fmt.Sprintf("lag %.2fs exceeds oplog window %.2fs", *lag.LagSeconds, *oplog.WindowSeconds),
					Action:   PlanResync,
					Priority: PriorityCritical,
				})
				continue
			}
			if *lag.LagSeconds <= ResyncLagSeconds {
				continue
			}
			plan = append(plan, PlannedAction{
				Member:   m.Name,
				Issue:    fmt.Sprintf("high lag: %.2fs", *lag.LagSeconds),
				Action:   PlanResync,
				Priority: PriorityHigh,
			})
		case cluster.StateRecovering:
			plan = append(plan, PlannedAction{
				Member:   m.Name,
				Issue:    "member in RECOVERING state",
				Action:   PlanMonitor,
				Priority: PriorityMedium,
			})
		}
	}
	return plan
}
