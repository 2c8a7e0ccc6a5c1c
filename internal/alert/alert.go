package alert

import (
	"fmt"
	"sort"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
)

// Level is the severity of an alert.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Kind identifies the condition an alert reports.
type Kind string

const (
	KindNoPrimary          Kind = "NO_PRIMARY"
	KindSplitBrain         Kind = "SPLIT_BRAIN"
	KindUnhealthyNode      Kind = "UNHEALTHY_NODE"
	KindHighReplicationLag Kind = "HIGH_REPLICATION_LAG"
	KindRecoveryNeeded     Kind = "RECOVERY_NEEDED"
	KindHighLatency        Kind = "HIGH_LATENCY"
	KindNominal            Kind = "NOMINAL"
)

// LagAlertSeconds is the lag above which a member is alerted on even when its
// quality band is not yet POOR.
const LagAlertSeconds = 30.0

// Alert is one finding derived from an assessment.
type Alert struct {
	Level   Level  `json:"level"`
	Kind    Kind   `json:"kind"`
	Member  string `json:"member,omitempty"`
	Message string `json:"message"`
}

// Evaluate projects an assessment onto an ordered alert list, most severe
// first. It never returns an empty list: a healthy cluster yields a single
// NOMINAL alert.
func Evaluate(a cluster.Assessment) []Alert {
	var alerts []Alert

	switch {
	case a.NoPrimary:
		alerts = append(alerts, Alert{
			Level:   LevelCritical,
			Kind:    KindNoPrimary,
			Message: "no primary member observed, writes are impossible",
		})
	case a.SplitBrain:
		alerts = append(alerts, Alert{
			Level:   LevelCritical,
			Kind:    KindSplitBrain,
			Message: fmt.Sprintf("%d members claim to be primary, data may diverge", a.PrimaryCount),
		})
	}

	for _, name := range a.UnhealthyMembers {
		alerts = append(alerts, Alert{
			Level:   LevelWarning,
			Kind:    KindUnhealthyNode,
			Member:  name,
			Message: fmt.Sprintf("member %s is unreachable", name),
		})
	}

	for _, name := range sortedKeys(a.PerMemberLag) {
		lag := a.PerMemberLag[name]
		if lag.LagSeconds == nil {
			continue
		}
		if lag.Quality != cluster.LagPoor && *lag.LagSeconds <= LagAlertSeconds {
			continue
		}
		alerts = append(alerts, Alert{
			Level:   LevelWarning,
			Kind:    KindHighReplicationLag,
			Member:  name,
			Message: fmt.Sprintf("high replication lag on %s: %.2fs", name, *lag.LagSeconds),
		})
	}

	for _, name := range a.RecoveryNeeded {
		alerts = append(alerts, Alert{
			Level:   LevelWarning,
			Kind:    KindRecoveryNeeded,
			Member:  name,
			Message: fmt.Sprintf("member %s is not serving replicated data and needs recovery", name),
		})
	}

	for _, issue := range a.NetworkIssues {
		if issue.Kind != cluster.IssueHighLatency {
			continue
		}
		alerts = append(alerts, Alert{
			Level:   LevelInfo,
			Kind:    KindHighLatency,
			Member:  issue.Member,
			Message: fmt.Sprintf("high network latency to %s: %dms", issue.Member, *issue.PingMillis),
		})
	}

	if len(alerts) == 0 {
		return []Alert{{
			Level:   LevelInfo,
			Kind:    KindNominal,
			Message: "all systems nominal",
		}}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return rank(alerts[i].Level) > rank(alerts[j].Level)
	})
	return alerts
}

// Summary collapses an alert list into CRITICAL, WARNING or OK.
func Summary(alerts []Alert) string {
	worst := LevelInfo
	for _, a := range alerts {
		if rank(a.Level) > rank(worst) {
			worst = a.Level
		}
	}
	if worst == LevelInfo {
		return "OK"
	}
	return string(worst)
}

func rank(l Level) int {
	switch l {
	case LevelCritical:
		return 2
	case LevelWarning:
		return 1
	}
	return 0
}

func sortedKeys(m map[string]cluster.MemberLag) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
