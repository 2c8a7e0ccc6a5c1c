package cluster

import (
	"strings"
	"time"
)

// MemberState is the replication role a member reports for itself.
type MemberState string

const (
	StatePrimary    MemberState = "PRIMARY"
	StateSecondary  MemberState = "SECONDARY"
	StateRecovering MemberState = "RECOVERING"
	StateStartup    MemberState = "STARTUP"
	StateStartup2   MemberState = "STARTUP2"
	StateRollback   MemberState = "ROLLBACK"
	StateArbiter    MemberState = "ARBITER"
	StateUnknown    MemberState = "UNKNOWN"
)

// ParseMemberState maps a raw state string onto MemberState. Anything not in
// the known set (DOWN, REMOVED, ...) becomes StateUnknown.
func ParseMemberState(raw string) MemberState {
	switch s := MemberState(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatePrimary, StateSecondary, StateRecovering, StateStartup,
		StateStartup2, StateRollback, StateArbiter:
		return s
	default:
		return StateUnknown
	}
}

// NeedsRecovery reports whether the state is one where the member is not
// serving replicated data and lag is meaningless.
func (s MemberState) NeedsRecovery() bool {
	switch s {
	case StateRecovering, StateStartup, StateStartup2, StateRollback:
		return true
	}
	return false
}

// MemberStatus is one member as observed at a point in time.
type MemberStatus struct {
	Name          string      `json:"name"`
	State         MemberState `json:"state"`
	Healthy       bool        `json:"healthy"`
	Optime        *time.Time  `json:"optime,omitempty"`
	PingMillis    *int64      `json:"ping_millis,omitempty"`
	SyncSource    string      `json:"sync_source,omitempty"`
	UptimeSeconds *int64      `json:"uptime_seconds,omitempty"`
}

// OverallStatus is the coarse cluster health grade.
type OverallStatus string

const (
	StatusExcellent OverallStatus = "EXCELLENT"
	StatusGood      OverallStatus = "GOOD"
	StatusDegraded  OverallStatus = "DEGRADED"
	StatusCritical  OverallStatus = "CRITICAL"
)

// ThreatLevel is the consistency risk implied by the cluster shape.
type ThreatLevel string

const (
	ThreatNone   ThreatLevel = "NONE"
	ThreatLow    ThreatLevel = "LOW"
	ThreatMedium ThreatLevel = "MEDIUM"
	ThreatHigh   ThreatLevel = "HIGH"
)

// LagQuality grades replication freshness of a single member.
type LagQuality string

const (
	LagExcellent  LagQuality = "EXCELLENT"
	LagGood       LagQuality = "GOOD"
	LagAcceptable LagQuality = "ACCEPTABLE"
	LagPoor       LagQuality = "POOR"
)

// Lag band upper bounds, in seconds.
const (
	ExcellentLagBound  = 5.0
	GoodLagBound       = 15.0
	AcceptableLagBound = 60.0
)

// LagQualityFor grades a lag value. Bands are monotonic in seconds.
func LagQualityFor(seconds float64) LagQuality {
	switch {
	case seconds < ExcellentLagBound:
		return LagExcellent
	case seconds < GoodLagBound:
		return LagGood
	case seconds < AcceptableLagBound:
		return LagAcceptable
	default:
		return LagPoor
	}
}

// Rank orders qualities from best (0) to worst.
func (q LagQuality) Rank() int {
	switch q {
	case LagExcellent:
		return 0
	case LagGood:
		return 1
	case LagAcceptable:
		return 2
	case LagPoor:
		return 3
	}
	return -1
}

// MemberLag is the lag of one non-primary member. LagSeconds is nil when either
// optime is unknown or the member is in a recovery state; Quality is empty then.
type MemberLag struct {
	LagSeconds *float64   `json:"lag_seconds"`
	Quality    LagQuality `json:"lag_quality,omitempty"`
}

// Redundancy describes how many healthy copies back the primary.
type Redundancy string

const (
	RedundancyFull    Redundancy = "FULL"
	RedundancyPartial Redundancy = "PARTIAL"
	RedundancyNone    Redundancy = "NONE"
)

// NetworkIssue is a per-member connectivity finding.
type NetworkIssue struct {
	Member     string `json:"member"`
	Kind       string `json:"kind"`
	Severity   string `json:"severity"`
	PingMillis *int64 `json:"ping_millis,omitempty"`
}

const (
	IssueHighLatency  = "HIGH_LATENCY"
	IssueNoConnection = "NO_CONNECTION"

	// HighLatencyMillis is the round trip above which a member is flagged.
	HighLatencyMillis = 100
)

// Assessment is the classified view of one Snapshot. It is a value type;
// slices and maps are freshly allocated by Classify and never shared.
type Assessment struct {
	ReplicaSet       string               `json:"replica_set,omitempty"`
	AssessedAt       time.Time            `json:"assessed_at"`
	PrimaryCount     int                  `json:"primary_count"`
	SecondaryCount   int                  `json:"secondary_count"`
	HealthyCount     int                  `json:"healthy_count"`
	UnhealthyCount   int                  `json:"unhealthy_count"`
	TotalCount       int                  `json:"total_count"`
	HealthPercentage float64              `json:"health_percentage"`
	OverallStatus    OverallStatus        `json:"overall_status"`
	ThreatLevel      ThreatLevel          `json:"threat_level"`
	NoPrimary        bool                 `json:"no_primary"`
	SplitBrain       bool                 `json:"split_brain"`
	Primaries        []string             `json:"primaries"`
	Secondaries      []string             `json:"secondaries"`
	UnhealthyMembers []string             `json:"unhealthy_members"`
	RecoveryNeeded   []string             `json:"recovery_needed"`
	PerMemberLag     map[string]MemberLag `json:"per_member_lag"`
	MaxLagSeconds    *float64             `json:"max_lag_seconds"`
	Redundancy       Redundancy           `json:"redundancy"`
	NetworkIssues    []NetworkIssue       `json:"network_issues"`
}

// Primary returns the single primary's name, or "" when there is none or more
// than one.
func (a Assessment) Primary() string {
	if len(a.Primaries) != 1 {
		return ""
	}
	return a.Primaries[0]
}
