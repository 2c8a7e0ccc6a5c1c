package recovery

import (
	"fmt"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/util"
)

// ActionKind identifies a recovery trigger.
type ActionKind string

const (
	ActionResync    ActionKind = "RESYNC"
	ActionForceSync ActionKind = "FORCE_SYNC"
	ActionRollback  ActionKind = "ROLLBACK"
)

// Action is the validated intent of a recovery trigger. Execution is left to
// the store operator; only the intent is recorded.
type Action struct {
	Kind         ActionKind          `json:"kind"`
	Target       string              `json:"target"`
	TargetState  cluster.MemberState `json:"target_state"`
	Source       string              `json:"source,omitempty"`
	Detail       string              `json:"detail"`
	DataLossRisk bool                `json:"data_loss_risk"`
}

// Resync validates a full resynchronization of member.
func Resync(s *cluster.Snapshot, member string) (Action, error) {
	m, ok := s.Member(member)
	if !ok {
		return Action{}, &util.MemberNotFoundError{Member: member}
	}
	return Action{
		Kind:        ActionResync,
		Target:      member,
		TargetState: m.State,
		Detail:      fmt.Sprintf("resynchronize %s from scratch (current state %s)", member, m.State),
	}, nil
}

// ForceSync validates forcing a secondary to sync from the current primary.
func ForceSync(s *cluster.Snapshot, a cluster.Assessment, member string) (Action, error) {
	m, ok := s.Member(member)
	if !ok {
		return Action{}, &util.MemberNotFoundError{Member: member}
	}
	if a.NoPrimary {
		return Action{}, &util.NoPrimaryError{Operation: string(ActionForceSync)}
	}
	if m.State != cluster.StateSecondary {
		return Action{}, &util.InvalidStateError{
			Member:   member,
			State:    string(m.State),
			Expected: string(cluster.StateSecondary),
		}
	}

	// under split brain there is no single source to sync from
	source := a.Primary()
	detail := fmt.Sprintf("force %s to sync from primary %s", member, source)
	if source == "" {
		detail = fmt.Sprintf("force %s to sync from the majority primary", member)
	}
	return Action{
		Kind:        ActionForceSync,
		Target:      member,
		TargetState: m.State,
		Source:      source,
		Detail:      detail,
	}, nil
}

// HandleRollback validates discarding the divergent writes of member in favor
// of the majority history. It always carries data loss risk.
func HandleRollback(s *cluster.Snapshot, member string) (Action, error) {
	m, ok := s.Member(member)
	if !ok {
		return Action{}, &util.MemberNotFoundError{Member: member}
	}
	return Action{
		Kind:         ActionRollback,
		Target:       member,
		TargetState:  m.State,
		Detail:       fmt.Sprintf("discard writes on %s not present in the majority history", member),
		DataLossRisk: true,
	}, nil
}
