package cluster

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/util"
)

// Snapshot is an immutable, timestamped set of member statuses ordered by
// member name. Build it with NewSnapshot.
type Snapshot struct {
	replicaSet string
	takenAt    time.Time
	members    []MemberStatus
}

// NewSnapshot copies members, sorts them by name and validates that every name
// is present and unique. An empty member list is allowed.
func NewSnapshot(replicaSet string, takenAt time.Time, members []MemberStatus) (*Snapshot, error) {
	copied := make([]MemberStatus, len(members))
	seen := make(map[string]struct{}, len(members))

	for i, m := range members {
		if m.Name == "" {
			return nil, &util.MalformedStatusError{Reason: fmt.Sprintf("member %d has no name", i)}
		}
		if _, dup := seen[m.Name]; dup {
			return nil, &util.MalformedStatusError{Reason: fmt.Sprintf("duplicate member name %s", m.Name)}
		}
		seen[m.Name] = struct{}{}
		copied[i] = copyMember(m)
	}

	sort.Slice(copied, func(i, j int) bool { return copied[i].Name < copied[j].Name })

	return &Snapshot{
		replicaSet: replicaSet,
		takenAt:    takenAt.UTC(),
		members:    copied,
	}, nil
}

func (s *Snapshot) ReplicaSet() string { return s.replicaSet }
func (s *Snapshot) TakenAt() time.Time  { return s.takenAt }
func (s *Snapshot) Len() int            { return len(s.members) }

// Members returns a copy of the member list in name order.
func (s *Snapshot) Members() []MemberStatus {
	out := make([]MemberStatus, len(s.members))
	for i, m := range s.members {
		out[i] = copyMember(m)
	}
	return out
}

// Member looks up a member by name.
func (s *Snapshot) Member(name string) (MemberStatus, bool) {
	i := sort.Search(len(s.members), func(i int) bool { return s.members[i].Name >= name })
	if i < len(s.members) && s.members[i].Name == name {
		return copyMember(s.members[i]), true
	}
	return MemberStatus{}, false
}

type snapshotJSON struct {
	ReplicaSet string         `json:"replica_set,omitempty"`
	TakenAt    time.Time      `json:"taken_at"`
	Members    []MemberStatus `json:"members"`
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		ReplicaSet: s.replicaSet,
		TakenAt:    s.takenAt,
		Members:    s.members,
	})
}

func copyMember(m MemberStatus) MemberStatus {
	if m.Optime != nil {
		t := *m.Optime
		m.Optime = &t
	}
	if m.PingMillis != nil {
		p := *m.PingMillis
		m.PingMillis = &p
	}
	if m.UptimeSeconds != nil {
		u := *m.UptimeSeconds
		m.UptimeSeconds = &u
	}
	return m
}
