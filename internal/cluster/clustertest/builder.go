// Package clustertest builds snapshots for tests.
package clustertest

import (
	"time"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
)

// Base is the primary optime used by Builder.Lagging.
var Base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Builder accumulates members for a snapshot.
type Builder struct {
	members []cluster.MemberStatus
}

func New() *Builder { return &Builder{} }

// Member adds a member without optime.
func (b *Builder) Member(name string, state cluster.MemberState, healthy bool) *Builder {
	b.members = append(b.members, cluster.MemberStatus{Name: name, State: state, Healthy: healthy})
	return b
}

// Lagging adds a member whose optime is lag behind Base.
func (b *Builder) Lagging(name string, state cluster.MemberState, healthy bool, lag time.Duration) *Builder {
	optime := Base.Add(-lag)
	b.members = append(b.members, cluster.MemberStatus{
		Name:    name,
		State:   state,
		Healthy: healthy,
		Optime:  &optime,
	})
	return b
}

// Ping sets the ping of the most recently added member.
func (b *Builder) Ping(ms int64) *Builder {
	b.members[len(b.members)-1].PingMillis = &ms
	return b
}

// Snapshot builds the snapshot and panics on invalid input.
func (b *Builder) Snapshot() *cluster.Snapshot {
	s, err := cluster.NewSnapshot("rs0", Base, b.members)
	if err != nil {
		panic(err)
	}
	return s
}

// Healthy returns a primary with two fresh secondaries.
func Healthy() *cluster.Snapshot {
	return New().
		Lagging("db-0:27017", cluster.StatePrimary, true, 0).
		Lagging("db-1:27017", cluster.StateSecondary, true, time.Second).
		Lagging("db-2:27017", cluster.StateSecondary, true, 2*time.Second).
		Snapshot()
}

// NoPrimary returns two secondaries and no primary.
func NoPrimary() *cluster.Snapshot {
	return New().
		Member("db-1:27017", cluster.StateSecondary, true).
		Member("db-2:27017", cluster.StateSecondary, true).
		Snapshot()
}

// SplitBrain returns two members both claiming primary.
func SplitBrain() *cluster.Snapshot {
	return New().
		Lagging("db-0:27017", cluster.StatePrimary, true, 0).
		Lagging("db-1:27017", cluster.StatePrimary, true, 0).
		Snapshot()
}
