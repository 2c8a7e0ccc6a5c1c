package cluster

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotSortsAndCopies(t *testing.T) {
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	optime := want
	in := []MemberStatus{
		{Name: "c:1", State: StateSecondary, Optime: &optime},
		{Name: "a:1", State: StatePrimary},
		{Name: "b:1", State: StateArbiter},
	}

	s, err := NewSnapshot("rs0", want, in)
	require.NoError(t, err)

	members := s.Members()
	require.Len(t, members, 3)
	assert.Equal(t, "a:1", members[0].Name)
	assert.Equal(t, "b:1", members[1].Name)
	assert.Equal(t, "c:1", members[2].Name)

	// mutating the input or the returned copy does not affect the snapshot
	in[0].State = StateRollback
	*in[0].Optime = want.Add(time.Hour)
	members[2].Healthy = true

	c, ok := s.Member("c:1")
	require.True(t, ok)
	assert.Equal(t, StateSecondary, c.State)
	assert.Equal(t, want, *c.Optime)
	assert.False(t, c.Healthy)

	_, ok = s.Member("missing:1")
	assert.False(t, ok)
}

func TestNewSnapshotRejectsBadNames(t *testing.T) {
	tests := []struct {
		name    string
		members []MemberStatus
	}{
		{name: "empty name", members: []MemberStatus{{Name: ""}}},
		{name: "duplicate", members: []MemberStatus{{Name: "a:1"}, {Name: "a:1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSnapshot("rs0", time.Now(), tt.members)
			require.Error(t, err)
			var malformed *util.MalformedStatusError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestParseMemberState(t *testing.T) {
	assert.Equal(t, StatePrimary, ParseMemberState("PRIMARY"))
	assert.Equal(t, StateStartup2, ParseMemberState(" startup2 "))
	assert.Equal(t, StateUnknown, ParseMemberState("DOWN"))
	assert.Equal(t, StateUnknown, ParseMemberState(""))

	assert.True(t, StateRollback.NeedsRecovery())
	assert.False(t, StateSecondary.NeedsRecovery())
}

func TestSnapshotMarshalJSON(t *testing.T) {
	s, err := NewSnapshot("rs0", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), []MemberStatus{
		{Name: "a:1", State: StatePrimary, Healthy: true},
	})
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"replica_set":"rs0","taken_at":"2025-01-01T00:00:00Z","members":[{"name":"a:1","state":"PRIMARY","healthy":true}]}`, string(data))
}
