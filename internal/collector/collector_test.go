package collector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/collector"
	"github.com/Ajpantuso/replset-guard/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	status  collector.ReplicaSetStatus
	err     error
	block   bool
	pingErr error
	calls   int
}

func (f *fakeSource) Status(ctx context.Context) (collector.ReplicaSetStatus, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return collector.ReplicaSetStatus{}, ctx.Err()
	}
	return f.status, f.err
}

func (f *fakeSource) Ping(context.Context) error { return f.pingErr }

func ptr[T any](v T) *T { return &v }

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCollectMapsMembers(t *testing.T) {
	optime := now.Add(-3 * time.Second)
	source := &fakeSource{status: collector.ReplicaSetStatus{
		Set:  "rs0",
		Date: now,
		Members: []collector.MemberRecord{
			{Name: "db-1:27017", StateStr: "SECONDARY", Health: 1, OptimeDate: &optime, PingMs: ptr(int64(4)), SyncSourceHost: "db-0:27017"},
			{Name: "db-0:27017", StateStr: "PRIMARY", Health: 1, OptimeDate: &now, Uptime: ptr(int64(3600))},
			{Name: "db-2:27017", StateStr: "(not reachable/healthy)", Health: 0},
		},
	}}

	var observed int
	c := collector.NewCollector(source, collector.WithObserver(func(time.Duration, error) { observed++ }))
	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "rs0", snap.ReplicaSet())
	assert.Equal(t, now, snap.TakenAt())
	assert.Equal(t, 1, observed)

	members := snap.Members()
	require.Len(t, members, 3)
	assert.Equal(t, "db-0:27017", members[0].Name)
	assert.Equal(t, cluster.StatePrimary, members[0].State)
	assert.Equal(t, int64(3600), *members[0].UptimeSeconds)
	assert.Equal(t, "db-0:27017", members[1].SyncSource)
	assert.Equal(t, optime, *members[1].Optime)
	assert.Equal(t, cluster.StateUnknown, members[2].State)
	assert.False(t, members[2].Healthy)
}

func TestCollectUsesClockWithoutStatusDate(t *testing.T) {
	source := &fakeSource{status: collector.ReplicaSetStatus{
		Members: []collector.MemberRecord{{Name: "a:1", StateStr: "PRIMARY", Health: 1}},
	}}
	c := collector.NewCollector(source, collector.WithClock(func() time.Time { return now }))

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now, snap.TakenAt())
}

func TestCollectErrors(t *testing.T) {
	tests := []struct {
		name     string
		source   *fakeSource
		wantCode string
	}{
		{
			name:     "source failure",
			source:   &fakeSource{err: errors.New("connection refused")},
			wantCode: util.CodeUnreachableStore,
		},
		{
			name:     "timeout",
			source:   &fakeSource{block: true},
			wantCode: util.CodeUnreachableStore,
		},
		{
			name:     "empty member list",
			source:   &fakeSource{status: collector.ReplicaSetStatus{Set: "rs0"}},
			wantCode: util.CodeMalformedStatus,
		},
		{
			name: "nameless member",
			source: &fakeSource{status: collector.ReplicaSetStatus{
				Members: []collector.MemberRecord{{StateStr: "PRIMARY", Health: 1}},
			}},
			wantCode: util.CodeMalformedStatus,
		},
		{
			name: "duplicate member",
			source: &fakeSource{status: collector.ReplicaSetStatus{
				Members: []collector.MemberRecord{{Name: "a:1"}, {Name: "a:1"}},
			}},
			wantCode: util.CodeMalformedStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := collector.NewCollector(tt.source, collector.WithTimeout(20*time.Millisecond))
			snap, err := c.Collect(context.Background())
			require.Error(t, err)
			assert.Nil(t, snap)
			assert.Equal(t, tt.wantCode, util.CodeOf(err))
			assert.Equal(t, 1, tt.source.calls)
		})
	}
}

func TestCollectTimeoutKeepsCause(t *testing.T) {
	c := collector.NewCollector(&fakeSource{block: true}, collector.WithTimeout(10*time.Millisecond))

	_, err := c.Collect(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "exceeded 10ms")
}

func TestPing(t *testing.T) {
	c := collector.NewCollector(&fakeSource{pingErr: errors.New("down")})
	assert.Equal(t, util.CodeUnreachableStore, util.CodeOf(c.Ping(context.Background())))

	c = collector.NewCollector(&fakeSource{})
	assert.NoError(t, c.Ping(context.Background()))
}
