package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/collector"
	"github.com/Ajpantuso/replset-guard/internal/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "go.etcd.io/etcd/api/v3/etcdserverpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBuildStatus(t *testing.T) {
	probes := []memberProbe{
		{ID: 0x1, Name: "etcd-0", ClientURL: "https://etcd-0.etcd:2379", Leader: 0x1, RTT: 3 * time.Millisecond},
		{ID: 0x2, Name: "etcd-1", ClientURL: "https://etcd-1.etcd:2379", Leader: 0x1, RTT: 150 * time.Millisecond},
		{ID: 0x3, Name: "etcd-2", ClientURL: "https://etcd-2.etcd:2379", Err: errors.New("connection refused")},
		{ID: 0x4, Name: "etcd-3", ClientURL: "https://etcd-3.etcd:2379", IsLearner: true, Leader: 0x1},
	}

	status := buildStatus("etcd-main", probes, now)

	assert.Equal(t, "etcd-main", status.Set)
	assert.Equal(t, now, status.Date)
	require.Len(t, status.Members, 4)

	assert.Equal(t, "etcd-0.etcd:2379", status.Members[0].Name)
	assert.Equal(t, "PRIMARY", status.Members[0].StateStr)
	assert.Equal(t, 1.0, status.Members[0].Health)
	assert.Equal(t, int64(3), *status.Members[0].PingMs)

	assert.Equal(t, "SECONDARY", status.Members[1].StateStr)
	assert.Equal(t, "UNKNOWN", status.Members[2].StateStr)
	assert.Zero(t, status.Members[2].Health)
	assert.Nil(t, status.Members[2].PingMs)
	assert.Equal(t, "STARTUP2", status.Members[3].StateStr)

	snap, err := collector.ToSnapshot(status, now)
	require.NoError(t, err)
	a := cluster.Classify(snap)
	assert.Equal(t, []string{"etcd-0.etcd:2379"}, a.Primaries)
	assert.Equal(t, []string{"etcd-2.etcd:2379"}, a.UnhealthyMembers)
	assert.Equal(t, []string{"etcd-3.etcd:2379"}, a.RecoveryNeeded)
}

func TestNewProbe(t *testing.T) {
	p := newProbe(&pb.Member{
		ID:         0x2a,
		Name:       "etcd-1",
		ClientURLs: []string{"https://etcd-1.etcd:2379", "https://10.0.0.2:2379"},
		IsLearner:  true,
	})
	assert.NoError(t, p.Err)
	assert.Equal(t, uint64(0x2a), p.ID)
	assert.Equal(t, "https://etcd-1.etcd:2379", p.ClientURL)
	assert.True(t, p.IsLearner)

	p = newProbe(&pb.Member{ID: 0x2b, Name: "etcd-2"})
	assert.Error(t, p.Err)
	assert.Empty(t, p.ClientURL)
}

func TestBuildStatusWithoutLeader(t *testing.T) {
	probes := []memberProbe{
		{ID: 0x1, ClientURL: "http://a:2379"},
		{ID: 0x2, ClientURL: "http://b:2379"},
	}

	status := buildStatus("etcd", probes, now)
	for _, m := range status.Members {
		assert.Equal(t, "SECONDARY", m.StateStr)
	}
}

func TestBuildStatusDisagreeingLeaders(t *testing.T) {
	probes := []memberProbe{
		{ID: 0x1, ClientURL: "http://a:2379", Leader: 0x2},
		{ID: 0x2, ClientURL: "http://b:2379", Leader: 0x2},
		{ID: 0x3, ClientURL: "http://c:2379", Leader: 0x3},
	}

	status := buildStatus("etcd", probes, now)
	assert.Equal(t, "SECONDARY", status.Members[0].StateStr)
	assert.Equal(t, "PRIMARY", status.Members[1].StateStr)
	assert.Equal(t, "SECONDARY", status.Members[2].StateStr)
}

func TestMemberName(t *testing.T) {
	assert.Equal(t, "10.0.0.1:2379", memberName(memberProbe{ClientURL: "http://10.0.0.1:2379", Name: "x"}))
	assert.Equal(t, "etcd-0", memberName(memberProbe{Name: "etcd-0"}))
	assert.Equal(t, "ff", memberName(memberProbe{ID: 0xff}))
}

type fakeKV struct {
	clientv3.KV
	puts map[string]string
	err  error
}

func (f *fakeKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts[key] = val
	return &clientv3.PutResponse{}, nil
}

func TestWriter(t *testing.T) {
	kv := &fakeKV{puts: map[string]string{}}
	w := NewWriter(kv, "")

	res, err := w.Write(context.Background(), "orders", map[string]any{"id": 7}, guard.DurabilityMajority)
	require.NoError(t, err)
	assert.True(t, res.Acknowledged)
	assert.True(t, strings.HasPrefix(res.ID, "/replset-guard/writes/orders/"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(kv.puts[res.ID]), &doc))
	assert.Equal(t, 7.0, doc["id"])

	kv.err = errors.New("etcdserver: request timed out")
	_, err = w.Write(context.Background(), "orders", nil, guard.DurabilityAcknowledged)
	assert.EqualError(t, err, "etcdserver: request timed out")
}
