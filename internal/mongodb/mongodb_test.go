package mongodb

import (
	"strings"
	"testing"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/alert"
	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/collector"
	"github.com/Ajpantuso/replset-guard/internal/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDecodeReplSetGetStatus(t *testing.T) {
	date := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	optime := date.Add(-2 * time.Second)

	// shape of a real replSetGetStatus reply, including fields we ignore
	reply := bson.D{
		{Key: "set", Value: "rs0"},
		{Key: "date", Value: primitive.NewDateTimeFromTime(date)},
		{Key: "myState", Value: int32(1)},
		{Key: "members", Value: bson.A{
			bson.D{
				{Key: "_id", Value: int32(0)},
				{Key: "name", Value: "mongo1:27017"},
				{Key: "health", Value: 1.0},
				{Key: "state", Value: int32(1)},
				{Key: "stateStr", Value: "PRIMARY"},
				{Key: "uptime", Value: int32(3600)},
				{Key: "optimeDate", Value: primitive.NewDateTimeFromTime(date)},
				{Key: "self", Value: true},
			},
			bson.D{
				{Key: "_id", Value: int32(1)},
				{Key: "name", Value: "mongo2:27017"},
				{Key: "health", Value: 1.0},
				{Key: "stateStr", Value: "SECONDARY"},
				{Key: "uptime", Value: int32(3500)},
				{Key: "optimeDate", Value: primitive.NewDateTimeFromTime(optime)},
				{Key: "pingMs", Value: int64(3)},
				{Key: "syncSourceHost", Value: "mongo1:27017"},
			},
			bson.D{
				{Key: "_id", Value: int32(2)},
				{Key: "name", Value: "mongo3:27017"},
				{Key: "health", Value: 0.0},
				{Key: "stateStr", Value: "(not reachable/healthy)"},
				{Key: "uptime", Value: int32(0)},
				{Key: "optimeDate", Value: primitive.DateTime(0)},
			},
		}},
		{Key: "ok", Value: 1.0},
	}

	data, err := bson.Marshal(reply)
	require.NoError(t, err)

	var raw replSetStatus
	require.NoError(t, bson.Unmarshal(data, &raw))

	status := raw.toStatus()
	assert.Equal(t, "rs0", status.Set)
	assert.Equal(t, date, status.Date)
	require.Len(t, status.Members, 3)

	primary := status.Members[0]
	assert.Equal(t, "PRIMARY", primary.StateStr)
	assert.Equal(t, 1.0, primary.Health)
	assert.Nil(t, primary.PingMs)
	require.NotNil(t, primary.Uptime)
	assert.Equal(t, int64(3600), *primary.Uptime)

	secondary := status.Members[1]
	require.NotNil(t, secondary.OptimeDate)
	assert.Equal(t, optime, *secondary.OptimeDate)
	assert.Equal(t, int64(3), *secondary.PingMs)
	assert.Equal(t, "mongo1:27017", secondary.SyncSourceHost)

	down := status.Members[2]
	assert.Nil(t, down.OptimeDate)
	assert.Zero(t, down.Health)

	snap, err := collector.ToSnapshot(status, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())

	// the unreachable member has no lag and does not raise the maximum
	a := cluster.Classify(snap)
	assert.Nil(t, a.PerMemberLag["mongo3:27017"].LagSeconds)
	require.NotNil(t, a.MaxLagSeconds)
	assert.Equal(t, 2.0, *a.MaxLagSeconds)
	for _, al := range alert.Evaluate(a) {
		assert.NotEqual(t, alert.KindHighReplicationLag, al.Kind)
	}
}

func TestUsableOptime(t *testing.T) {
	epoch := time.Unix(0, 0)
	var zero time.Time
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	assert.Nil(t, usableOptime(nil))
	assert.Nil(t, usableOptime(&epoch))
	assert.Nil(t, usableOptime(&zero))
	got := usableOptime(&at)
	require.NotNil(t, got)
	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, at.Equal(*got))
}

func TestWriteConcern(t *testing.T) {
	majority := WriteConcern(guard.DurabilityMajority)
	assert.Equal(t, "majority", majority.W)
	assert.Equal(t, majorityWTimeout, majority.WTimeout)

	assert.Equal(t, 1, WriteConcern(guard.DurabilityAcknowledged).W)
	assert.Equal(t, 0, WriteConcern(guard.DurabilityUnacknowledged).W)
	assert.False(t, WriteConcern(guard.DurabilityUnacknowledged).Acknowledged())
}

func TestFormatID(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), formatID(oid))
	assert.Equal(t, "42", formatID(42))
	assert.Empty(t, formatID(nil))
}

func TestDecodeOplogRecord(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := bson.D{
		{Key: "ts", Value: primitive.Timestamp{T: uint32(at.Unix()), I: 3}},
		{Key: "op", Value: "i"},
		{Key: "ns", Value: "shop.orders"},
		{Key: "o", Value: bson.D{
			{Key: "_id", Value: int32(7)},
			{Key: "note", Value: strings.Repeat("x", 200)},
		}},
	}
	data, err := bson.Marshal(doc)
	require.NoError(t, err)

	var rec oplogRecord
	require.NoError(t, bson.Unmarshal(data, &rec))

	entry := rec.toEntry()
	assert.Equal(t, at, entry.Timestamp)
	assert.Equal(t, "i", entry.Operation)
	assert.Equal(t, "shop.orders", entry.Namespace)
	assert.Len(t, entry.Detail, maxDetailLength)
	assert.Contains(t, entry.Detail, "_id")

	// a no-op entry without a body has no detail
	noop := oplogRecord{TS: primitive.Timestamp{T: uint32(at.Unix())}, Op: "n"}
	assert.Empty(t, noop.toEntry().Detail)
}

func TestDecodeOplogStats(t *testing.T) {
	data, err := bson.Marshal(bson.D{
		{Key: "ns", Value: "local.oplog.rs"},
		{Key: "size", Value: int64(52428800)},
		{Key: "count", Value: int32(1200)},
		{Key: "maxSize", Value: int64(1073741824)},
		{Key: "capped", Value: true},
		{Key: "ok", Value: 1.0},
	})
	require.NoError(t, err)

	var stats oplogStats
	require.NoError(t, bson.Unmarshal(data, &stats))
	assert.Equal(t, int64(52428800), stats.Size)
	assert.Equal(t, int64(1073741824), stats.MaxSize)
	assert.Equal(t, int64(1200), stats.Count)
}
