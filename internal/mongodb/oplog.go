package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/util"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	oplogDatabase   = "local"
	oplogCollection = "oplog.rs"

	maxDetailLength = 100
)

type oplogStats struct {
	Size    int64 `bson:"size"`
	MaxSize int64 `bson:"maxSize"`
	Count   int64 `bson:"count"`
}

type oplogRecord struct {
	TS primitive.Timestamp `bson:"ts"`
	Op string              `bson:"op"`
	NS string              `bson:"ns"`
	O  bson.Raw            `bson:"o,omitempty"`
}

func (r oplogRecord) toEntry() cluster.OplogEntry {
	entry := cluster.OplogEntry{
		Timestamp: timestampTime(r.TS),
		Operation: r.Op,
		Namespace: r.NS,
	}
	if len(r.O) > 0 {
		entry.Detail = truncate(r.O.String(), maxDetailLength)
	}
	return entry
}

func timestampTime(ts primitive.Timestamp) time.Time {
	return time.Unix(int64(ts.T), 0).UTC()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *Source) oplog() *mongo.Collection {
	return s.client.Database(oplogDatabase).Collection(oplogCollection)
}

// Oplog reports the size and time window of the operation log.
func (s *Source) Oplog(ctx context.Context) (cluster.OplogInfo, error) {
	var stats oplogStats
	err := s.client.Database(oplogDatabase).
		RunCommand(ctx, bson.D{{Key: "collStats", Value: oplogCollection}}).
		Decode(&stats)
	if err != nil {
		return cluster.OplogInfo{}, &util.UnreachableStoreError{Reason: "collStats on oplog", Err: err}
	}

	first, err := s.oplogEdge(ctx, 1)
	if err != nil {
		return cluster.OplogInfo{}, err
	}
	last, err := s.oplogEdge(ctx, -1)
	if err != nil {
		return cluster.OplogInfo{}, err
	}

	info := cluster.NewOplogInfo(stats.Size, stats.MaxSize, stats.Count, first, last)
	s.logger.Debugw("Fetched oplog window",
		"size_bytes", info.SizeBytes,
		"count", info.Count,
		"window_seconds", info.WindowSeconds,
	)
	return info, nil
}

// oplogEdge returns the timestamp of the oldest (direction 1) or newest
// (direction -1) entry in natural order, or nil for an empty oplog.
func (s *Source) oplogEdge(ctx context.Context, direction int) (*time.Time, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "$natural", Value: direction}}).
		SetProjection(bson.D{{Key: "ts", Value: 1}})

	var rec oplogRecord
	err := s.oplog().FindOne(ctx, bson.D{}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &util.UnreachableStoreError{Reason: "read oplog edge", Err: err}
	}
	ts := timestampTime(rec.TS)
	return &ts, nil
}

// OplogTail returns the newest limit entries, newest first.
func (s *Source) OplogTail(ctx context.Context, limit int) ([]cluster.OplogEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "$natural", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.oplog().Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, &util.UnreachableStoreError{Reason: "tail oplog", Err: err}
	}
	var records []oplogRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, &util.UnreachableStoreError{Reason: "decode oplog entries", Err: err}
	}

	entries := make([]cluster.OplogEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.toEntry())
	}
	return entries, nil
}
