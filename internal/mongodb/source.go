package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/collector"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Status structures, as returned by replSetGetStatus.

type replSetStatusMember struct {
	Name           string     `bson:"name"`
	Health         float64    `bson:"health"`
	StateStr       string     `bson:"stateStr"`
	OptimeDate     *time.Time `bson:"optimeDate,omitempty"`
	PingMs         *int64     `bson:"pingMs,omitempty"`
	SyncSourceHost string     `bson:"syncSourceHost,omitempty"`
	Uptime         *int64     `bson:"uptime,omitempty"`
}

type replSetStatus struct {
	Set     string                `bson:"set"`
	Date    time.Time             `bson:"date"`
	Members []replSetStatusMember `bson:"members"`
}

func (s replSetStatus) toStatus() collector.ReplicaSetStatus {
	out := collector.ReplicaSetStatus{
		Set:     s.Set,
		Date:    s.Date.UTC(),
		Members: make([]collector.MemberRecord, 0, len(s.Members)),
	}
	for _, m := range s.Members {
		rec := collector.MemberRecord{
			Name:           m.Name,
			StateStr:       m.StateStr,
			Health:         m.Health,
			PingMs:         m.PingMs,
			SyncSourceHost: m.SyncSourceHost,
			Uptime:         m.Uptime,
		}
		rec.OptimeDate = usableOptime(m.OptimeDate)
		out.Members = append(out.Members, rec)
	}
	return out
}

// usableOptime drops the epoch placeholder the server reports for members it
// cannot reach.
func usableOptime(t *time.Time) *time.Time {
	if t == nil || t.Unix() <= 0 {
		return nil
	}
	optime := t.UTC()
	return &optime
}

// Connect opens a client for uri. The caller owns Disconnect.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(timeout).
		SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}
	return client, nil
}

// Source reads replica set status through an existing client.
type Source struct {
	client *mongo.Client
	logger *zap.SugaredLogger
}

func NewSource(client *mongo.Client, logger *zap.SugaredLogger) *Source {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Source{client: client, logger: logger}
}

func (s *Source) Status(ctx context.Context) (collector.ReplicaSetStatus, error) {
	var raw replSetStatus
	err := s.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).
		Decode(&raw)
	if err != nil {
		return collector.ReplicaSetStatus{}, fmt.Errorf("replSetGetStatus: %w", err)
	}

	s.logger.Debugw("Fetched replica set status",
		"replica_set", raw.Set,
		"members", len(raw.Members),
	)
	return raw.toStatus(), nil
}

// Ping succeeds as long as any member answers, so readiness does not depend
// on a primary being elected.
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Nearest())
}
