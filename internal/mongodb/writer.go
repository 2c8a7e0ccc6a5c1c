package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/guard"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// majorityWTimeout bounds how long a majority write waits for replication.
const majorityWTimeout = 5 * time.Second

// Writer inserts documents into collections of one database.
type Writer struct {
	db *mongo.Database
}

func NewWriter(client *mongo.Client, database string) *Writer {
	return &Writer{db: client.Database(database)}
}

// WriteConcern maps a durability level onto a driver write concern.
func WriteConcern(d guard.Durability) *writeconcern.WriteConcern {
	switch d {
	case guard.DurabilityAcknowledged:
		return writeconcern.W1()
	case guard.DurabilityUnacknowledged:
		return writeconcern.Unacknowledged()
	default:
		return &writeconcern.WriteConcern{W: "majority", WTimeout: majorityWTimeout}
	}
}

func (w *Writer) Write(ctx context.Context, target string, doc map[string]any, d guard.Durability) (guard.WriteResult, error) {
	coll := w.db.Collection(target, options.Collection().SetWriteConcern(WriteConcern(d)))

	res, err := coll.InsertOne(ctx, bson.M(doc))
	if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		return guard.WriteResult{Acknowledged: false}, nil
	}
	if err != nil {
		return guard.WriteResult{}, err
	}
	return guard.WriteResult{ID: formatID(res.InsertedID), Acknowledged: true}, nil
}

func formatID(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
