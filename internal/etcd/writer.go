package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/Ajpantuso/replset-guard/internal/guard"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Writer stores documents as JSON values under prefix/target/<uuid>. Every
// etcd put is committed through raft, so all durability levels are served
// with quorum acknowledgment.
type Writer struct {
	kv     clientv3.KV
	prefix string
}

func NewWriter(kv clientv3.KV, prefix string) *Writer {
	if prefix == "" {
		prefix = "/replset-guard/writes"
	}
	return &Writer{kv: kv, prefix: prefix}
}

func (w *Writer) Key(target, id string) string {
	return path.Join(w.prefix, target, id)
}

func (w *Writer) Write(ctx context.Context, target string, doc map[string]any, _ guard.Durability) (guard.WriteResult, error) {
	value, err := json.Marshal(doc)
	if err != nil {
		return guard.WriteResult{}, fmt.Errorf("failed to encode document: %w", err)
	}

	key := w.Key(target, uuid.NewString())
	if _, err := w.kv.Put(ctx, key, string(value)); err != nil {
		return guard.WriteResult{}, err
	}
	return guard.WriteResult{ID: key, Acknowledged: true}, nil
}
