package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	entriesBucket = []byte("entries")
	metaBucket    = []byte("meta")

	// lastKey holds the most recently appended entry and survives pruning.
	lastKey = []byte("last")
)

// BoltBackend stores entries in a bbolt file keyed by big-endian sequence, so
// cursor order equals append order.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBoltBackend opens (or creates) the audit database at path.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{entriesBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit buckets: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (b *BoltBackend) Append(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry %d: %w", e.Sequence, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)
		key := sequenceKey(e.Sequence)
		if bucket.Get(key) != nil {
			return fmt.Errorf("entry %d already exists", e.Sequence)
		}
		if err := bucket.Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(lastKey, data)
	})
}

func (b *BoltBackend) Last(_ context.Context) (Entry, bool, error) {
	var (
		e     Entry
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(lastKey)
		if v == nil {
			// databases written before the meta bucket existed
			_, v = tx.Bucket(entriesBucket).Cursor().Last()
		}
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &e)
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read last entry: %w", err)
	}
	return e, found, nil
}

func (b *BoltBackend) Scan(ctx context.Context, reverse bool, fn func(Entry) error) error {
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(entriesBucket).Cursor()

		first, next := c.First, c.Next
		if reverse {
			first, next = c.Last, c.Prev
		}

		for k, v := first(); k != nil; k, v = next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrStopScan) {
		return nil
	}
	return err
}

func (b *BoltBackend) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(entriesBucket)

		// bbolt cursors are not stable across deletes, so collect first
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Timestamp.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete entries: %w", err)
	}
	return deleted, nil
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
