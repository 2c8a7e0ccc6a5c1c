package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrStopScan may be returned by a Scan callback to end iteration early.
var ErrStopScan = errors.New("stop scan")

// Backend persists entries in sequence order.
type Backend interface {
	Append(ctx context.Context, e Entry) error
	// Last returns the most recently appended entry, even when it has since
	// been pruned, so sequences keep increasing after a full prune.
	Last(ctx context.Context) (Entry, bool, error)
	// Scan visits entries in ascending sequence order, or descending when
	// reverse is set. Returning ErrStopScan ends the scan without error.
	Scan(ctx context.Context, reverse bool, fn func(Entry) error) error
	// DeleteBefore removes entries whose timestamp precedes cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Log is the append-only, hash-chained audit trail. It is safe for concurrent
// use; appends are serialized so the chain has no forks.
type Log struct {
	mu      sync.Mutex
	backend Backend
	cfg     *LogConfig
}

func NewLog(backend Backend, opts ...LogOption) *Log {
	var cfg LogConfig
	cfg.Options(opts...)
	cfg.Default()

	return &Log{
		backend: backend,
		cfg:     &cfg,
	}
}

// Append stamps e with sequence, ID, timestamp and hashes, stores it, and
// returns the stored entry.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok, err := l.backend.Last(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read audit tail: %w", err)
	}

	e.ID = uuid.NewString()
	e.Timestamp = l.cfg.Clock().UTC()
	e.Sequence = 1
	e.PrevHash = ""
	if ok {
		e.Sequence = last.Sequence + 1
		e.PrevHash = last.Hash
	}

	if e.Hash, err = computeHash(e); err != nil {
		return Entry{}, err
	}

	if err := l.backend.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("failed to persist audit entry: %w", err)
	}

	l.cfg.Logger.Debugw("Audit entry appended",
		"sequence", e.Sequence,
		"kind", e.Kind,
		"target", e.Target,
		"outcome", e.Outcome,
	)
	return e, nil
}

// Query returns up to limit entries matching f. A limit <= 0 means no limit.
func (l *Log) Query(ctx context.Context, f Filter, limit int, order Order) ([]Entry, error) {
	entries := []Entry{}
	err := l.backend.Scan(ctx, order == NewestFirst, func(e Entry) error {
		if !f.matches(e) {
			return nil
		}
		entries = append(entries, e)
		if limit > 0 && len(entries) >= limit {
			return ErrStopScan
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return entries, nil
}

// Stats counts entries by kind, outcome and requested durability.
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		ByKind:       make(map[Kind]int),
		ByOutcome:    make(map[Outcome]int),
		ByDurability: make(map[string]int),
	}
	err := l.backend.Scan(ctx, false, func(e Entry) error {
		s.Total++
		s.ByKind[e.Kind]++
		s.ByOutcome[e.Outcome]++
		if e.RequestedDurability != "" {
			s.ByDurability[e.RequestedDurability]++
		}
		if e.DataLoss {
			s.DataLoss++
		}
		ts := e.Timestamp
		if s.Oldest == nil {
			s.Oldest = &ts
		}
		s.Newest = &ts
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute audit stats: %w", err)
	}
	return s, nil
}

// Verify walks the log oldest first and checks every hash and chain link.
// The first entry after a prune is accepted as the chain root.
func (l *Log) Verify(ctx context.Context) (VerifyResult, error) {
	var (
		res  = VerifyResult{Valid: true}
		prev *Entry
	)
	err := l.backend.Scan(ctx, false, func(e Entry) error {
		res.Checked++

		want, err := computeHash(e)
		if err != nil {
			return err
		}
		switch {
		case want != e.Hash:
			res.BrokenReason = "hash mismatch"
		case prev != nil && e.PrevHash != prev.Hash:
			res.BrokenReason = "previous hash mismatch"
		case prev != nil && e.Sequence != prev.Sequence+1:
			res.BrokenReason = "sequence gap"
		}
		if res.BrokenReason != "" {
			res.Valid = false
			res.BrokenAt = e.Sequence
			return ErrStopScan
		}

		cur := e
		prev = &cur
		return nil
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to verify audit log: %w", err)
	}

	if !res.Valid {
		l.cfg.Logger.Warnw("Audit chain broken",
			"sequence", res.BrokenAt,
			"reason", res.BrokenReason,
		)
	}
	return res, nil
}

// Prune deletes entries older than olderThan relative to now.
func (l *Log) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.cfg.Clock().UTC().Add(-olderThan)
	n, err := l.backend.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit log: %w", err)
	}

	l.cfg.Logger.Infow("Audit log pruned",
		"cutoff", cutoff,
		"deleted", n,
	)
	return n, nil
}

func (l *Log) Close() error {
	return l.backend.Close()
}

type LogConfig struct {
	Logger *zap.SugaredLogger
	Clock  func() time.Time
}

func (c *LogConfig) Options(opts ...LogOption) {
	for _, opt := range opts {
		opt.ConfigureLog(c)
	}
}

func (c *LogConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type LogOption interface {
	ConfigureLog(*LogConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureLog(c *LogConfig) {
	c.Logger = w.Logger
}

type WithClock func() time.Time

func (w WithClock) ConfigureLog(c *LogConfig) {
	c.Clock = w
}
