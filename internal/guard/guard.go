package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Ajpantuso/replset-guard/internal/audit"
	"github.com/Ajpantuso/replset-guard/internal/cluster"
	"github.com/Ajpantuso/replset-guard/internal/util"
)

// Durability is the acknowledgment level requested for a write.
type Durability string

const (
	// DurabilityMajority waits for a majority of voting members.
	DurabilityMajority Durability = "MAJORITY"
	// DurabilityAcknowledged waits for the primary only (w:1).
	DurabilityAcknowledged Durability = "ACKNOWLEDGED"
	// DurabilityUnacknowledged does not wait at all (w:0).
	DurabilityUnacknowledged Durability = "UNACKNOWLEDGED"
)

// ParseDurability accepts the level names and the w:N aliases. Empty means
// MAJORITY.
func ParseDurability(s string) (Durability, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MAJORITY":
		return DurabilityMajority, nil
	case "ACKNOWLEDGED", "1", "W1":
		return DurabilityAcknowledged, nil
	case "UNACKNOWLEDGED", "0", "W0":
		return DurabilityUnacknowledged, nil
	}
	return "", fmt.Errorf("unknown durability %q", s)
}

// Decision is the outcome of Admit.
type Decision struct {
	Admitted bool
	// Err is the typed rejection when Admitted is false.
	Err error
}

// Admit decides whether a write of the given durability may be attempted
// against the assessed cluster. A majority write is never attempted while
// no single primary is observed.
func Admit(a cluster.Assessment, d Durability) Decision {
	if d != DurabilityMajority {
		return Decision{Admitted: true}
	}
	switch {
	case a.NoPrimary:
		return Decision{Err: &util.NoPrimaryError{Operation: "majority write"}}
	case a.SplitBrain:
		return Decision{Err: &util.SplitBrainError{
			Operation: "majority write",
			Primaries: append([]string(nil), a.Primaries...),
		}}
	}
	return Decision{Admitted: true}
}

// WriteResult is what the store reports for an admitted write.
type WriteResult struct {
	ID           string `json:"id,omitempty"`
	Acknowledged bool   `json:"acknowledged"`
}

// Writer is the durable write primitive of the store.
type Writer interface {
	Write(ctx context.Context, target string, doc map[string]any, d Durability) (WriteResult, error)
}

// Collector yields the current snapshot.
type Collector interface {
	Collect(ctx context.Context) (*cluster.Snapshot, error)
}

// Recorder appends audit entries.
type Recorder interface {
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Request is one guarded write.
type Request struct {
	Target     string
	Document   map[string]any
	Durability Durability
}

// Guard gates writes on cluster state and records every attempt.
type Guard struct {
	collector Collector
	writer    Writer
	recorder  Recorder
	cfg       *GuardConfig
}

func NewGuard(collector Collector, writer Writer, recorder Recorder, opts ...GuardOption) *Guard {
	var cfg GuardConfig
	cfg.Options(opts...)
	cfg.Default()

	return &Guard{
		collector: collector,
		writer:    writer,
		recorder:  recorder,
		cfg:       &cfg,
	}
}

// Write classifies the cluster, gates majority writes on the result, performs
// the write when admitted, and records exactly one audit entry carrying the
// assessment. The entry is returned together with any rejection or store
// failure. A collector failure aborts a majority write before anything is
// recorded; weaker writes go ahead with no assessment attached.
func (g *Guard) Write(ctx context.Context, req Request) (audit.Entry, error) {
	if req.Durability == "" {
		req.Durability = DurabilityMajority
	}

	digest, err := Digest(req.Document)
	if err != nil {
		return audit.Entry{}, err
	}

	entry := audit.Entry{
		Kind:                audit.KindWrite,
		Target:              req.Target,
		PayloadDigest:       digest,
		RequestedDurability: string(req.Durability),
	}

	snap, err := g.collector.Collect(ctx)
	switch {
	case err == nil:
		a := cluster.Classify(snap)
		entry.Assessment = &a
	case req.Durability == DurabilityMajority:
		return audit.Entry{}, err
	default:
		// weaker writes are not gated, so they proceed unassessed
		g.cfg.Logger.Warnw("Recording write without cluster assessment",
			"target", req.Target,
			"durability", req.Durability,
			"error", err,
		)
	}

	if entry.Assessment != nil {
		if d := Admit(*entry.Assessment, req.Durability); !d.Admitted {
			g.cfg.Logger.Warnw("Write rejected",
				"target", req.Target,
				"durability", req.Durability,
				"reason", util.CodeOf(d.Err),
			)
			entry.Outcome = audit.OutcomeRejected
			entry.Reason = util.CodeOf(d.Err)
			entry.Message = d.Err.Error()
			return g.record(ctx, entry, d.Err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	res, err := g.writer.Write(ctx, req.Target, req.Document, req.Durability)
	if err != nil {
		writeErr := &util.WriteFailedError{Target: req.Target, Err: err}
		g.cfg.Logger.Errorw("Write failed",
			"target", req.Target,
			"durability", req.Durability,
			"error", err,
		)
		entry.Outcome = audit.OutcomeFailed
		entry.Reason = util.CodeWriteFailed
		entry.Message = err.Error()
		return g.record(ctx, entry, writeErr)
	}

	entry.Outcome = audit.OutcomeSuccess
	entry.Detail = res.ID
	g.cfg.Logger.Infow("Write committed",
		"target", req.Target,
		"durability", req.Durability,
		"id", res.ID,
		"acknowledged", res.Acknowledged,
	)
	return g.record(ctx, entry, nil)
}

// record appends entry and returns it with cause. An append failure is
// joined with cause so neither is lost.
func (g *Guard) record(ctx context.Context, entry audit.Entry, cause error) (audit.Entry, error) {
	stored, err := g.recorder.Append(context.WithoutCancel(ctx), entry)
	if err != nil {
		g.cfg.Logger.Errorw("Failed to record write",
			"target", entry.Target,
			"outcome", entry.Outcome,
			"error", err,
		)
		appendErr := &util.AuditAppendError{Err: err}
		if cause != nil {
			return audit.Entry{}, errors.Join(cause, appendErr)
		}
		return audit.Entry{}, appendErr
	}
	return stored, cause
}

// Digest is the hex SHA-256 of the document's JSON encoding.
func Digest(doc map[string]any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
