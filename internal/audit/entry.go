package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ajpantuso/replset-guard/internal/cluster"
)

// Kind is the type of a guarded action.
type Kind string

const (
	KindWrite     Kind = "WRITE"
	KindResync    Kind = "RESYNC"
	KindForceSync Kind = "FORCE_SYNC"
	KindRollback  Kind = "ROLLBACK"
	KindNodeStop  Kind = "NODE_STOP"
	KindNodeStart Kind = "NODE_START"
)

// Outcome is the result of a guarded action.
type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeFailed   Outcome = "FAILED"
)

// Entry is one immutable audit record. Sequence, ID, Timestamp, PrevHash and
// Hash are assigned by Log.Append.
type Entry struct {
	ID                  string              `json:"id"`
	Sequence            uint64              `json:"sequence"`
	Timestamp           time.Time           `json:"timestamp"`
	Kind                Kind                `json:"kind"`
	Target              string              `json:"target"`
	PayloadDigest       string              `json:"payload_digest,omitempty"`
	Detail              string              `json:"detail,omitempty"`
	RequestedDurability string              `json:"requested_durability,omitempty"`
	Outcome             Outcome             `json:"outcome"`
	Reason              string              `json:"reason,omitempty"`
	Message             string              `json:"message,omitempty"`
	DataLoss            bool                `json:"data_loss"`
	Assessment          *cluster.Assessment `json:"assessment,omitempty"`
	PrevHash            string              `json:"prev_hash"`
	Hash                string              `json:"hash"`
}

// computeHash returns the SHA-256 of the entry's JSON encoding with Hash
// cleared, so the chain covers every other field including PrevHash.
func computeHash(e Entry) (string, error) {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode entry %d: %w", e.Sequence, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Filter selects entries in Query. Zero fields match everything.
type Filter struct {
	Target   string
	Kinds    []Kind
	Outcomes []Outcome
	Since    time.Time
	Until    time.Time
}

func (f Filter) matches(e Entry) bool {
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if len(f.Kinds) > 0 && !contains(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Outcomes) > 0 && !contains(f.Outcomes, e.Outcome) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Order is the iteration order of Query.
type Order int

const (
	NewestFirst Order = iota
	OldestFirst
)

// ParseOrder maps "asc"/"oldest" to OldestFirst and anything else to
// NewestFirst.
func ParseOrder(s string) Order {
	switch s {
	case "asc", "oldest", "oldest_first":
		return OldestFirst
	}
	return NewestFirst
}

// Stats summarizes the log.
type Stats struct {
	Total        int             `json:"total"`
	ByKind       map[Kind]int    `json:"by_kind"`
	ByOutcome    map[Outcome]int `json:"by_outcome"`
	ByDurability map[string]int  `json:"by_durability"`
	DataLoss     int             `json:"data_loss"`
	Oldest       *time.Time      `json:"oldest,omitempty"`
	Newest       *time.Time      `json:"newest,omitempty"`
}

// VerifyResult reports the outcome of a hash chain check.
type VerifyResult struct {
	Valid        bool   `json:"valid"`
	Checked      int    `json:"checked"`
	BrokenAt     uint64 `json:"broken_at,omitempty"`
	BrokenReason string `json:"broken_reason,omitempty"`
}
