package cluster

import "time"

// OplogInfo describes the operation log secondaries replicate from. The
// window is the time span between its oldest and newest entries; a secondary
// lagging by more than that can no longer catch up incrementally.
type OplogInfo struct {
	SizeBytes     int64      `json:"size_bytes"`
	MaxSizeBytes  int64      `json:"max_size_bytes"`
	Count         int64      `json:"count"`
	First         *time.Time `json:"first_timestamp,omitempty"`
	Last          *time.Time `json:"last_timestamp,omitempty"`
	WindowSeconds *float64   `json:"window_seconds"`
}

// NewOplogInfo computes the window when both ends are known.
func NewOplogInfo(size, maxSize, count int64, first, last *time.Time) OplogInfo {
	info := OplogInfo{
		SizeBytes:    size,
		MaxSizeBytes: maxSize,
		Count:        count,
		First:        first,
		Last:         last,
	}
	if first != nil && last != nil && !last.Before(*first) {
		window := last.Sub(*first).Seconds()
		info.WindowSeconds = &window
	}
	return info
}

// Exceeded reports whether lagSeconds is beyond the oplog window. It is false
// when the window is unknown or the oplog is nil.
func (o *OplogInfo) Exceeded(lagSeconds float64) bool {
	if o == nil || o.WindowSeconds == nil || *o.WindowSeconds <= 0 {
		return false
	}
	return lagSeconds > *o.WindowSeconds
}

// OplogEntry is one operation read from the tail of the oplog.
type OplogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Namespace string    `json:"namespace"`
	Detail    string    `json:"detail,omitempty"`
}
