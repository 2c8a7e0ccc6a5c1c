package util

import (
	"errors"
	"fmt"
	"strings"
)

// Machine-readable rejection reasons.
const (
	CodeUnreachableStore  = "UNREACHABLE_STORE"
	CodeMalformedStatus   = "MALFORMED_STATUS"
	CodeNoPrimary         = "NO_PRIMARY"
	CodeSplitBrain        = "SPLIT_BRAIN"
	CodeMemberNotFound    = "MEMBER_NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeWriteFailed       = "WRITE_FAILED"
	CodeAuditAppendFailed = "AUDIT_APPEND_FAILED"
	CodeUnknown           = "UNKNOWN"
)

// UnreachableStoreError is returned when the replica set status query cannot
// be completed.
type UnreachableStoreError struct {
	Reason string
	Err    error
}

func (e *UnreachableStoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store unreachable: %s", e.Reason)
	}
	return fmt.Sprintf("store unreachable: %s: %v", e.Reason, e.Err)
}

func (e *UnreachableStoreError) Unwrap() error { return e.Err }
func (e *UnreachableStoreError) Code() string  { return CodeUnreachableStore }

// MalformedStatusError is returned when the store answers with a status
// document that cannot be mapped onto the member model.
type MalformedStatusError struct {
	Reason string
}

func (e *MalformedStatusError) Error() string {
	return fmt.Sprintf("malformed replica set status: %s", e.Reason)
}

func (e *MalformedStatusError) Code() string { return CodeMalformedStatus }

// NoPrimaryError is returned when an operation requires a primary and none is
// observed.
type NoPrimaryError struct {
	Operation string
}

func (e *NoPrimaryError) Error() string {
	return fmt.Sprintf("%s rejected: no primary observed", e.Operation)
}

func (e *NoPrimaryError) Code() string { return CodeNoPrimary }

// SplitBrainError is returned when a majority-durable write is attempted while
// more than one member claims to be primary.
type SplitBrainError struct {
	Operation string
	Primaries []string
}

func (e *SplitBrainError) Error() string {
	return fmt.Sprintf("%s rejected: split brain, multiple primaries observed (%s)",
		e.Operation, strings.Join(e.Primaries, ", "))
}

func (e *SplitBrainError) Code() string { return CodeSplitBrain }

// MemberNotFoundError is returned when a recovery action names a member that
// is absent from the current snapshot.
type MemberNotFoundError struct {
	Member string
}

func (e *MemberNotFoundError) Error() string {
	return fmt.Sprintf("member not found: %s", e.Member)
}

func (e *MemberNotFoundError) Code() string { return CodeMemberNotFound }

// InvalidStateError is returned when the target member is not in a state the
// action accepts.
type InvalidStateError struct {
	Member   string
	State    string
	Expected string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("member %s is %s, expected %s", e.Member, e.State, e.Expected)
}

func (e *InvalidStateError) Code() string { return CodeInvalidState }

// WriteFailedError wraps a store-level write failure verbatim.
type WriteFailedError struct {
	Target string
	Err    error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("write to %s failed: %v", e.Target, e.Err)
}

func (e *WriteFailedError) Unwrap() error { return e.Err }
func (e *WriteFailedError) Code() string  { return CodeWriteFailed }

// AuditAppendError is returned when a guarded action could not be recorded.
type AuditAppendError struct {
	Err error
}

func (e *AuditAppendError) Error() string {
	return fmt.Sprintf("audit append failed: %v", e.Err)
}

func (e *AuditAppendError) Unwrap() error { return e.Err }
func (e *AuditAppendError) Code() string  { return CodeAuditAppendFailed }

type coder interface {
	Code() string
}

// CodeOf returns the machine-readable reason carried by err, or CodeUnknown.
func CodeOf(err error) string {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeUnknown
}
