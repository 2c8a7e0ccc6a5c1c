package api

import (
	"errors"
	"net/http"

	"github.com/Ajpantuso/replset-guard/internal/audit"
	"github.com/Ajpantuso/replset-guard/internal/service"
	"github.com/Ajpantuso/replset-guard/internal/util"
)

const (
	reasonBadRequest        = "BAD_REQUEST"
	reasonLifecycleDisabled = "LIFECYCLE_DISABLED"
	reasonOplogUnavailable  = "OPLOG_UNAVAILABLE"
	reasonMonitorDisabled   = "MONITOR_DISABLED"
)

var errMonitorDisabled = errors.New("background monitor is not running")

// badRequestError marks input the caller has to fix.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// errorBody is the JSON shape of every failed request. Entry is set when the
// request was recorded in the audit log before it failed.
type errorBody struct {
	Reason  string       `json:"reason"`
	Message string       `json:"message"`
	Entry   *audit.Entry `json:"entry,omitempty"`
}

// classify maps err to an HTTP status and a machine readable reason. An
// audit append failure wins over whatever caused the request to fail.
func classify(err error) (int, string) {
	var (
		badReq    *badRequestError
		appendErr *util.AuditAppendError
	)
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, reasonBadRequest
	case errors.As(err, &appendErr):
		return http.StatusInternalServerError, util.CodeAuditAppendFailed
	case errors.Is(err, service.ErrLifecycleDisabled):
		return http.StatusNotImplemented, reasonLifecycleDisabled
	case errors.Is(err, service.ErrOplogUnavailable):
		return http.StatusNotImplemented, reasonOplogUnavailable
	case errors.Is(err, errMonitorDisabled):
		return http.StatusNotImplemented, reasonMonitorDisabled
	}

	code := util.CodeOf(err)
	switch code {
	case util.CodeUnreachableStore, util.CodeNoPrimary:
		return http.StatusServiceUnavailable, code
	case util.CodeMalformedStatus, util.CodeWriteFailed:
		return http.StatusBadGateway, code
	case util.CodeSplitBrain, util.CodeInvalidState:
		return http.StatusConflict, code
	case util.CodeMemberNotFound:
		return http.StatusNotFound, code
	}
	return http.StatusInternalServerError, code
}
