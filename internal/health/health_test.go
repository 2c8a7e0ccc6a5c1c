package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ajpantuso/replset-guard/internal/health"
	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestLiveness(t *testing.T) {
	h := health.NewHealthChecker(pinger{}, nil)

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name     string
		ready    bool
		pingErr  error
		wantCode int
		wantBody string
	}{
		{name: "not ready", ready: false, wantCode: http.StatusServiceUnavailable, wantBody: "Not ready"},
		{name: "store down", ready: true, pingErr: errors.New("no reachable servers"), wantCode: http.StatusServiceUnavailable, wantBody: "Store not reachable"},
		{name: "ready", ready: true, wantCode: http.StatusOK, wantBody: "Ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := health.NewHealthChecker(pinger{err: tt.pingErr}, nil)
			h.SetReady(tt.ready)

			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}
