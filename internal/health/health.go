package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger checks that the replicated store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	store  Pinger
	logger *zap.SugaredLogger
	mu     sync.RWMutex
	ready  bool
}

func NewHealthChecker(store Pinger, logger *zap.SugaredLogger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HealthChecker{
		store:  store,
		logger: logger,
		ready:  false,
	}
}

// SetReady marks the service as ready
func (h *HealthChecker) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// Liveness checks if the process is alive
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readiness checks if the service is ready and the store is reachable
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	h.mu.RUnlock()

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Not ready"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warnw("Readiness check failed: store not reachable", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Store not reachable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

const (
	timeout = 5 * time.Second
)
