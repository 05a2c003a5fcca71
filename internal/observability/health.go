package observability

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// HealthChecker serves the HTTP readiness endpoint
type HealthChecker struct {
	logger     *zap.Logger
	mu         sync.RWMutex
	ready      bool
	kafkaReady bool
	usesKafka  bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		logger: logger,
		ready:  true,
	}
}

// Handler returns the healthz handler for mounting on the service mux.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return h.handleHealthz
}

// Shutdown marks the service not ready so load balancers drain it.
func (h *HealthChecker) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.ready = false
	h.mu.Unlock()
	h.logger.Info("health checker marked not ready")
	return nil
}

// SetKafkaReady sets the Kafka client readiness status
func (h *HealthChecker) SetKafkaReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kafkaReady = ready
	h.usesKafka = true
}

func (h *HealthChecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready
	kafkaReady := h.kafkaReady
	usesKafka := h.usesKafka
	h.mu.RUnlock()

	// Health check passes if ready is true and (not using Kafka or Kafka is ready)
	if ready && (!usesKafka || kafkaReady) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT_READY"))
	}
}
