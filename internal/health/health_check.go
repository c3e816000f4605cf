package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/devrev/pairdb/interdc-node/internal/model"
	"go.uber.org/zap"
)

// HealthChecker performs periodic self-checks for the inter-DC node.
type HealthChecker struct {
	nodeID      string
	probes      Probes
	logger      *zap.Logger
	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// Probes are the component liveness probes the checker polls. Nil probes
// are skipped.
type Probes struct {
	PublisherAlive func() bool
	GossipMembers  func() int
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string
	Status    string
	Message   string
	Timestamp time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(nodeID string, probes Probes, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		nodeID:      nodeID,
		probes:      probes,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: true,
		status:      model.NodeStatusHealthy,
	}
}

// Start runs checks every 10 seconds until the context is cancelled.
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	h.runHealthChecks()

	for {
		select {
		case <-ticker.C:
			h.runHealthChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// runHealthChecks runs all health checks
func (h *HealthChecker) runHealthChecks() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()

	checks := []func() CheckResult{
		h.checkPublisher,
		h.checkGossip,
		h.checkGoroutines,
	}

	allHealthy := true
	allReady := true

	for _, check := range checks {
		result := check()
		h.checks[result.Name] = result

		if result.Status != "healthy" {
			allHealthy = false
			if result.Status == "critical" {
				allReady = false
			}
		}
	}

	if !allHealthy {
		if !allReady {
			h.status = model.NodeStatusUnhealthy
		} else {
			h.status = model.NodeStatusDegraded
		}
	} else {
		h.status = model.NodeStatusHealthy
	}

	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

// checkPublisher verifies the publisher actor is serving requests. A dead
// publisher means nothing leaves this node, so it is critical.
func (h *HealthChecker) checkPublisher() CheckResult {
	if h.probes.PublisherAlive == nil {
		return CheckResult{
			Name:      "publisher",
			Status:    "healthy",
			Message:   "No publisher probe configured",
			Timestamp: time.Now(),
		}
	}

	if !h.probes.PublisherAlive() {
		return CheckResult{
			Name:      "publisher",
			Status:    "critical",
			Message:   "Publisher is not serving requests",
			Timestamp: time.Now(),
		}
	}

	return CheckResult{
		Name:      "publisher",
		Status:    "healthy",
		Message:   "Publisher is serving requests",
		Timestamp: time.Now(),
	}
}

// checkGossip reports on cluster membership visibility.
func (h *HealthChecker) checkGossip() CheckResult {
	if h.probes.GossipMembers == nil {
		return CheckResult{
			Name:      "gossip",
			Status:    "healthy",
			Message:   "Gossip disabled",
			Timestamp: time.Now(),
		}
	}

	members := h.probes.GossipMembers()
	if members <= 1 {
		return CheckResult{
			Name:      "gossip",
			Status:    "warning",
			Message:   fmt.Sprintf("Only %d cluster member visible", members),
			Timestamp: time.Now(),
		}
	}

	return CheckResult{
		Name:      "gossip",
		Status:    "healthy",
		Message:   fmt.Sprintf("%d cluster members visible", members),
		Timestamp: time.Now(),
	}
}

// checkGoroutines flags runaway goroutine growth, the usual symptom of a
// stuck flush path.
func (h *HealthChecker) checkGoroutines() CheckResult {
	count := runtime.NumGoroutine()

	if count > 10000 {
		return CheckResult{
			Name:      "goroutines",
			Status:    "warning",
			Message:   fmt.Sprintf("Goroutine count high: %d", count),
			Timestamp: time.Now(),
		}
	}

	return CheckResult{
		Name:      "goroutines",
		Status:    "healthy",
		Message:   fmt.Sprintf("Goroutine count: %d", count),
		Timestamp: time.Now(),
	}
}

// IsLive returns whether the node is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
	}
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live := h.livenessOK
	status := h.status
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")

	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"status":  status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.readinessOK
	status := h.status
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":  ready,
		"status": status,
	})
}
