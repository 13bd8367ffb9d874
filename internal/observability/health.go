package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and per-dependency readiness.
// The service is ready once every registered dependency reports ready.
type HealthChecker struct {
	mu        sync.RWMutex
	deps      map[string]bool
	startTime time.Time
}

// NewHealthChecker creates a checker that waits for the named dependencies.
func NewHealthChecker(deps ...string) *HealthChecker {
	h := &HealthChecker{
		deps:      make(map[string]bool, len(deps)),
		startTime: time.Now(),
	}
	for _, d := range deps {
		h.deps[d] = false
	}
	return h
}

// SetReady records the readiness of one dependency, registering it if new.
func (h *HealthChecker) SetReady(dep string, ready bool) {
	h.mu.Lock()
	h.deps[dep] = ready
	h.mu.Unlock()
}

// IsReady reports whether all dependencies are ready.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.deps {
		if !ok {
			return false
		}
	}
	return true
}

func (h *HealthChecker) pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for name, ok := range h.deps {
		if !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LivenessHandler returns 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 when ready, 503 with the pending dependencies otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	pending := h.pending()
	if len(pending) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"pending": pending,
	})
}
