package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"leveraged/internal/core"
)

// HealthManager aggregates health status from different components
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

var _ core.IHealthMonitor = (*HealthManager)(nil)

// NewHealthManager creates a new health manager
func NewHealthManager(logger core.ILogger) *HealthManager {
	hm := &HealthManager{
		checks: make(map[string]func() error),
	}
	if logger != nil {
		hm.logger = logger.WithField("component", "health_manager")
	}
	return hm
}

// Register adds a new health check for a component
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// Unregister removes the check of a component
func (hm *HealthManager) Unregister(component string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.checks, component)
}

// GetStatus returns the current status of all registered components
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string)
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy returns true if all registered components are healthy
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for component, check := range hm.checks {
		if err := check(); err != nil {
			if hm.logger != nil {
				hm.logger.Warn("Component unhealthy", "component", component, "error", err)
			}
			return false
		}
	}
	return true
}

// Components lists registered components
func (hm *HealthManager) Components() []string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	names := make([]string, 0, len(hm.checks))
	for n := range hm.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ServeHTTP reports the status as JSON, 503 when any component is unhealthy
func (hm *HealthManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := hm.GetStatus()
	code := http.StatusOK
	for _, s := range status {
		if s != "Healthy" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
