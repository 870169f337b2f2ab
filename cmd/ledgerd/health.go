// health.go - Health monitoring for the ledger daemon
package main

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"utxoledger/internal/ledger"
	"utxoledger/internal/store"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// errDegraded marks a check that found a recoverable problem
type errDegraded struct{ msg string }

func (e errDegraded) Error() string { return e.msg }

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `yaml:"name"`
	Status    HealthStatus  `yaml:"status"`
	Message   string        `yaml:"message"`
	LastCheck time.Time     `yaml:"last_check"`
	Latency   time.Duration `yaml:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `yaml:"overall_status"`
	Timestamp     time.Time         `yaml:"timestamp"`
	Components    []ComponentHealth `yaml:"components"`
	Uptime        time.Duration     `yaml:"uptime"`
	Version       string            `yaml:"version"`
}

// HealthChecker runs health checks for the ledger components
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	startTime  time.Time
	version    string
	checkers   map[string]func() error
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		startTime:  time.Now(),
		version:    version,
		checkers:   make(map[string]func() error),
	}
}

// RegisterComponent registers a health check for a component
func (hc *HealthChecker) RegisterComponent(name string, checker func() error) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "Component registered",
		LastCheck: time.Now(),
	}
	hc.checkers[name] = checker
}

// CheckHealth performs health checks for all registered components
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	names := make([]string, 0, len(hc.components))
	for name := range hc.components {
		names = append(names, name)
	}
	sort.Strings(names)

	overallStatus := Healthy
	components := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		component := hc.components[name]
		start := time.Now()
		err := hc.checkers[name]()
		component.Latency = time.Since(start)
		component.LastCheck = time.Now()

		switch err.(type) {
		case nil:
			component.Status = Healthy
			component.Message = "OK"
		case errDegraded:
			component.Status = Degraded
			component.Message = err.Error()
		default:
			component.Status = Unhealthy
			component.Message = err.Error()
		}

		// Update overall status
		if component.Status == Unhealthy {
			overallStatus = Unhealthy
		} else if component.Status == Degraded && overallStatus == Healthy {
			overallStatus = Degraded
		}
		components = append(components, *component)
	}

	return &SystemHealth{
		OverallStatus: overallStatus,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// registerLedgerChecks wires the standard checks for an open ledger
func registerLedgerChecks(hc *HealthChecker, l *ledger.Ledger, paths store.Paths) {
	hc.RegisterComponent("ledger", l.Err)

	hc.RegisterComponent("storage", func() error {
		for _, p := range []string{paths.Merkle, paths.Txn, paths.UtxoMap, paths.Snapshot} {
			if _, err := os.Stat(p); err != nil {
				return fmt.Errorf("missing %s: %w", p, err)
			}
		}
		return nil
	})

	hc.RegisterComponent("utxo_map", func() error {
		view := l.GetUtxoMap()
		_, nextTxo := l.Counters()
		if view.Len() != uint64(nextTxo) {
			return fmt.Errorf("utxo map covers %d slots, ledger allocated %d", view.Len(), nextTxo)
		}
		return nil
	})

	hc.RegisterComponent("checkpoint", func() error {
		nextTxn, _ := l.Counters()
		if _, count := l.GetGlobalHash(); count == 0 && nextTxn > 0 {
			return errDegraded{msg: "transactions applied but never checkpointed"}
		}
		return nil
	})
}
