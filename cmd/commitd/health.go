// health.go - Health monitoring for commitd
package main

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// Checker probes one component. A nil error means healthy.
type Checker func(ctx context.Context) error

type component struct {
	health   ComponentHealth
	check    Checker
	optional bool
}

// HealthChecker runs the registered checks for ledger, tree and feed.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*component
	startTime  time.Time
	version    string
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*component),
		startTime:  time.Now(),
		version:    version,
	}
}

// RegisterComponent registers a required component. A failing check makes
// the whole system unhealthy.
func (hc *HealthChecker) RegisterComponent(name string, check Checker) {
	hc.register(name, check, false)
}

// RegisterOptional registers a component whose failure only degrades the
// system, such as the change feed.
func (hc *HealthChecker) RegisterOptional(name string, check Checker) {
	hc.register(name, check, true)
}

func (hc *HealthChecker) register(name string, check Checker, optional bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.components[name] = &component{
		health: ComponentHealth{
			Name:      name,
			Status:    Healthy,
			Message:   "Component registered",
			LastCheck: time.Now(),
		},
		check:    check,
		optional: optional,
	}
}

// CheckHealth runs every check and returns the results ordered by name.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for _, c := range hc.components {
		start := time.Now()
		err := c.check(ctx)
		c.health.Latency = time.Since(start)
		c.health.LastCheck = time.Now()

		switch {
		case err == nil:
			c.health.Status = Healthy
			c.health.Message = "OK"
		case c.optional:
			c.health.Status = Degraded
			c.health.Message = err.Error()
		default:
			c.health.Status = Unhealthy
			c.health.Message = err.Error()
		}

		if c.health.Status == Unhealthy {
			overall = Unhealthy
		} else if c.health.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, c.health)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}
