// Package health runs dependency checks for PayGuard's health endpoints.
//
// Postgres is critical: screenings cannot be recorded without it. The
// reputation cache, the event stream and the external authority are
// optional; losing one degrades the service but does not take it down.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Overall summarizes a round of checks.
type Overall string

const (
	Healthy   Overall = "healthy"
	Degraded  Overall = "degraded"  // an optional dependency is down
	Unhealthy Overall = "unhealthy" // a critical dependency is down
)

// Status is the result of one check.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Critical  bool   `json:"critical"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker probes one dependency.
type Checker func(ctx context.Context) Status

// Report is the outcome of running every registered check.
type Report struct {
	Overall Overall
	Checks  []Status
}

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name     string
	check    Checker
	critical bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// Register adds a critical check.
func (r *Registry) Register(name string, check Checker) {
	r.add(name, check, true)
}

// RegisterOptional adds a check whose failure only degrades the service.
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(name, check, false)
}

func (r *Registry) add(name string, check Checker, critical bool) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check, critical: critical})
	r.mu.Unlock()
}

// Run executes every check concurrently, each under the registry timeout.
// Checks are reported in registration order.
func (r *Registry) Run(ctx context.Context) Report {
	return r.run(ctx, false)
}

// Critical runs only the critical checks. It backs readiness, which should
// not flap when an optional dependency does.
func (r *Registry) Critical(ctx context.Context) Report {
	return r.run(ctx, true)
}

func (r *Registry) run(ctx context.Context, criticalOnly bool) Report {
	r.mu.RLock()
	var checkers []namedChecker
	for _, nc := range r.checkers {
		if nc.critical || !criticalOnly {
			checkers = append(checkers, nc)
		}
	}
	r.mu.RUnlock()

	statuses := make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			st := nc.check(cctx)
			st.LatencyMS = time.Since(start).Milliseconds()
			if st.Name == "" {
				st.Name = nc.name
			}
			st.Critical = nc.critical
			statuses[i] = st
		}()
	}
	wg.Wait()

	overall := Healthy
	for _, st := range statuses {
		switch {
		case st.Healthy:
		case st.Critical:
			overall = Unhealthy
		case overall == Healthy:
			overall = Degraded
		}
	}
	return Report{Overall: overall, Checks: statuses}
}

// Ping adapts an error-returning probe (sql.DB.PingContext, a Redis PING,
// an open circuit) into a Checker.
func Ping(name string, probe func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		if err := probe(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}
