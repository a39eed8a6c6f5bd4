// Package circuitbreaker guards a single remote dependency. After enough
// consecutive failures the circuit opens and calls fail fast until a
// cool-down passes, then one probe decides whether to close it again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "circuitbreaker",
		Name:      "transitions_total",
		Help:      "Circuit state changes by dependency.",
	}, []string{"name", "from", "to"})

	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "payguard",
		Subsystem: "circuitbreaker",
		Name:      "state",
		Help:      "Current circuit state by dependency (0 closed, 1 open, 2 half-open).",
	}, []string{"name"})

	rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payguard",
		Subsystem: "circuitbreaker",
		Name:      "rejected_total",
		Help:      "Calls refused because the circuit was open.",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(transitionsTotal, stateGauge, rejectedTotal)
}

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuit breaker open")

// Config tunes a Breaker.
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long the circuit stays open before a probe is let
	// through. A probe that has not reported back within Cooldown is
	// abandoned and another one is allowed.
	Cooldown time.Duration
	// IsFailure decides whether an error counts against the dependency.
	// Nil counts every error except cancellation by the caller.
	IsFailure func(error) bool
}

// DefaultConfig opens after five straight failures and probes every 30s.
func DefaultConfig() Config {
	return Config{Threshold: 5, Cooldown: 30 * time.Second}
}

// Breaker tracks the health of one dependency.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probeAt  time.Time // zero when no probe is in flight
}

// New creates a closed breaker. name labels its metrics.
func New(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	stateGauge.WithLabelValues(name).Set(float64(StateClosed))
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn if the circuit admits it and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, ok := b.admit()
	if !ok {
		rejectedTotal.WithLabelValues(b.name).Inc()
		return ErrOpen
	}
	err := fn(ctx)
	b.record(err, probe)
	return err
}

// State returns the current state, moving open to half-open when the
// cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Check returns ErrOpen while the circuit is open. It suits a health probe.
func (b *Breaker) Check(context.Context) error {
	if b.State() == StateOpen {
		return ErrOpen
	}
	return nil
}

func (b *Breaker) admit() (probe bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()

	switch b.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		now := b.now()
		if !b.probeAt.IsZero() && now.Sub(b.probeAt) < b.cfg.Cooldown {
			return false, false
		}
		b.probeAt = now
		return true, true
	default:
		return false, false
	}
}

func (b *Breaker) record(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeAt = time.Time{}
	}
	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		return
	}
	if !b.cfg.IsFailure(err) {
		return
	}

	b.failures++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.cfg.Threshold) {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// refresh must be called with mu held.
func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	transitionsTotal.WithLabelValues(b.name, from.String(), to.String()).Inc()
	stateGauge.WithLabelValues(b.name).Set(float64(to))
}
