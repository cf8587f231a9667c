// Package circuitbreaker guards outbound gateway create calls. Each provider
// gets its own circuit: repeated transport failures open it, an open circuit
// rejects create attempts immediately (surfaced as ProviderUnavailable), and
// after a cooling-off period a half-open probe decides whether to close it
// again. Verification of inbound callbacks never passes through here.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/yourorg/booking-payments/internal/domain"
)

// State of a provider's circuit.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// Config tunes the breaker. Zero values fall back to defaults.
type Config struct {
	FailureThreshold  int           // consecutive failures that open the circuit
	OpenTimeout       time.Duration // how long an open circuit rejects before probing
	HalfOpenSuccesses int           // successful probes needed to close again
}

const (
	defaultFailureThreshold  = 5
	defaultOpenTimeout       = 30 * time.Second
	defaultHalfOpenSuccesses = 2
)

type circuit struct {
	state     State
	failures  int
	successes int
	openUntil time.Time
}

// Breaker tracks one circuit per provider. In-memory; a restart starts all
// circuits closed.
type Breaker struct {
	mu       sync.Mutex
	circuits map[domain.Provider]*circuit
	cfg      Config
	now      func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = defaultHalfOpenSuccesses
	}
	return &Breaker{
		circuits: make(map[domain.Provider]*circuit),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (b *Breaker) circuitFor(p domain.Provider) *circuit {
	c, ok := b.circuits[p]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[p] = c
	}
	return c
}

// Allow reports whether a create call to the provider may proceed. An open
// circuit whose timeout has elapsed transitions to half-open and allows the
// probe.
func (b *Breaker) Allow(p domain.Provider) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(p)
	switch c.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().After(c.openUntil) {
			c.state = HalfOpen
			c.successes = 0
			return true
		}
		return false
	}
	return true
}

// RecordFailure notes a transport failure against the provider.
func (b *Breaker) RecordFailure(p domain.Provider) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(p)
	switch c.state {
	case Closed:
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			c.state = Open
			c.openUntil = b.now().Add(b.cfg.OpenTimeout)
		}
	case HalfOpen:
		// A failed probe re-opens immediately.
		c.state = Open
		c.openUntil = b.now().Add(b.cfg.OpenTimeout)
		c.failures = 0
		c.successes = 0
	}
}

// RecordSuccess notes a successful gateway call.
func (b *Breaker) RecordSuccess(p domain.Provider) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitFor(p)
	switch c.state {
	case Closed:
		c.failures = 0
	case HalfOpen:
		c.successes++
		if c.successes >= b.cfg.HalfOpenSuccesses {
			c.state = Closed
			c.failures = 0
			c.successes = 0
		}
	}
}

// StateOf returns the provider's current circuit state without transitioning
// it; monitoring only.
func (b *Breaker) StateOf(p domain.Provider) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[p]
	if !ok {
		return Closed
	}
	return c.state
}
