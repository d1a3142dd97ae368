package service

import (
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state name.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakerConfig configures circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures that open the circuit
	CoolDown         time.Duration // Time spent open before a trial call
}

// DefaultBreakerConfig returns a threshold of 5 and a 60 second cool-down.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		CoolDown:         60 * time.Second,
	}
}

// halfOpenRetryAfter is the hint given to callers refused while a trial call
// is in flight.
const halfOpenRetryAfter = time.Second

// CircuitBreaker guards one downstream key.
//
// Closed passes calls and counts consecutive failures; a success resets the
// count. Reaching the threshold opens the circuit. Open rejects calls with a
// *core.CircuitOpenError until the cool-down elapses, then admits exactly one
// trial (HalfOpen). The trial's success closes the circuit; its failure
// reopens it and restarts the cool-down.
type CircuitBreaker struct {
	key    string
	cfg    BreakerConfig
	clock  Clock
	logger *logging.Logger

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

func newCircuitBreaker(key string, cfg BreakerConfig, clock Clock, logger *logging.Logger) *CircuitBreaker {
	circuitState.WithLabelValues(key).Set(float64(CircuitClosed))
	return &CircuitBreaker{
		key:    key,
		cfg:    cfg,
		clock:  clock,
		logger: logger.WithKey(key),
		state:  CircuitClosed,
	}
}

// Allow reports whether a call may proceed. When it returns nil in HalfOpen
// the caller owns the single trial and must report its outcome.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		elapsed := b.clock.Now().Sub(b.openedAt)
		if elapsed < b.cfg.CoolDown {
			return &core.CircuitOpenError{Key: b.key, RetryAfter: b.cfg.CoolDown - elapsed}
		}
		b.transitionLocked(CircuitHalfOpen)
		b.trialInFlight = true
		return nil
	case CircuitHalfOpen:
		if b.trialInFlight {
			return &core.CircuitOpenError{Key: b.key, RetryAfter: halfOpenRetryAfter}
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess records a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == CircuitHalfOpen {
		b.trialInFlight = false
		b.transitionLocked(CircuitClosed)
	}
}

// RecordFailure records a failed call that counts against the circuit.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case CircuitHalfOpen:
		b.trialInFlight = false
		b.openedAt = b.clock.Now()
		b.transitionLocked(CircuitOpen)
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.clock.Now()
			b.transitionLocked(CircuitOpen)
		}
	}
}

// Release gives back a half-open trial whose outcome says nothing about the
// downstream's health (cancellation, bad credentials, invalid input).
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitHalfOpen {
		b.trialInFlight = false
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	b.transitionLocked(CircuitClosed)
}

// BreakerStatus is a point-in-time view of one breaker.
type BreakerStatus struct {
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	RetryAfterSeconds   float64      `json:"retry_after_seconds"`
}

func (b *CircuitBreaker) status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BreakerStatus{State: b.state, ConsecutiveFailures: b.failures}
	if b.state == CircuitOpen {
		if remaining := b.cfg.CoolDown - b.clock.Now().Sub(b.openedAt); remaining > 0 {
			st.RetryAfterSeconds = remaining.Seconds()
		}
	}
	return st
}

func (b *CircuitBreaker) transitionLocked(to CircuitState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	circuitState.WithLabelValues(b.key).Set(float64(to))
	circuitTransitionsTotal.WithLabelValues(b.key, to.String()).Inc()
	switch to {
	case CircuitOpen:
		b.logger.Warn("circuit breaker opened",
			"from", from.String(),
			"failures", b.failures,
			"cool_down", b.cfg.CoolDown)
	default:
		b.logger.Info("circuit breaker state change", "from", from.String(), "to", to.String())
	}
}

// BreakerRegistry holds one circuit breaker per downstream key.
type BreakerRegistry struct {
	cfg    BreakerConfig
	clock  Clock
	logger *logging.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry. A nil clock uses the wall clock and a
// nil logger discards output.
func NewBreakerRegistry(cfg BreakerConfig, clock Clock, logger *logging.Logger) *BreakerRegistry {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = def.CoolDown
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BreakerRegistry{
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it closed on first use.
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := newCircuitBreaker(key, r.cfg, r.clock, r.logger)
	r.breakers[key] = b
	return b
}

// States returns a snapshot of every breaker.
func (r *BreakerRegistry) States() map[string]BreakerStatus {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]BreakerStatus, len(breakers))
	for _, b := range breakers {
		out[b.key] = b.status()
	}
	return out
}

// Keys returns the tracked keys in sorted order.
func (r *BreakerRegistry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.breakers))
	for k := range r.breakers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
