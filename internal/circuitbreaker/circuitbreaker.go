// Package circuitbreaker gates provider candidates behind per-provider
// failure counters. A provider that fails repeatedly within a sliding
// window is excluded from fallback chains until the window expires or a
// success is recorded for it.
//
// States:
//   - Closed: normal operation, calls permitted
//   - Open: threshold reached within the window, candidate is skipped
//
// Implementations:
//   - InMemoryCircuitBreaker: single-instance, uses sync.Mutex
//   - RedisCircuitBreaker: distributed, uses Redis with Lua scripts for atomicity
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/iamade/litinkapp-sub002/internal/domain"
)

// CircuitBreaker is the per-provider gate consulted by the fallback
// engine. Both in-memory and distributed (Redis) implementations satisfy
// this interface.
type CircuitBreaker interface {
	// Allow returns nil if a call to the provider is permitted, or
	// domain.ErrCircuitBreakerOpen if the breaker is open.
	Allow(ctx context.Context) error

	// RecordSuccess resets the failure window and closes the breaker.
	RecordSuccess(ctx context.Context)

	// RecordFailure counts one failure in the current window. Reaching
	// the threshold opens the breaker.
	RecordFailure(ctx context.Context)

	// State returns the current state of the circuit breaker.
	State(ctx context.Context) State
}

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed State = iota // calls permitted
	StateOpen                // candidate skipped
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config defines circuit breaker behavior.
type Config struct {
	FailureThreshold int           // failures within Window before opening
	Window           time.Duration // sliding failure window
}

// DefaultConfig returns sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
	}
}

// InMemoryCircuitBreaker tracks failures for one provider. Suitable for
// single-instance deployments.
type InMemoryCircuitBreaker struct {
	mu          sync.Mutex
	failures    int
	windowStart time.Time
	open        bool
	config      Config
	now         func() time.Time
}

// NewInMemory creates a new in-memory circuit breaker.
func NewInMemory(cfg Config) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{
		config: cfg,
		now:    time.Now,
	}
}

// NewInMemoryWithClock creates a breaker with an injected clock so tests
// can drive window expiry deterministically.
func NewInMemoryWithClock(cfg Config, now func() time.Time) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{
		config: cfg,
		now:    now,
	}
}

func (cb *InMemoryCircuitBreaker) Allow(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireWindowLocked()
	if cb.open {
		return domain.ErrCircuitBreakerOpen
	}
	return nil
}

func (cb *InMemoryCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.open = false
	cb.failures = 0
	cb.windowStart = time.Time{}
}

func (cb *InMemoryCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireWindowLocked()

	if cb.failures == 0 {
		cb.windowStart = cb.now()
	}
	cb.failures++

	if cb.failures >= cb.config.FailureThreshold {
		cb.open = true
	}
}

func (cb *InMemoryCircuitBreaker) State(ctx context.Context) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireWindowLocked()
	if cb.open {
		return StateOpen
	}
	return StateClosed
}

// Failures returns the failure count in the current window.
func (cb *InMemoryCircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.expireWindowLocked()
	return cb.failures
}

// expireWindowLocked resets the counter once the sliding window has
// elapsed since its first failure, closing an open breaker.
func (cb *InMemoryCircuitBreaker) expireWindowLocked() {
	if cb.windowStart.IsZero() {
		return
	}
	if cb.now().Sub(cb.windowStart) >= cb.config.Window {
		cb.failures = 0
		cb.windowStart = time.Time{}
		cb.open = false
	}
}

// Manager is the registry of circuit breakers, one per provider
// identifier. A provider shared across tiers and service kinds shares a
// single breaker. Safe for concurrent use by all running tasks.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
	last     map[string]State
	config   Config
	factory  func(providerID string) CircuitBreaker
	onChange func(providerID string, state State)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRedis configures the manager to use Redis-backed circuit breakers.
func WithRedis(redisURL string) ManagerOption {
	return func(m *Manager) {
		m.factory = func(providerID string) CircuitBreaker {
			cb, err := NewRedis(redisURL, providerID, m.config)
			if err != nil {
				// Fallback to in-memory if Redis fails
				return NewInMemory(m.config)
			}
			return cb
		}
	}
}

// WithStateChangeHook registers a callback invoked whenever a recorded
// success or failure flips a breaker's state. Used for the breaker state
// gauge and provider up/down notifications.
func WithStateChangeHook(hook func(providerID string, state State)) ManagerOption {
	return func(m *Manager) {
		m.onChange = hook
	}
}

// NewManager creates a new circuit breaker manager. By default it uses
// in-memory circuit breakers; use WithRedis for distributed state.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]CircuitBreaker),
		last:     make(map[string]State),
		config:   cfg,
		factory: func(providerID string) CircuitBreaker {
			return NewInMemory(cfg)
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get returns the circuit breaker for a provider, creating one if it
// doesn't exist.
func (m *Manager) Get(providerID string) CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[providerID]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingCB, ok := m.breakers[providerID]; ok {
		return existingCB
	}

	cb = m.factory(providerID)
	if m.onChange != nil {
		cb = &observedBreaker{inner: cb, providerID: providerID, manager: m}
		// Breakers start closed; only real flips should fire the hook.
		m.last[providerID] = StateClosed
	}
	m.breakers[providerID] = cb
	return cb
}

// States returns the current state of all circuit breakers.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	states := make(map[string]string)
	for id, cb := range m.breakers {
		states[id] = cb.State(ctx).String()
	}
	return states
}

func (m *Manager) stateChanged(ctx context.Context, providerID string, cb CircuitBreaker) {
	state := cb.State(ctx)

	m.mu.Lock()
	prev, seen := m.last[providerID]
	m.last[providerID] = state
	m.mu.Unlock()

	if m.onChange != nil && (!seen || prev != state) {
		m.onChange(providerID, state)
	}
}

// observedBreaker reports state flips back to the manager after every
// recorded outcome.
type observedBreaker struct {
	inner      CircuitBreaker
	providerID string
	manager    *Manager
}

func (o *observedBreaker) Allow(ctx context.Context) error {
	return o.inner.Allow(ctx)
}

func (o *observedBreaker) RecordSuccess(ctx context.Context) {
	o.inner.RecordSuccess(ctx)
	o.manager.stateChanged(ctx, o.providerID, o.inner)
}

func (o *observedBreaker) RecordFailure(ctx context.Context) {
	o.inner.RecordFailure(ctx)
	o.manager.stateChanged(ctx, o.providerID, o.inner)
}

func (o *observedBreaker) State(ctx context.Context) State {
	return o.inner.State(ctx)
}
