// Copyright 2026 Atlas Orchestrator Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package resilience provides the circuit breaker and backoff primitives that
// gate every model invocation.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen wraps the rejection returned while a breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Failing, reject requests immediately
	StateHalfOpen                     // Probing, allow one request through
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig defines circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive failures to open the circuit (default: 5)
	SuccessThreshold int           // Consecutive half-open successes to close (default: 2)
	RecoveryTimeout  time.Duration // Wait after opening before allowing a probe (default: 60s)
	OnStateChange    func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
	}
}

// CircuitBreaker keeps one model's failures from cascading into every workflow
// that routes through it. Closed-state successes decay the failure count by
// one rather than clearing it, so an intermittently failing model still trips.
type CircuitBreaker struct {
	mu              sync.RWMutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
	lastError       error
	config          CircuitBreakerConfig

	now func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	cb := &CircuitBreaker{
		state:  StateClosed,
		config: config,
		now:    time.Now,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// Allow reports whether a request may proceed. While open it returns an error
// carrying the seconds remaining until the next probe; once the recovery
// timeout elapses the breaker moves to half-open and admits one request.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil

	case StateOpen:
		elapsed := cb.now().Sub(cb.lastFailureTime)
		if elapsed >= cb.config.RecoveryTimeout {
			cb.setStateLocked(StateHalfOpen)
			cb.successCount = 0
			zap.L().Info("circuit_breaker_half_open",
				zap.Duration("elapsed", elapsed),
				zap.Duration("recovery_timeout", cb.config.RecoveryTimeout))
			return nil
		}
		remaining := cb.config.RecoveryTimeout - elapsed
		return fmt.Errorf("%w: %d consecutive failures, retry in %.0fs",
			ErrCircuitOpen, cb.failureCount, remaining.Seconds())

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.state)
	}
}

// Execute wraps an operation with circuit breaker logic.
func (cb *CircuitBreaker) Execute(operation func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := operation()
	cb.Record(err)
	return err
}

// Record feeds one outcome into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.onSuccessLocked()
	} else {
		cb.onFailureLocked(err)
	}
}

func (cb *CircuitBreaker) onSuccessLocked() {
	switch cb.state {
	case StateClosed:
		// Decay rather than reset so a model that fails every other call
		// still accumulates toward the threshold.
		if cb.failureCount > 0 {
			cb.failureCount--
		}

	case StateHalfOpen:
		cb.successCount++
		zap.L().Info("circuit_breaker_half_open_success",
			zap.Int("success_count", cb.successCount),
			zap.Int("threshold", cb.config.SuccessThreshold))
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.failureCount = 0
			cb.successCount = 0
			cb.setStateLocked(StateClosed)
			zap.L().Info("circuit_breaker_closed",
				zap.String("reason", "success_threshold_reached"))
		}
	}
}

func (cb *CircuitBreaker) onFailureLocked(err error) {
	cb.failureCount++
	cb.lastFailureTime = cb.now()
	cb.lastError = err

	switch cb.state {
	case StateClosed:
		zap.L().Warn("circuit_breaker_failure",
			zap.Error(err),
			zap.Int("failure_count", cb.failureCount),
			zap.Int("threshold", cb.config.FailureThreshold))
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setStateLocked(StateOpen)
			zap.L().Error("circuit_breaker_opened",
				zap.Int("consecutive_failures", cb.failureCount),
				zap.Duration("recovery_timeout", cb.config.RecoveryTimeout))
		}

	case StateHalfOpen:
		// A failed probe reopens immediately and restarts the recovery clock.
		cb.successCount = 0
		cb.setStateLocked(StateOpen)
		zap.L().Warn("circuit_breaker_reopened",
			zap.Error(err),
			zap.String("reason", "half_open_failure"))
	}
}

func (cb *CircuitBreaker) setStateLocked(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitBreakerStats{
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
		FailureThreshold: cb.config.FailureThreshold,
		SuccessThreshold: cb.config.SuccessThreshold,
	}
}

// CircuitBreakerStats contains circuit breaker statistics.
type CircuitBreakerStats struct {
	State            CircuitState
	FailureCount     int
	SuccessCount     int
	LastFailureTime  time.Time
	LastStateChange  time.Time
	FailureThreshold int
	SuccessThreshold int
}

// Reset manually closes the breaker without waiting for recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
	cb.lastStateChange = cb.now()

	zap.L().Info("circuit_breaker_manually_reset",
		zap.String("previous_state", oldState.String()))

	if cb.config.OnStateChange != nil && oldState != StateClosed {
		cb.config.OnStateChange(oldState, StateClosed)
	}
}

// --- Circuit Breaker Manager ---

// CircuitBreakerManager keeps an independent breaker per (model, agent slot)
// so one model failing for one agent does not block the rest of the fleet.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
}

// NewCircuitBreakerManager creates a new manager with the given default config.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// BreakerKey builds the manager key for one agent slot's use of a model.
func BreakerKey(model, slot string) string {
	return model + "|" + slot
}

// Breaker returns the circuit breaker for the given key, creating one if
// needed. Thread-safe via double-checked locking.
func (m *CircuitBreakerManager) Breaker(key string) *CircuitBreaker {
	m.mu.RLock()
	breaker, exists := m.breakers[key]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, exists := m.breakers[key]; exists {
		return breaker
	}
	breaker = NewCircuitBreaker(m.config)
	m.breakers[key] = breaker
	return breaker
}

// AllStats returns statistics for every breaker, keyed as registered.
func (m *CircuitBreakerManager) AllStats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for key, breaker := range m.breakers {
		stats[key] = breaker.Stats()
	}
	return stats
}

// Reset resets the breaker for one key, if it exists.
func (m *CircuitBreakerManager) Reset(key string) {
	m.mu.RLock()
	breaker, exists := m.breakers[key]
	m.mu.RUnlock()
	if exists {
		breaker.Reset()
	}
}

// ResetAll resets every breaker.
func (m *CircuitBreakerManager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, breaker := range m.breakers {
		breaker.Reset()
	}
}
