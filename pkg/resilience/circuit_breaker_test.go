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
package resilience

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.State() != StateClosed {
		t.Errorf("expected initial state Closed, got %v", cb.State())
	}
	if cb.config.FailureThreshold != 5 {
		t.Errorf("expected FailureThreshold 5, got %d", cb.config.FailureThreshold)
	}
	if cb.config.SuccessThreshold != 2 {
		t.Errorf("expected SuccessThreshold 2, got %d", cb.config.SuccessThreshold)
	}
	if cb.config.RecoveryTimeout != 60*time.Second {
		t.Errorf("expected RecoveryTimeout 60s, got %v", cb.config.RecoveryTimeout)
	}
}

func TestCircuitStateString(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("CircuitState.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpensAfterThresholdAndRejectsWithRemaining(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  60 * time.Second,
	})
	testErr := errors.New("provider down")

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return testErr }); !errors.Is(err, testErr) {
			t.Fatalf("attempt %d: expected provider error, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected state Open after 3 failures, got %v", cb.State())
	}

	// Rejection is immediate, names the open circuit, and reports time left.
	err := cb.Allow()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if !strings.Contains(err.Error(), "retry in") {
		t.Errorf("open error should report remaining time, got %q", err.Error())
	}
}

func TestHalfOpenProbeAndClose(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Minute,
	})

	base := time.Now()
	cb.now = func() time.Time { return base }

	cb.Record(errors.New("boom"))
	cb.Record(errors.New("boom"))
	if cb.State() != StateOpen {
		t.Fatalf("expected Open, got %v", cb.State())
	}

	// Before the recovery timeout the breaker stays shut.
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection before timeout, got %v", err)
	}

	// After the timeout one probe is admitted.
	cb.now = func() time.Time { return base.Add(time.Minute) }
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected HalfOpen, got %v", cb.State())
	}

	// One success is not enough to close.
	cb.Record(nil)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected HalfOpen after one success, got %v", cb.State())
	}
	cb.Record(nil)
	if cb.State() != StateClosed {
		t.Fatalf("expected Closed after two successes, got %v", cb.State())
	}
	if cb.Stats().FailureCount != 0 {
		t.Errorf("expected failure count reset on close, got %d", cb.Stats().FailureCount)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})

	base := time.Now()
	cb.now = func() time.Time { return base }

	cb.Record(errors.New("boom"))
	cb.now = func() time.Time { return base.Add(time.Minute) }
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}

	cb.Record(errors.New("still down"))
	if cb.State() != StateOpen {
		t.Fatalf("expected reopened, got %v", cb.State())
	}

	// The recovery clock restarts from the probe failure.
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected rejection after failed probe, got %v", err)
	}
}

func TestClosedSuccessDecaysFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	cb.Record(errors.New("a"))
	cb.Record(errors.New("b"))
	if got := cb.Stats().FailureCount; got != 2 {
		t.Fatalf("expected failure count 2, got %d", got)
	}

	// A success decays by one, it does not wipe the count.
	cb.Record(nil)
	if got := cb.Stats().FailureCount; got != 1 {
		t.Fatalf("expected failure count 1 after decay, got %d", got)
	}

	// Alternating fail/success never reaches a threshold of 3, but two more
	// straight failures do.
	cb.Record(errors.New("c"))
	cb.Record(errors.New("d"))
	if cb.State() != StateOpen {
		t.Fatalf("expected Open at threshold, got %v", cb.State())
	}
}

func TestResetClosesBreaker(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		},
	})

	cb.Record(errors.New("boom"))
	cb.Reset()

	if cb.State() != StateClosed {
		t.Fatalf("expected Closed after reset, got %v", cb.State())
	}
	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestManagerIsolatesSlots(t *testing.T) {
	m := NewCircuitBreakerManager(CircuitBreakerConfig{FailureThreshold: 1})

	a := m.Breaker(BreakerKey("claude-sonnet", "developer"))
	b := m.Breaker(BreakerKey("claude-sonnet", "tester"))
	if a == b {
		t.Fatal("expected independent breakers per slot")
	}

	a.Record(errors.New("boom"))
	if a.State() != StateOpen {
		t.Fatalf("expected a Open, got %v", a.State())
	}
	if b.State() != StateClosed {
		t.Fatalf("expected b unaffected, got %v", b.State())
	}

	stats := m.AllStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(stats))
	}
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := NewCircuitBreakerManager(DefaultCircuitBreakerConfig())

	var wg sync.WaitGroup
	breakers := make([]*CircuitBreaker, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			breakers[i] = m.Breaker("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < 50; i++ {
		if breakers[i] != breakers[0] {
			t.Fatal("expected all goroutines to get the same breaker")
		}
	}
}
