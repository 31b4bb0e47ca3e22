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
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines the retry delay schedule.
type BackoffConfig struct {
	BaseDelay  time.Duration // Delay before the first retry (default: 1s)
	MaxDelay   time.Duration // Ceiling applied before jitter (default: 30s)
	Multiplier float64       // Exponential base (default: 2.0)
	// JitterFraction spreads each delay by +/- this fraction so synchronized
	// retry storms against one provider de-correlate (default: 0.1).
	JitterFraction float64
}

// DefaultBackoffConfig returns sensible defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Delay returns the jittered delay for a zero-based retry attempt:
// min(base * multiplier^attempt, max), then +/- jitter.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := c.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	mult := c.Multiplier
	if mult <= 0 {
		mult = 2.0
	}

	d := time.Duration(float64(base) * math.Pow(mult, float64(attempt)))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}

	jitter := c.JitterFraction
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 0 {
		// Uniform in [1-jitter, 1+jitter].
		factor := 1 + jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// Sleep waits for the attempt's delay, returning early with ctx.Err if the
// context is cancelled.
func (c BackoffConfig) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.Delay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
