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
// Package agent wraps provider adapters with the full resilience stack:
// security precheck, budget gate, per-model circuit breakers, bounded retries
// with backoff, and an ordered model fallback chain.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/events"
	"github.com/jevenson76/atlas-orchestrator/pkg/ledger"
	"github.com/jevenson76/atlas-orchestrator/pkg/llm"
	"github.com/jevenson76/atlas-orchestrator/pkg/resilience"
)

// Config configures a resilient agent.
type Config struct {
	// ID names the agent slot (e.g. "developer"); breaker keys and cost
	// rollups are scoped by it. Required.
	ID string

	// SystemPrompt is the default system prompt; per-call override allowed.
	SystemPrompt string

	// FallbackChain is the ordered model-id list, primary first. Required.
	FallbackChain []string

	// Temperature and MaxTokens are the defaults for every call.
	Temperature float64
	MaxTokens   int

	// MaxRetries per model on transient failures (default: 2).
	MaxRetries int

	Backoff  resilience.BackoffConfig
	Breakers *resilience.CircuitBreakerManager
	Registry *llm.Registry
	Ledger   *ledger.Ledger
	Emitter  events.Emitter
	Security *SecurityChecker
	Logger   *zap.Logger
}

// Result is a successful agent invocation.
type Result struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Attempts     int
	Duration     time.Duration
}

// InvokeOptions overrides per-call settings; zero values defer to the config.
type InvokeOptions struct {
	System      string
	Temperature float64 // <0 means "explicit zero" is not needed; 0 defers
	MaxTokens   int
	// ModelOverride pins the call to one model, bypassing the chain head but
	// still honoring breaker, retries, and the remaining chain after it.
	ModelOverride string
}

// Agent is the resilient invocation wrapper.
type Agent struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a resilient agent.
func New(cfg Config) (*Agent, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("agent: id is required")
	}
	if len(cfg.FallbackChain) == 0 {
		return nil, fmt.Errorf("agent %s: fallback chain is empty", cfg.ID)
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent %s: adapter registry is required", cfg.ID)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Backoff == (resilience.BackoffConfig{}) {
		cfg.Backoff = resilience.DefaultBackoffConfig()
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewCircuitBreakerManager(resilience.DefaultCircuitBreakerConfig())
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Agent{cfg: cfg, logger: cfg.Logger.With(zap.String("agent", cfg.ID))}, nil
}

// ID returns the agent slot name.
func (a *Agent) ID() string { return a.cfg.ID }

// Chain returns the configured fallback chain.
func (a *Agent) Chain() []string { return append([]string(nil), a.cfg.FallbackChain...) }

// Invoke runs the prompt through the fallback chain. On success it returns
// the first completed result; on exhaustion it returns the last error.
func (a *Agent) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error) {
	start := time.Now()

	if a.cfg.Security != nil {
		if pattern := a.cfg.Security.Check(prompt); pattern != "" {
			err := llm.NewInvokeError(a.cfg.ID, llm.ErrKindSecurityRejected, 0,
				fmt.Errorf("prompt matched injection pattern %q", pattern))
			a.emitFailed(ctx, "", 0, err)
			return nil, err
		}
	}

	if a.cfg.Ledger != nil {
		if err := a.cfg.Ledger.Check(ctx); err != nil {
			werr := llm.NewInvokeError(a.cfg.ID, llm.ErrKindBudgetExceeded, 0, err)
			a.emitFailed(ctx, "", 0, werr)
			return nil, werr
		}
	}

	chain := a.cfg.FallbackChain
	if opts.ModelOverride != "" {
		chain = prependUnique(opts.ModelOverride, chain)
	}

	var lastErr error
	attempts := 0

	for i, model := range chain {
		if i > 0 {
			a.cfg.Emitter.Emit(ctx, events.Event{
				Type:      events.TypeModelFallback,
				Component: "agent",
				Severity:  events.SeverityWarn,
				Message:   fmt.Sprintf("agent %s falling back to %s", a.cfg.ID, model),
				Data:      map[string]any{"agent": a.cfg.ID, "model": model, "position": i},
			})
		}

		breaker := a.cfg.Breakers.Breaker(resilience.BreakerKey(model, a.cfg.ID))
		if err := breaker.Allow(); err != nil {
			lastErr = llm.NewInvokeError(a.cfg.ID, llm.ErrKindCircuitOpen, 0, err)
			a.logger.Warn("model skipped, breaker open",
				zap.String("model", model), zap.Error(err))
			continue
		}

		adapter, err := a.cfg.Registry.AdapterFor(model)
		if err != nil {
			lastErr = err
			a.logger.Error("no adapter for model", zap.String("model", model), zap.Error(err))
			continue
		}

		result, n, err := a.invokeWithRetry(ctx, adapter, breaker, model, prompt, opts)
		attempts += n
		if err == nil {
			result.Attempts = attempts
			result.Duration = time.Since(start)
			return result, nil
		}
		lastErr = err

		if kind := llm.KindOf(err); kind == llm.ErrKindBudgetExceeded {
			// Spend crossed the cap mid-chain; falling back would still bill.
			return nil, err
		}
	}

	return nil, fmt.Errorf("agent %s: all %d fallbacks exhausted: %w", a.cfg.ID, len(chain), lastErr)
}

// invokeWithRetry runs the retry loop for one model. Returns the attempt
// count alongside the outcome so chain-level accounting stays exact.
func (a *Agent) invokeWithRetry(ctx context.Context, adapter llm.Adapter, breaker *resilience.CircuitBreaker,
	model, prompt string, opts InvokeOptions) (*Result, int, error) {

	req := a.buildRequest(model, prompt, opts)
	var lastErr error

	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := a.cfg.Backoff.Sleep(ctx, attempt-1); err != nil {
				return nil, attempt, err
			}
			if err := breaker.Allow(); err != nil {
				return nil, attempt, llm.NewInvokeError(a.cfg.ID, llm.ErrKindCircuitOpen, 0, err)
			}
		}

		res, err := adapter.Invoke(ctx, req)
		breaker.Record(err)

		if err == nil {
			cost := a.charge(ctx, model, res)
			a.cfg.Emitter.Emit(ctx, events.Event{
				Type:      events.TypeAgentInvoked,
				Component: "agent",
				Message:   fmt.Sprintf("agent %s completed on %s", a.cfg.ID, model),
				CostUSD:   cost,
				Data: map[string]any{
					"agent":         a.cfg.ID,
					"model":         model,
					"input_tokens":  res.InputTokens,
					"output_tokens": res.OutputTokens,
					"attempt":       attempt + 1,
				},
			})
			return &Result{
				Text:         res.Text,
				Model:        model,
				InputTokens:  res.InputTokens,
				OutputTokens: res.OutputTokens,
				CostUSD:      cost,
			}, attempt + 1, nil
		}

		lastErr = err
		kind := llm.KindOf(err)
		a.emitFailed(ctx, model, attempt+1, err)
		a.logger.Warn("invocation failed",
			zap.String("model", model),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if ctx.Err() != nil {
			return nil, attempt + 1, fmt.Errorf("agent %s: context cancelled: %w", a.cfg.ID, lastErr)
		}
		if !kind.Retryable() {
			break
		}
	}
	return nil, a.cfg.MaxRetries + 1, lastErr
}

func (a *Agent) buildRequest(model, prompt string, opts InvokeOptions) llm.Request {
	req := llm.Request{
		Model:       model,
		Prompt:      prompt,
		System:      a.cfg.SystemPrompt,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	}
	if opts.System != "" {
		req.System = opts.System
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	return req
}

// charge records the attempt's cost, estimating token counts with tiktoken
// when the provider response carried no usage block.
func (a *Agent) charge(ctx context.Context, model string, res *llm.Result) float64 {
	if a.cfg.Ledger == nil {
		return 0
	}
	in, out := res.InputTokens, res.OutputTokens
	if in == 0 && out == 0 {
		out = llm.EstimateTokens(res.Text)
	}
	return a.cfg.Ledger.Charge(ctx, a.cfg.ID, model, in, out)
}

func (a *Agent) emitFailed(ctx context.Context, model string, attempt int, err error) {
	a.cfg.Emitter.Emit(ctx, events.Event{
		Type:      events.TypeAgentFailed,
		Component: "agent",
		Severity:  events.SeverityWarn,
		Message:   fmt.Sprintf("agent %s invocation failed", a.cfg.ID),
		Error:     err.Error(),
		Data: map[string]any{
			"agent":   a.cfg.ID,
			"model":   model,
			"attempt": attempt,
			"kind":    string(llm.KindOf(err)),
		},
	})
}

// HalvedTemperature is the self-correction default: half the configured
// temperature, floored at 0.1.
func (a *Agent) HalvedTemperature() float64 {
	t := a.cfg.Temperature / 2
	if t < 0.1 {
		t = 0.1
	}
	return t
}

// IsSecurityRejected reports whether err is a security precheck rejection.
func IsSecurityRejected(err error) bool {
	var ie *llm.InvokeError
	return errors.As(err, &ie) && ie.Kind == llm.ErrKindSecurityRejected
}

func prependUnique(model string, chain []string) []string {
	out := []string{model}
	for _, m := range chain {
		if m != model {
			out = append(out, m)
		}
	}
	return out
}
