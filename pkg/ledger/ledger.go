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
// Package ledger derives USD cost from (model, tokens) and enforces budget
// windows. Cost is never computed anywhere else; pricing changes live here.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/events"
)

// ErrBudgetExceeded is returned by Check once a budget window is spent.
// Callers must fail fast without invoking the provider.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Window identifies a budget accumulation window.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
)

// BudgetConfig bounds spend for one window.
type BudgetConfig struct {
	Window Window
	// CapUSD is the hard cap; once crossed (or projected to be crossed by
	// the next call) invocations fail fast with ErrBudgetExceeded.
	CapUSD float64
	// WarnFraction of the cap at which a single budget.warn event is
	// emitted per window (default: 0.8).
	WarnFraction float64
}

// Config configures the ledger.
type Config struct {
	// Prices overrides the default price table when non-nil.
	Prices []PriceEntry
	// Budgets to enforce. Empty means unlimited.
	Budgets []BudgetConfig
	// Emitter for budget and pricing events.
	Emitter events.Emitter
	// Logger for diagnostics.
	Logger *zap.Logger
}

// AgentTotals is the per-agent rollup.
type AgentTotals struct {
	AgentID      string  `json:"agent_id"`
	Calls        int64   `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

type budgetWindow struct {
	cfg        BudgetConfig
	start      time.Time
	spentMicro int64
	calls      int64
	warned     bool
	exceeded   bool
}

// Ledger accumulates per-invocation cost at micro-dollar precision,
// rolls up per agent and per budget window, and gates spend.
// Process-global and synchronized; safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	prices  map[string]PriceEntry
	emitter events.Emitter
	logger  *zap.Logger

	warnedUnknown map[string]bool
	agents        map[string]*AgentTotals
	windows       []*budgetWindow

	now func() time.Time
}

// New creates a ledger.
func New(cfg Config) *Ledger {
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	rows := cfg.Prices
	if rows == nil {
		rows = DefaultPriceTable()
	}
	prices := make(map[string]PriceEntry, len(rows))
	for _, row := range rows {
		prices[row.Model] = row
	}

	l := &Ledger{
		prices:        prices,
		emitter:       cfg.Emitter,
		logger:        cfg.Logger,
		warnedUnknown: make(map[string]bool),
		agents:        make(map[string]*AgentTotals),
		now:           time.Now,
	}
	for _, b := range cfg.Budgets {
		if b.WarnFraction == 0 {
			b.WarnFraction = 0.8
		}
		l.windows = append(l.windows, &budgetWindow{cfg: b, start: windowStart(b.Window, l.now())})
	}
	return l
}

// Cost computes the USD cost for one invocation at micro-dollar precision.
// Unknown model ids cost zero; the first use of an unknown model emits one
// warn event.
func (l *Ledger) Cost(ctx context.Context, model string, inputTokens, outputTokens int) float64 {
	l.mu.Lock()
	micro := l.costMicroLocked(ctx, model, inputTokens, outputTokens)
	l.mu.Unlock()
	return float64(micro) / 1e6
}

func (l *Ledger) costMicroLocked(ctx context.Context, model string, inputTokens, outputTokens int) int64 {
	entry, ok := l.prices[model]
	if !ok {
		if !l.warnedUnknown[model] {
			l.warnedUnknown[model] = true
			l.emitter.Emit(ctx, events.Event{
				Type:      "ledger.unknown_model",
				Component: "ledger",
				Severity:  events.SeverityWarn,
				Message:   fmt.Sprintf("no price entry for model %s, charging zero", model),
				Data:      map[string]any{"model": model},
			})
		}
		return 0
	}
	// USD-per-1M-tokens equals micro-USD per token.
	return int64(math.Round(float64(inputTokens)*entry.InputPer1M + float64(outputTokens)*entry.OutputPer1M))
}

// Charge records one invocation against an agent and all budget windows,
// returning the USD cost.
func (l *Ledger) Charge(ctx context.Context, agentID, model string, inputTokens, outputTokens int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	micro := l.costMicroLocked(ctx, model, inputTokens, outputTokens)
	usd := float64(micro) / 1e6

	totals := l.agents[agentID]
	if totals == nil {
		totals = &AgentTotals{AgentID: agentID}
		l.agents[agentID] = totals
	}
	totals.Calls++
	totals.InputTokens += int64(inputTokens)
	totals.OutputTokens += int64(outputTokens)
	totals.CostUSD += usd

	for _, w := range l.windows {
		l.rollIfDueLocked(w)
		w.spentMicro += micro
		w.calls++
		capMicro := int64(math.Round(w.cfg.CapUSD * 1e6))
		warnMicro := int64(math.Round(w.cfg.CapUSD * w.cfg.WarnFraction * 1e6))
		if !w.warned && w.spentMicro >= warnMicro {
			w.warned = true
			l.emitter.Emit(ctx, events.Event{
				Type:      events.TypeBudgetWarn,
				Component: "ledger",
				Severity:  events.SeverityWarn,
				Message:   fmt.Sprintf("%s budget at %.0f%% of cap", w.cfg.Window, 100*float64(w.spentMicro)/float64(capMicro)),
				CostUSD:   float64(w.spentMicro) / 1e6,
				Data:      map[string]any{"window": string(w.cfg.Window), "cap_usd": w.cfg.CapUSD},
			})
		}
		if !w.exceeded && w.spentMicro >= capMicro {
			l.markExceededLocked(ctx, w)
		}
	}
	return usd
}

// Check gates the next invocation. It fails fast with ErrBudgetExceeded when
// any window has crossed its cap, or when the window's average per-call cost
// projects the next call past the cap.
func (l *Ledger) Check(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, w := range l.windows {
		l.rollIfDueLocked(w)
		capMicro := int64(math.Round(w.cfg.CapUSD * 1e6))
		if w.exceeded {
			return ErrBudgetExceeded
		}
		if w.calls > 0 {
			projected := w.spentMicro + w.spentMicro/w.calls
			if projected > capMicro {
				l.markExceededLocked(ctx, w)
				return ErrBudgetExceeded
			}
		}
	}
	return nil
}

func (l *Ledger) markExceededLocked(ctx context.Context, w *budgetWindow) {
	w.exceeded = true
	l.emitter.Emit(ctx, events.Event{
		Type:      events.TypeBudgetExceeded,
		Component: "ledger",
		Severity:  events.SeverityError,
		Message:   fmt.Sprintf("%s budget cap of $%.2f reached, failing fast", w.cfg.Window, w.cfg.CapUSD),
		CostUSD:   float64(w.spentMicro) / 1e6,
		Data:      map[string]any{"window": string(w.cfg.Window), "cap_usd": w.cfg.CapUSD},
	})
	l.logger.Warn("budget exceeded",
		zap.String("window", string(w.cfg.Window)),
		zap.Float64("cap_usd", w.cfg.CapUSD),
		zap.Float64("spent_usd", float64(w.spentMicro)/1e6))
}

// Roll clears the totals for every window whose wall-clock boundary has
// passed and re-arms both thresholds. Called lazily on access and eagerly
// by the daemon's cron schedule.
func (l *Ledger) Roll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.windows {
		l.rollIfDueLocked(w)
	}
}

func (l *Ledger) rollIfDueLocked(w *budgetWindow) {
	start := windowStart(w.cfg.Window, l.now())
	if start.After(w.start) {
		w.start = start
		w.spentMicro = 0
		w.calls = 0
		w.warned = false
		w.exceeded = false
	}
}

// Totals returns a snapshot of the per-agent rollups.
func (l *Ledger) Totals() []AgentTotals {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AgentTotals, 0, len(l.agents))
	for _, t := range l.agents {
		out = append(out, *t)
	}
	return out
}

// PriceFor returns the price entry for a model, and whether it is known.
func (l *Ledger) PriceFor(model string) (PriceEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.prices[model]
	return entry, ok
}

func windowStart(w Window, now time.Time) time.Time {
	switch w {
	case WindowHour:
		return now.Truncate(time.Hour)
	default:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
}
