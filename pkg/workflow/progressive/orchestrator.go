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
package progressive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/agent"
	"github.com/jevenson76/atlas-orchestrator/pkg/events"
	"github.com/jevenson76/atlas-orchestrator/pkg/validation"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

const defaultQualityTarget = 75

// Config configures the progressive orchestrator.
type Config struct {
	// Agent runs every tier; the tier's model is pinned per call. Required.
	Agent *agent.Agent
	// Tiers in escalation order (default: DefaultTiers).
	Tiers []Tier
	// MaxEscalations bounds attempts at MaxEscalations+1 (default: all tiers).
	MaxEscalations int
	// Validator scores code-shaped outputs (default: validation.CodeHeuristic).
	Validator validation.Validator
	Emitter   events.Emitter
	Logger    *zap.Logger
}

// attempt is one tier's recorded outcome.
type attempt struct {
	tier    Tier
	phase   workflow.PhaseResult
	quality int
}

// Orchestrator escalates through model tiers until the quality target holds.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger
}

// New creates the orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("progressive: agent is required")
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}
	if cfg.MaxEscalations == 0 {
		cfg.MaxEscalations = len(cfg.Tiers) - 1
	}
	if cfg.Validator == nil {
		cfg.Validator = validation.CodeHeuristic
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger.With(zap.String("workflow", workflow.NameProgressive))}, nil
}

// Name implements workflow.Orchestrator.
func (o *Orchestrator) Name() string { return workflow.NameProgressive }

// Execute walks the tier chain. Tiers whose quality cap sits below the
// target are skipped; the first attempt meeting the target wins, otherwise
// the best-scoring attempt is returned with success=false only when every
// tier errored.
func (o *Orchestrator) Execute(ctx context.Context, task workflow.Task) (*workflow.Result, error) {
	result := &workflow.Result{
		Task:      task.Task,
		Context:   task.Context,
		Workflow:  workflow.NameProgressive,
		StartedAt: time.Now(),
		Metadata:  map[string]any{},
	}

	target := task.QualityTarget
	if target == 0 {
		target = defaultQualityTarget
	}

	var attempts []attempt
	var best *attempt
	tried := 0
	for i, tier := range o.cfg.Tiers {
		if tried > o.cfg.MaxEscalations {
			break
		}
		if tier.MaxQualityCap < target {
			o.logger.Debug("skipping tier below target",
				zap.String("tier", tier.Name),
				zap.Int("cap", tier.MaxQualityCap),
				zap.Int("target", target))
			continue
		}
		tried++

		a := o.runTier(ctx, tier, task)
		attempts = append(attempts, a)
		if best == nil || a.quality > best.quality {
			best = &attempts[len(attempts)-1]
		}
		if a.phase.Success && a.quality >= target {
			break
		}

		if next := nextTier(o.cfg.Tiers, i); next != nil {
			o.cfg.Emitter.Emit(ctx, events.Event{
				Type:         events.TypeModelFallback,
				Component:    "progressive",
				Severity:     events.SeverityInfo,
				Message:      fmt.Sprintf("tier %s scored %d below target %d, escalating to %s", tier.Name, a.quality, target, next.Name),
				QualityScore: a.quality,
				Data:         map[string]any{"from": tier.ModelID, "to": next.ModelID},
			})
		}
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("progressive: no tier can reach quality target %d", target)
	}

	for _, a := range attempts {
		result.Phases = append(result.Phases, a.phase)
		result.TotalIterations++
	}
	result.OverallQuality = best.quality
	result.Success = best.phase.Success
	if !result.Success {
		result.Error = best.phase.Error
	}

	result.Metadata["tiers_tried"] = len(attempts)
	result.Metadata["selected_tier"] = best.tier.Name
	result.Metadata["quality_target"] = target
	result.Finalize()
	result.Metadata["savings_usd"] = o.savings(attempts, result.TotalCostUSD)
	return result, nil
}

// runTier invokes the agent pinned to the tier's model and estimates the
// output quality.
func (o *Orchestrator) runTier(ctx context.Context, tier Tier, task workflow.Task) attempt {
	start := time.Now()
	phase := workflow.PhaseResult{
		PhaseName: "tier." + tier.Name,
		RoleID:    tier.Name,
		Iteration: 1,
	}

	prompt := task.Task
	if len(task.Context) > 0 {
		var b strings.Builder
		b.WriteString(prompt)
		b.WriteString("\n\nContext:\n")
		for k, v := range task.Context {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
		prompt = b.String()
	}

	res, err := o.cfg.Agent.Invoke(ctx, prompt, agent.InvokeOptions{ModelOverride: tier.ModelID})
	phase.TimeMs = time.Since(start).Milliseconds()
	if err != nil {
		phase.Error = err.Error()
		return attempt{tier: tier, phase: phase}
	}

	phase.Success = true
	phase.Output = res.Text
	phase.ModelUsed = res.Model
	phase.TokensUsed = res.InputTokens + res.OutputTokens
	phase.CostUSD = res.CostUSD
	if phase.CostUSD == 0 {
		phase.CostUSD = tier.Cost(res.InputTokens, res.OutputTokens)
	}

	var report *validation.Report
	if looksLikeCode(res.Text) {
		if r, verr := o.cfg.Validator(ctx, res.Text, validation.LevelQuick, validation.Context{Task: task.Task}); verr == nil {
			report = r
			phase.Validation = r
		}
	}
	quality := estimateQuality(res.Text, report, tier)
	phase.QualityScore = quality
	return attempt{tier: tier, phase: phase, quality: quality}
}

// estimateQuality derives a cheap score: the tier's cap minus 10, penalized
// for thin output, credited when the validator passes, and debited per
// finding up to 20 points.
func estimateQuality(text string, report *validation.Report, tier Tier) int {
	quality := tier.MaxQualityCap - 10
	switch {
	case len(text) < 100:
		quality -= 20
	case len(text) < 500:
		quality -= 10
	}
	if report != nil {
		if report.Status == validation.StatusPass {
			quality += 10
		}
		penalty := 5 * len(report.Findings)
		if penalty > 20 {
			penalty = 20
		}
		quality -= penalty
	}
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}
	return quality
}

// savings compares the actual spend against always running the middle tier.
func (o *Orchestrator) savings(attempts []attempt, actual float64) float64 {
	if len(o.cfg.Tiers) < 2 {
		return 0
	}
	baselineTier := o.cfg.Tiers[1]
	var baseline float64
	for _, a := range attempts {
		baseline += baselineTier.Cost(tokenSplit(a.phase.TokensUsed))
	}
	return baseline - actual
}

// tokenSplit approximates the input/output division of an aggregate count.
func tokenSplit(total int) (int, int) {
	return total / 3, total - total/3
}

func nextTier(tiers []Tier, i int) *Tier {
	if i+1 < len(tiers) {
		return &tiers[i+1]
	}
	return nil
}

func looksLikeCode(text string) bool {
	return strings.Contains(text, "```") ||
		strings.Contains(text, "func ") ||
		strings.Contains(text, "def ") ||
		strings.Contains(text, "class ") ||
		strings.Contains(text, "import ")
}
