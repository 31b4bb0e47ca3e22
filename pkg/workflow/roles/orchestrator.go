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
package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/agent"
	"github.com/jevenson76/atlas-orchestrator/pkg/events"
	"github.com/jevenson76/atlas-orchestrator/pkg/validation"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

const (
	// priorOutputLimit truncates each prior phase's output in the prompt.
	priorOutputLimit = 2000
	// defaultQualityThreshold gates the reviewer's verdict.
	defaultQualityThreshold = 85
)

// Config configures the specialized-roles orchestrator.
type Config struct {
	// Roles defaults to DefaultRoles().
	Roles map[Role]RoleConfig
	// Agents maps each role to its resilient agent. Required.
	Agents map[Role]*agent.Agent
	// Validators resolves phase validators. Required when any role names one.
	Validators *validation.Registry
	// MaxSelfCorrection bounds the per-phase correction loop (default: 3).
	MaxSelfCorrection int
	// QualityThreshold triggers the full-workflow correction warning
	// (default: 85).
	QualityThreshold int
	Emitter          events.Emitter
	Logger           *zap.Logger
}

// Orchestrator runs the Architect, Developer, Tester, Reviewer pipeline.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger
}

// New creates the orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Roles == nil {
		cfg.Roles = DefaultRoles()
	}
	for _, role := range PhaseOrder {
		if cfg.Agents[role] == nil {
			return nil, fmt.Errorf("roles: no agent configured for %s", role)
		}
	}
	if cfg.MaxSelfCorrection == 0 {
		cfg.MaxSelfCorrection = 3
	}
	if cfg.QualityThreshold == 0 {
		cfg.QualityThreshold = defaultQualityThreshold
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger.With(zap.String("workflow", workflow.NameSpecializedRoles))}, nil
}

// Name implements workflow.Orchestrator.
func (o *Orchestrator) Name() string { return workflow.NameSpecializedRoles }

// Execute runs the four phases in strict order. A phase that exhausts its
// fallbacks aborts the workflow; accumulated phases and costs are kept.
func (o *Orchestrator) Execute(ctx context.Context, task workflow.Task) (*workflow.Result, error) {
	result := &workflow.Result{
		Task:      task.Task,
		Context:   task.Context,
		Workflow:  workflow.NameSpecializedRoles,
		StartedAt: time.Now(),
		Metadata:  map[string]any{},
	}

	outputs := make(map[Role]string)
	for _, role := range PhaseOrder {
		phaseCtx, span := o.cfg.Emitter.StartSpan(ctx, "phase."+string(role))
		phase := o.runPhase(phaseCtx, role, task, outputs)
		o.cfg.Emitter.EndSpan(span)

		result.Phases = append(result.Phases, phase)
		result.TotalIterations += phase.Iteration

		if !phase.Success {
			result.Success = false
			result.Error = fmt.Sprintf("phase %s failed: %s", role, phase.Error)
			result.Finalize()
			return result, nil
		}
		outputs[role] = phase.Output

		if role == RoleReviewer {
			result.OverallQuality = phase.QualityScore
		}
	}

	result.Success = true
	if result.OverallQuality < o.cfg.QualityThreshold {
		// Full-workflow correction is an extension point; today it only
		// warns and records the shortfall.
		o.cfg.Emitter.Emit(ctx, events.Event{
			Type:         "workflow.quality_below_threshold",
			Component:    "roles",
			Severity:     events.SeverityWarn,
			Message:      fmt.Sprintf("reviewer scored %d, threshold %d", result.OverallQuality, o.cfg.QualityThreshold),
			QualityScore: result.OverallQuality,
		})
		result.Metadata["quality_below_threshold"] = true
	}
	result.Finalize()
	return result, nil
}

// runPhase executes one role, including its self-correction loop.
func (o *Orchestrator) runPhase(ctx context.Context, role Role, task workflow.Task, prior map[Role]string) workflow.PhaseResult {
	cfg := o.cfg.Roles[role]
	ag := o.cfg.Agents[role]
	start := time.Now()

	phase := workflow.PhaseResult{
		PhaseName: string(role),
		RoleID:    string(role),
	}

	prompt := o.buildPrompt(cfg, task, prior, nil)
	res, err := ag.Invoke(ctx, prompt, agent.InvokeOptions{})
	phase.Iteration = 1
	if err != nil {
		phase.Error = err.Error()
		phase.TimeMs = time.Since(start).Milliseconds()
		return phase
	}
	o.fill(&phase, res)

	validator := o.lookupValidator(cfg)
	if validator != nil {
		report, verr := validator(ctx, res.Text, validation.LevelStandard, validation.Context{Task: task.Task})
		if verr == nil {
			phase.Validation = report
			phase.QualityScore = report.Score
			if report.Score < cfg.MinScore {
				o.selfCorrect(ctx, &phase, cfg, ag, task, prior, report)
			}
		}
	}

	if role == RoleReviewer {
		phase.QualityScore = parseReviewScore(phase.Output)
	}

	phase.Success = true
	phase.TimeMs = time.Since(start).Milliseconds()
	return phase
}

// selfCorrect escalates the model one rung per attempt, lowers temperature by
// 20%, and enumerates findings into the prompt. The best-scoring attempt is
// kept even when the threshold is never met.
func (o *Orchestrator) selfCorrect(ctx context.Context, phase *workflow.PhaseResult, cfg RoleConfig,
	ag *agent.Agent, task workflow.Task, prior map[Role]string, report *validation.Report) {

	validator := o.lookupValidator(cfg)
	bestScore := report.Score
	model := phase.ModelUsed
	temperature := cfg.Temperature
	findings := report.Findings

	for attempt := 1; attempt <= o.cfg.MaxSelfCorrection; attempt++ {
		model = EscalateModel(model)
		temperature *= 0.8

		prompt := o.buildPrompt(cfg, task, prior, findings)
		res, err := ag.Invoke(ctx, prompt, agent.InvokeOptions{
			ModelOverride: model,
			Temperature:   temperature,
		})
		phase.Iteration++
		if err != nil {
			o.logger.Warn("self-correction attempt failed",
				zap.String("role", string(cfg.Role)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		newReport, verr := validator(ctx, res.Text, validation.LevelStandard, validation.Context{Task: task.Task})
		if verr != nil {
			continue
		}

		// Correction accounting always accrues to the phase.
		phase.CostUSD += res.CostUSD
		phase.TokensUsed += res.InputTokens + res.OutputTokens

		if newReport.Score > bestScore {
			bestScore = newReport.Score
			phase.Output = res.Text
			phase.ModelUsed = res.Model
			phase.Validation = newReport
			phase.QualityScore = newReport.Score
			phase.SelfCorrected = true
		}
		if newReport.Score >= cfg.MinScore {
			return
		}
		findings = append(findings, newReport.Findings...)
	}
}

func (o *Orchestrator) lookupValidator(cfg RoleConfig) validation.Validator {
	if cfg.ValidatorName == "" || o.cfg.Validators == nil {
		return nil
	}
	v, err := o.cfg.Validators.Lookup(cfg.ValidatorName)
	if err != nil {
		o.logger.Warn("validator missing", zap.String("name", cfg.ValidatorName), zap.Error(err))
		return nil
	}
	return v
}

// fill copies an agent result into a phase result.
func (o *Orchestrator) fill(phase *workflow.PhaseResult, res *agent.Result) {
	phase.Output = res.Text
	phase.ModelUsed = res.Model
	phase.CostUSD = res.CostUSD
	phase.TokensUsed = res.InputTokens + res.OutputTokens
}

// buildPrompt assembles (task, context, prior outputs truncated, findings).
func (o *Orchestrator) buildPrompt(cfg RoleConfig, task workflow.Task, prior map[Role]string, findings []validation.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Task)

	if len(task.Context) > 0 {
		b.WriteString("\nContext:\n")
		for k, v := range task.Context {
			fmt.Fprintf(&b, "- %s: %v\n", k, v)
		}
	}

	for _, role := range PhaseOrder {
		if role == cfg.Role {
			break
		}
		if out, ok := prior[role]; ok {
			fmt.Fprintf(&b, "\n%s output:\n%s\n", titleCase(string(role)), truncate(out, priorOutputLimit))
		}
	}

	if len(findings) > 0 {
		b.WriteString("\nYour previous attempt had these issues. Fix every one:\n")
		for i, f := range findings {
			fmt.Fprintf(&b, "%d. [%s] %s", i+1, f.Severity, f.Issue)
			if f.Recommendation != "" {
				fmt.Fprintf(&b, " (%s)", f.Recommendation)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}

var scoreFieldRe = regexp.MustCompile(`"overall_quality_score"\s*:\s*(\d+)`)

// parseReviewScore extracts the reviewer's integer verdict: a JSON document
// first, then a field match anywhere in the text, then a length heuristic.
func parseReviewScore(output string) int {
	var doc struct {
		OverallQualityScore int `json:"overall_quality_score"`
	}
	if err := json.Unmarshal([]byte(output), &doc); err == nil && doc.OverallQualityScore > 0 {
		return clampScore(doc.OverallQualityScore)
	}
	if m := scoreFieldRe.FindStringSubmatch(output); m != nil {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		return clampScore(n)
	}
	// No structured verdict; score conservatively on substance.
	if len(strings.TrimSpace(output)) > 200 {
		return 70
	}
	return 50
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
