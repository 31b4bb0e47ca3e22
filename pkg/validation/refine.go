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
package validation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/events"
)

// GeneratorInput is the evolving input to the generator across iterations.
type GeneratorInput struct {
	Task string
	// Feedback accumulates findings from every failed iteration.
	Feedback []Finding
	// PreviousAttempt is the last artifact, offered back for revision.
	PreviousAttempt string
}

// FeedbackPrompt renders the accumulated findings as explicit instructions.
func (in GeneratorInput) FeedbackPrompt() string {
	if len(in.Feedback) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Address the following issues:\n")
	for i, f := range in.Feedback {
		fmt.Fprintf(&b, "%d. [%s/%s] %s", i+1, f.Severity, f.Category, f.Issue)
		if f.Recommendation != "" {
			fmt.Fprintf(&b, " (%s)", f.Recommendation)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Generator produces an artifact from the current input.
type Generator func(ctx context.Context, input GeneratorInput) (string, error)

// IterationRecord is one entry of the improvement history.
type IterationRecord struct {
	Iteration int `json:"iteration"`
	Score     int `json:"score"`
}

// RefineResult is the outcome of a refinement run.
type RefineResult struct {
	Artifact   string
	Report     *Report
	Converged  bool
	Iterations int
	History    []IterationRecord
}

// RefineConfig configures one refinement run.
type RefineConfig struct {
	Generator     Generator
	Validator     Validator
	Level         Level // default: standard
	Threshold     int   // minimum passing score (default: 70)
	MaxIterations int   // default: 3
	Emitter       events.Emitter
	Logger        *zap.Logger
	VCtx          Context
}

// Refine runs the bounded generate/validate loop. It halts immediately when a
// report passes at or above the threshold; otherwise it returns the
// best-scoring artifact with Converged false.
func Refine(ctx context.Context, cfg RefineConfig) (*RefineResult, error) {
	if cfg.Generator == nil || cfg.Validator == nil {
		return nil, fmt.Errorf("refine: generator and validator are required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 70
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 3
	}
	if cfg.Level == "" {
		cfg.Level = LevelStandard
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	input := GeneratorInput{Task: cfg.VCtx.Task}
	result := &RefineResult{}
	bestScore := -1

	for i := 1; i <= cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		artifact, err := cfg.Generator(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("refine iteration %d: generator: %w", i, err)
		}

		report, err := cfg.Validator(ctx, artifact, cfg.Level, cfg.VCtx)
		if err != nil {
			return nil, fmt.Errorf("refine iteration %d: validator: %w", i, err)
		}

		result.Iterations = i
		result.History = append(result.History, IterationRecord{Iteration: i, Score: report.Score})
		cfg.Emitter.Emit(ctx, events.Event{
			Type:         events.TypeRefinement,
			Component:    "validation",
			Message:      fmt.Sprintf("refinement iteration %d scored %d", i, report.Score),
			QualityScore: report.Score,
			Data: map[string]any{
				"iteration": i,
				"score":     report.Score,
				"status":    string(report.Status),
				"findings":  len(report.Findings),
			},
		})
		cfg.Logger.Debug("refinement iteration",
			zap.Int("iteration", i),
			zap.Int("score", report.Score),
			zap.String("status", string(report.Status)))

		if report.Score > bestScore {
			bestScore = report.Score
			result.Artifact = artifact
			result.Report = report
		}

		if report.Status == StatusPass && report.Score >= cfg.Threshold {
			result.Artifact = artifact
			result.Report = report
			result.Converged = true
			return result, nil
		}

		input.Feedback = append(input.Feedback, report.Findings...)
		input.PreviousAttempt = artifact
	}

	return result, nil
}
