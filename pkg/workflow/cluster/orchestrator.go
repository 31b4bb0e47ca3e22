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
package cluster

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/events"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

// Config configures the parallel cluster orchestrator.
type Config struct {
	Pool     *Pool
	Splitter *Splitter
	// Redundancy for the final package's consensus run (default: 3).
	Redundancy int
	Emitter    events.Emitter
	Logger     *zap.Logger
}

// Orchestrator is the parallel workflow engine: split, fan out, agree.
type Orchestrator struct {
	cfg       Config
	executor  *Executor
	consensus *ConsensusBuilder
	logger    *zap.Logger
}

// New creates the orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Pool == nil || cfg.Pool.Size() == 0 {
		return nil, fmt.Errorf("cluster: node pool is empty")
	}
	if cfg.Splitter == nil {
		cfg.Splitter = NewSplitter(SplitterConfig{})
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	executor, err := NewExecutor(ExecutorConfig{
		Pool:       cfg.Pool,
		Redundancy: cfg.Redundancy,
		Emitter:    cfg.Emitter,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:       cfg,
		executor:  executor,
		consensus: NewConsensusBuilder(cfg.Pool),
		logger:    cfg.Logger.With(zap.String("workflow", workflow.NameParallelCluster)),
	}, nil
}

// Name implements workflow.Orchestrator.
func (o *Orchestrator) Name() string { return workflow.NameParallelCluster }

// Execute plans the task, runs the batches, and builds consensus over the
// final package's redundant results. Each package becomes one phase.
func (o *Orchestrator) Execute(ctx context.Context, task workflow.Task) (*workflow.Result, error) {
	result := &workflow.Result{
		Task:      task.Task,
		Context:   task.Context,
		Workflow:  workflow.NameParallelCluster,
		StartedAt: time.Now(),
		Metadata:  map[string]any{},
	}

	plan, err := o.cfg.Splitter.Split(task, o.cfg.Pool.IDs())
	if err != nil {
		return nil, err
	}
	o.cfg.Emitter.Emit(ctx, events.Event{
		Type:      "cluster.plan",
		Component: "cluster",
		Severity:  events.SeverityInfo,
		Message:   fmt.Sprintf("split task into %d packages over %d batches", len(plan.Packages), len(plan.Batches)),
		Data:      map[string]any{"packages": len(plan.Packages), "batches": len(plan.Batches)},
	})

	execCtx, span := o.cfg.Emitter.StartSpan(ctx, "cluster.execute")
	nodeResults, err := o.executor.Execute(execCtx, plan)
	o.cfg.Emitter.EndSpan(span)
	if err != nil {
		return nil, err
	}

	failed := 0
	for _, wp := range plan.Packages {
		phase := packagePhase(wp, nodeResults[wp.ID])
		result.Phases = append(result.Phases, phase)
		result.TotalIterations += phase.Iteration
		if !phase.Success {
			failed++
		}
	}

	final := plan.Final()
	if final != nil && final.Status == StatusCompleted {
		verdict, cerr := o.consensus.Build(nodeResults[final.ID])
		if cerr == nil {
			o.applyConsensus(ctx, result, final, verdict)
		}
	}

	result.Success = failed == 0
	if failed > 0 {
		result.Error = fmt.Sprintf("%d of %d packages failed", failed, len(plan.Packages))
	}
	result.Metadata["packages"] = len(plan.Packages)
	result.Metadata["batches"] = len(plan.Batches)
	result.Finalize()
	return result, nil
}

// applyConsensus folds the verdict into the workflow result: the agreed
// output replaces the final phase's text and the metadata records the level.
func (o *Orchestrator) applyConsensus(ctx context.Context, result *workflow.Result, final *WorkPackage, verdict *ConsensusResult) {
	for i := range result.Phases {
		if result.Phases[i].PhaseName != final.ID {
			continue
		}
		if text, ok := verdict.FinalResult.(string); ok && text != "" {
			result.Phases[i].Output = text
		}
		result.Phases[i].QualityScore = int(verdict.Confidence * 100)
		result.OverallQuality = result.Phases[i].QualityScore
	}

	result.Metadata["consensus_type"] = string(verdict.Type)
	result.Metadata["consensus_level"] = verdict.Level
	result.Metadata["consensus_achieved"] = verdict.Achieved
	if len(verdict.MinorityReports) > 0 {
		result.Metadata["minority_reports"] = verdict.MinorityReports
	}
	if len(verdict.Recommendations) > 0 {
		result.Metadata["recommendations"] = verdict.Recommendations
	}

	severity := events.SeverityInfo
	if !verdict.Achieved {
		severity = events.SeverityWarn
	}
	o.cfg.Emitter.Emit(ctx, events.Event{
		Type:      "cluster.consensus",
		Component: "cluster",
		Severity:  severity,
		Message:   fmt.Sprintf("consensus %s at level %.2f over package %s", verdict.Type, verdict.Level, final.ID),
		Data: map[string]any{
			"package": final.ID,
			"type":    string(verdict.Type),
			"level":   verdict.Level,
			"groups":  len(verdict.Groups),
		},
	})
}

// packagePhase flattens a package's node results into one phase record.
// Redundant runs aggregate cost and tokens; the first completed run supplies
// the output.
func packagePhase(wp *WorkPackage, rs []*NodeResult) workflow.PhaseResult {
	phase := workflow.PhaseResult{
		PhaseName: wp.ID,
		RoleID:    wp.AssignedNode,
		Success:   wp.Status == StatusCompleted,
		Iteration: wp.RetryCount + 1,
	}
	if !wp.StartedAt.IsZero() {
		phase.TimeMs = wp.EndedAt.Sub(wp.StartedAt).Milliseconds()
	}
	for _, r := range rs {
		phase.CostUSD += r.Metrics.CostUSD
		phase.TokensUsed += r.Metrics.TokensUsed
		if r.Status == StatusCompleted && phase.Output == "" {
			if text, ok := r.Result.(string); ok {
				phase.Output = text
			}
			phase.ModelUsed = r.Metrics.ModelUsed
			if r.SelfCheck != nil {
				phase.QualityScore = r.SelfCheck.Score
			}
		}
		if r.Status == StatusFailed && len(r.Errors) > 0 && phase.Error == "" {
			phase.Error = r.Errors[0]
		}
	}
	if phase.Success {
		phase.Error = ""
	}
	return phase
}
