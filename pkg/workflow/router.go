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
package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/events"
)

// Classification is the router's cheap read of a task.
type Classification struct {
	Complexity           string // simple, moderate, complex
	ComponentCount       int
	RequiresArchitecture bool
	RequiresTesting      bool
	RequiresReview       bool
	QualityTarget        int
}

var (
	numberedItemRe = regexp.MustCompile(`(?m)(^|\s)\d+[.)]\s`)
	bulletItemRe   = regexp.MustCompile(`(?m)^\s*[-*]\s+`)
	countedNounRe  = regexp.MustCompile(`(?i)\b(\d+)\s+(endpoints?|components?|services?|modules?|functions?|handlers?)\b`)

	complexKeywords = []string{
		"architecture", "system", "production", "distributed",
		"scalable", "microservice", "infrastructure",
	}
	simpleKeywords = []string{"simple", "basic", "trivial", "hello", "quick", "small"}
)

// Classify reads complexity signals, component counts, and a quality target
// out of the task text.
func Classify(task string) Classification {
	text := strings.ToLower(task)
	c := Classification{Complexity: "moderate", QualityTarget: 80}

	for _, kw := range complexKeywords {
		if strings.Contains(text, kw) {
			c.Complexity = "complex"
			break
		}
	}
	if c.Complexity != "complex" {
		for _, kw := range simpleKeywords {
			if strings.Contains(text, kw) {
				c.Complexity = "simple"
				break
			}
		}
	}

	numbered := len(numberedItemRe.FindAllString(task, -1))
	bullets := len(bulletItemRe.FindAllString(task, -1))
	c.ComponentCount = numbered
	if bullets > c.ComponentCount {
		c.ComponentCount = bullets
	}
	if m := countedNounRe.FindStringSubmatch(task); m != nil {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n > c.ComponentCount {
			c.ComponentCount = n
		}
	}

	c.RequiresArchitecture = strings.Contains(text, "design") || strings.Contains(text, "architect")
	c.RequiresTesting = strings.Contains(text, "test")
	c.RequiresReview = strings.Contains(text, "review") || strings.Contains(text, "audit")

	switch {
	case strings.Contains(text, "production") || strings.Contains(text, "critical"):
		c.QualityTarget = 95
	case strings.Contains(text, "robust") || strings.Contains(text, "comprehensive"):
		c.QualityTarget = 90
	case c.Complexity == "complex":
		c.QualityTarget = 88
	case c.Complexity == "simple":
		c.QualityTarget = 75
	}
	return c
}

// Select applies the decision tree to a classified task.
func Select(task Task, c Classification) string {
	target := c.QualityTarget
	if task.QualityTarget > 0 {
		target = task.QualityTarget
	}

	switch {
	case target >= 90 || c.RequiresArchitecture || c.RequiresReview || c.Complexity == "complex":
		return NameSpecializedRoles
	case c.ComponentCount >= 2:
		return NameParallelCluster
	case c.Complexity == "simple" && target < 85:
		return NameProgressive
	case task.SpeedPriority:
		return NameProgressive
	default:
		return NameProgressive
	}
}

// RouterConfig configures the master router.
type RouterConfig struct {
	Emitter events.Emitter
	Logger  *zap.Logger
}

// Router owns the orchestrator map and the trace lifecycle: every routed
// workflow gets exactly one trace_start and one trace_end.
type Router struct {
	orchestrators map[string]Orchestrator
	emitter       events.Emitter
	logger        *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Router{
		orchestrators: make(map[string]Orchestrator),
		emitter:       cfg.Emitter,
		logger:        cfg.Logger,
	}
}

// Register installs an orchestrator under its name.
func (r *Router) Register(o Orchestrator) {
	r.orchestrators[o.Name()] = o
}

// Workflows lists the registered workflow names.
func (r *Router) Workflows() []string {
	names := make([]string, 0, len(r.orchestrators))
	for name := range r.orchestrators {
		names = append(names, name)
	}
	return names
}

// Route classifies (unless the task pins a workflow), dispatches, and wraps
// the run in a trace.
func (r *Router) Route(ctx context.Context, task Task) (*Result, error) {
	name := task.Workflow
	var cls Classification
	classified := false
	if name == "" || name == NameAuto {
		cls = Classify(task.Task)
		name = Select(task, cls)
		classified = true
	}

	orch, ok := r.orchestrators[name]
	if !ok {
		return nil, fmt.Errorf("router: no orchestrator registered for workflow %q", name)
	}

	ctx, _ = r.emitter.StartTrace(ctx, name, map[string]any{
		"task_id":  task.ID,
		"workflow": name,
	})
	r.logger.Info("routing task",
		zap.String("task_id", task.ID),
		zap.String("workflow", name),
		zap.Bool("classified", classified))

	result, err := orch.Execute(ctx, task)
	if err != nil {
		r.emitter.Emit(ctx, events.Event{
			Type:      events.TypeWorkflowFailed,
			Component: "router",
			Severity:  events.SeverityError,
			Message:   fmt.Sprintf("workflow %s failed", name),
			Error:     err.Error(),
		})
		r.emitter.EndTrace(ctx, false, map[string]any{"error": err.Error()})
		return nil, err
	}

	result.Workflow = name
	if result.Metadata == nil {
		result.Metadata = make(map[string]any)
	}
	result.Metadata["selected_workflow"] = name
	if classified {
		result.Metadata["classification"] = map[string]any{
			"complexity":      cls.Complexity,
			"component_count": cls.ComponentCount,
			"quality_target":  cls.QualityTarget,
		}
	}

	r.emitter.EndTrace(ctx, result.Success, map[string]any{
		"quality": result.OverallQuality,
		"cost":    result.TotalCostUSD,
	})
	return result, nil
}
