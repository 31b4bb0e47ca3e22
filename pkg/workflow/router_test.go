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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jevenson76/atlas-orchestrator/pkg/events"
)

type fakeOrchestrator struct {
	name     string
	executed int
	fail     bool
}

func (f *fakeOrchestrator) Name() string { return f.name }
func (f *fakeOrchestrator) Execute(_ context.Context, task Task) (*Result, error) {
	f.executed++
	if f.fail {
		return nil, errors.New("boom")
	}
	return &Result{
		Task:      task.Task,
		Success:   true,
		StartedAt: time.Now(),
		Phases:    []PhaseResult{{PhaseName: "only", Success: true, Output: "out", CostUSD: 0.01}},
	}, nil
}

func newTestRouter(emitter events.Emitter) (*Router, map[string]*fakeOrchestrator) {
	r := NewRouter(RouterConfig{Emitter: emitter})
	fakes := map[string]*fakeOrchestrator{}
	for _, name := range []string{NameSpecializedRoles, NameParallelCluster, NameProgressive} {
		f := &fakeOrchestrator{name: name}
		fakes[name] = f
		r.Register(f)
	}
	return r, fakes
}

func TestSelectBoundaries(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want string
	}{
		{
			name: "quality 90 with system design routes to roles",
			task: Task{Task: "Produce a system design for the billing pipeline", QualityTarget: 90},
			want: NameSpecializedRoles,
		},
		{
			name: "enumerated list with target 80 routes to parallel",
			task: Task{Task: "Implement: 1. the parser 2. the cache 3. the writer", QualityTarget: 80},
			want: NameParallelCluster,
		},
		{
			name: "hello-world routes to progressive",
			task: Task{Task: "write a hello-world function"},
			want: NameProgressive,
		},
		{
			name: "architecture keyword forces roles",
			task: Task{Task: "sketch the architecture for ingest"},
			want: NameSpecializedRoles,
		},
		{
			name: "counted endpoints route to parallel",
			task: Task{Task: "add 4 endpoints for user management", QualityTarget: 80},
			want: NameParallelCluster,
		},
		{
			name: "moderate default falls through to progressive",
			task: Task{Task: "refactor the config loader"},
			want: NameProgressive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.task, Classify(tt.task.Task))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyQualityTargets(t *testing.T) {
	assert.Equal(t, 95, Classify("harden the production deploy job").QualityTarget)
	assert.Equal(t, 90, Classify("write robust input handling").QualityTarget)
	assert.Equal(t, 88, Classify("plan the distributed cache layer").QualityTarget)
	assert.Equal(t, 75, Classify("a simple string reverse").QualityTarget)
	assert.Equal(t, 80, Classify("rename the flag").QualityTarget)
}

func TestRouteExplicitWorkflowBypassesClassification(t *testing.T) {
	r, fakes := newTestRouter(nil)

	// Text alone would classify to roles; the explicit pin wins.
	res, err := r.Route(context.Background(), Task{
		Task:     "production system architecture overhaul",
		Workflow: NameProgressive,
	})
	require.NoError(t, err)
	assert.Equal(t, NameProgressive, res.Workflow)
	assert.Equal(t, 1, fakes[NameProgressive].executed)
	assert.Zero(t, fakes[NameSpecializedRoles].executed)
	assert.NotContains(t, res.Metadata, "classification")
}

func TestRouteUnknownWorkflow(t *testing.T) {
	r := NewRouter(RouterConfig{})
	_, err := r.Route(context.Background(), Task{Task: "x", Workflow: "mystery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

type traceRecorder struct {
	events.NoOpEmitter
	mu     sync.Mutex
	starts int
	ends   int
}

func (tr *traceRecorder) StartTrace(ctx context.Context, workflow string, data map[string]any) (context.Context, *events.Trace) {
	tr.mu.Lock()
	tr.starts++
	tr.mu.Unlock()
	return tr.NoOpEmitter.StartTrace(ctx, workflow, data)
}

func (tr *traceRecorder) EndTrace(ctx context.Context, success bool, result map[string]any) {
	tr.mu.Lock()
	tr.ends++
	tr.mu.Unlock()
}

func TestRouteTracePairing(t *testing.T) {
	rec := &traceRecorder{}
	r, _ := newTestRouter(rec)

	_, err := r.Route(context.Background(), Task{Task: "ok", Workflow: NameProgressive})
	require.NoError(t, err)

	failing := &fakeOrchestrator{name: "failing", fail: true}
	r.Register(failing)
	_, err = r.Route(context.Background(), Task{Task: "x", Workflow: "failing"})
	require.Error(t, err)

	assert.Equal(t, 2, rec.starts)
	assert.Equal(t, 2, rec.ends, "failed workflows still close their trace")
}

func TestResultFinalizeSumsPhases(t *testing.T) {
	res := &Result{
		StartedAt: time.Now().Add(-time.Second),
		Phases: []PhaseResult{
			{PhaseName: "a", Success: true, CostUSD: 0.010, TokensUsed: 100},
			{PhaseName: "b", Success: true, CostUSD: 0.025, TokensUsed: 250},
			{PhaseName: "c", Success: false, CostUSD: 0.005, TokensUsed: 50},
		},
	}
	res.Finalize()

	assert.InDelta(t, 0.040, res.TotalCostUSD, 1e-6)
	assert.Equal(t, 400, res.TotalTokens)
	assert.Equal(t, []string{"a", "b"}, res.CompletedPhases)
	assert.GreaterOrEqual(t, res.TotalTimeMs, int64(1000))
}

func TestResultOutputIsLastSuccessfulPhase(t *testing.T) {
	res := &Result{Phases: []PhaseResult{
		{PhaseName: "a", Success: true, Output: "first"},
		{PhaseName: "b", Success: true, Output: "second"},
		{PhaseName: "c", Success: false, Output: "broken"},
	}}
	assert.Equal(t, "second", res.Output())
}
