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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jevenson76/atlas-orchestrator/pkg/agent"
	"github.com/jevenson76/atlas-orchestrator/pkg/events"
	"github.com/jevenson76/atlas-orchestrator/pkg/ledger"
	"github.com/jevenson76/atlas-orchestrator/pkg/llm"
	"github.com/jevenson76/atlas-orchestrator/pkg/llm/llmtest"
	"github.com/jevenson76/atlas-orchestrator/pkg/resilience"
	"github.com/jevenson76/atlas-orchestrator/pkg/validation"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

func newTierAgent(t *testing.T, mock *llmtest.MockAdapter, emitter events.Emitter) *agent.Agent {
	t.Helper()
	registry := llm.NewRegistry()
	for _, fam := range []llm.Family{llm.FamilyAnthropic, llm.FamilyOpenAI, llm.FamilyBedrock, llm.FamilyOllama} {
		registry.RegisterAdapter(fam, mock)
	}
	ag, err := agent.New(agent.Config{
		ID:            "tiered",
		FallbackChain: []string{"claude-3-haiku-20240307"},
		MaxRetries:    1,
		Backoff: resilience.BackoffConfig{
			BaseDelay:  time.Millisecond,
			MaxDelay:   time.Millisecond,
			Multiplier: 1,
		},
		Registry: registry,
		Ledger:   ledger.New(ledger.Config{}),
		Emitter:  emitter,
	})
	require.NoError(t, err)
	return ag
}

func solidCode() string {
	return "```python\ndef reverse(s):\n" +
		strings.Repeat("    # walk the string from the far end\n    out += s[i]\n", 12) +
		"    return out\n```"
}

type fallbackRecorder struct {
	events.NoOpEmitter
	fallbacks []events.Event
}

func (r *fallbackRecorder) Emit(_ context.Context, e events.Event) {
	if e.Type == events.TypeModelFallback {
		r.fallbacks = append(r.fallbacks, e)
	}
}

// A simple task succeeds on the cheapest tier in one call.
func TestCheapTierSufficesForSimpleTask(t *testing.T) {
	mock := llmtest.NewMockAdapter(llmtest.Succeed(solidCode()))
	rec := &fallbackRecorder{}
	o, err := New(Config{Agent: newTierAgent(t, mock, rec), Emitter: rec})
	require.NoError(t, err)

	res, err := o.Execute(context.Background(), workflow.Task{
		Task:          "write a simple string reverse function",
		QualityTarget: 75,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, res.OverallQuality, 70)
	assert.Equal(t, 1, res.Metadata["tiers_tried"])
	assert.Equal(t, "fast", res.Metadata["selected_tier"])
	assert.Equal(t, 1, mock.Calls())
	assert.Equal(t, "claude-3-haiku-20240307", mock.Requests()[0].Model)
	assert.Empty(t, rec.fallbacks, "no escalation on first-call success")
	assert.Greater(t, res.TotalCostUSD, 0.0)
}

// Target 85 skips the fast tier outright; a thin balanced-tier answer
// escalates to premium.
func TestEscalatesPastThinOutput(t *testing.T) {
	mock := llmtest.NewMockAdapter(
		llmtest.Succeed("too short to trust"),
		llmtest.Succeed(solidCode()),
	)
	rec := &fallbackRecorder{}
	o, err := New(Config{Agent: newTierAgent(t, mock, rec), Emitter: rec})
	require.NoError(t, err)

	res, err := o.Execute(context.Background(), workflow.Task{
		Task:          "implement the retry scheduler",
		QualityTarget: 85,
	})
	require.NoError(t, err)

	require.True(t, res.Success)
	assert.Equal(t, 2, res.Metadata["tiers_tried"])
	assert.Equal(t, "premium", res.Metadata["selected_tier"])

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "claude-3-5-sonnet-20241022", reqs[0].Model, "fast tier skipped below target")
	assert.Equal(t, "claude-3-opus-20240229", reqs[1].Model)

	require.Len(t, rec.fallbacks, 1)
	assert.Equal(t, "claude-3-opus-20240229", rec.fallbacks[0].Data["to"])
}

func TestNoTierReachesTarget(t *testing.T) {
	o, err := New(Config{Agent: newTierAgent(t, llmtest.NewMockAdapter(), nil)})
	require.NoError(t, err)

	_, err = o.Execute(context.Background(), workflow.Task{Task: "x", QualityTarget: 99})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality target 99")
}

func TestBestAttemptReturnedWhenTargetNeverMet(t *testing.T) {
	// Every tier produces prose; nothing validates, nothing reaches 95.
	mock := llmtest.NewMockAdapter(llmtest.Succeed(strings.Repeat("an acceptable prose answer. ", 30)))
	o, err := New(Config{Agent: newTierAgent(t, mock, nil)})
	require.NoError(t, err)

	res, err := o.Execute(context.Background(), workflow.Task{Task: "describe it", QualityTarget: 95})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Metadata["tiers_tried"], "only the premium tier clears a 95 cap check")
	assert.Equal(t, "premium", res.Metadata["selected_tier"])
	assert.Less(t, res.OverallQuality, 95)
}

func TestTierErrorFallsThrough(t *testing.T) {
	mock := llmtest.NewMockAdapter(
		llmtest.Fail(llm.ErrKindAuth),
		llmtest.Succeed(solidCode()),
	)
	o, err := New(Config{Agent: newTierAgent(t, mock, nil)})
	require.NoError(t, err)

	res, err := o.Execute(context.Background(), workflow.Task{Task: "y", QualityTarget: 75})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Metadata["tiers_tried"])
	assert.False(t, res.Phases[0].Success)
	assert.True(t, res.Phases[1].Success)
}

func TestEstimateQuality(t *testing.T) {
	fast := DefaultTiers()[0]

	assert.Equal(t, 50, estimateQuality("tiny", nil, fast))
	assert.Equal(t, 60, estimateQuality(strings.Repeat("x", 200), nil, fast))
	assert.Equal(t, 70, estimateQuality(strings.Repeat("x", 600), nil, fast))

	pass := &validation.Report{Status: validation.StatusPass}
	assert.Equal(t, 80, estimateQuality(strings.Repeat("x", 600), pass, fast))

	findings := &validation.Report{
		Status:   validation.StatusWarn,
		Findings: make([]validation.Finding, 10),
	}
	// Penalty caps at 20.
	assert.Equal(t, 50, estimateQuality(strings.Repeat("x", 600), findings, fast))
}

func TestSavingsAgainstBalancedBaseline(t *testing.T) {
	mock := llmtest.NewMockAdapter(llmtest.Succeed(solidCode()))
	o, err := New(Config{Agent: newTierAgent(t, mock, nil)})
	require.NoError(t, err)

	res, err := o.Execute(context.Background(), workflow.Task{Task: "quick fix", QualityTarget: 75})
	require.NoError(t, err)

	savings, ok := res.Metadata["savings_usd"].(float64)
	require.True(t, ok)
	assert.Greater(t, savings, 0.0, "haiku under a sonnet baseline must save money")
}
