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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeHeuristicEmptyArtifact(t *testing.T) {
	report, err := CodeHeuristic(context.Background(), "", LevelStandard, Context{})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, report.Status)
	assert.Zero(t, report.Score)
	assert.Equal(t, 1, report.CriticalCount)
}

func TestCodeHeuristicStubVsImplementation(t *testing.T) {
	stub := "// handler\nfunc f() {}"
	full := "func RateLimit(n int) func() bool {\n" +
		strings.Repeat("\t// token bucket refill path\n\tif tokens > 0 { tokens--; return true }\n", 20) +
		"\treturn func() bool { return false }\n}"

	stubReport, err := CodeHeuristic(context.Background(), stub, LevelStandard, Context{})
	require.NoError(t, err)
	fullReport, err := CodeHeuristic(context.Background(), full, LevelStandard, Context{})
	require.NoError(t, err)

	assert.Less(t, stubReport.Score, fullReport.Score)
	assert.Equal(t, StatusPass, fullReport.Status)
	assert.NotEqual(t, StatusPass, stubReport.Status)
}

func TestCodeHeuristicDeterministic(t *testing.T) {
	artifact := "```go\nfunc Add(a, b int) int { return a + b }\n```" + strings.Repeat(" padding", 100)
	a, err := CodeHeuristic(context.Background(), artifact, LevelThorough, Context{})
	require.NoError(t, err)
	b, err := CodeHeuristic(context.Background(), artifact, LevelThorough, Context{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTestAdequacy(t *testing.T) {
	noTests := "the code looks fine to me" + strings.Repeat(" really", 50)
	withTests := `func TestAdd(t *testing.T) { assert.Equal(t, 2, Add(1,1)) }
func TestSub(t *testing.T) { assert.Equal(t, 0, Sub(1,1)) }
func TestNeg(t *testing.T) { require.Equal(t, -1, Sub(0,1)) }`

	bad, err := TestAdequacy(context.Background(), noTests, LevelStandard, Context{})
	require.NoError(t, err)
	good, err := TestAdequacy(context.Background(), withTests, LevelStandard, Context{})
	require.NoError(t, err)

	assert.NotEqual(t, StatusPass, bad.Status)
	assert.Equal(t, StatusPass, good.Status)
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"code.heuristic", "test.adequacy"}, r.Names())

	v, err := r.Lookup("code.heuristic")
	require.NoError(t, err)
	require.NotNil(t, v)

	_, err = r.Lookup("nope")
	require.Error(t, err)
}

func TestRefineConvergesAndHalts(t *testing.T) {
	calls := 0
	gen := func(_ context.Context, in GeneratorInput) (string, error) {
		calls++
		if calls == 1 {
			return "stub", nil
		}
		// Second attempt sees the feedback from the first.
		if len(in.Feedback) == 0 || in.PreviousAttempt != "stub" {
			t.Error("expected feedback and previous attempt on iteration 2")
		}
		return "func Full() {}" + strings.Repeat(" more code;", 60), nil
	}

	res, err := Refine(context.Background(), RefineConfig{
		Generator:     gen,
		Validator:     CodeHeuristic,
		Threshold:     70,
		MaxIterations: 5,
	})
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.Iterations, "must halt immediately on convergence")
	assert.Equal(t, 2, calls)
	require.Len(t, res.History, 2)
	assert.Greater(t, res.History[1].Score, res.History[0].Score)
}

func TestRefineNonConvergenceReturnsBest(t *testing.T) {
	scores := []int{30, 55, 42}
	i := 0
	gen := func(context.Context, GeneratorInput) (string, error) {
		out := fmt.Sprintf("attempt-%d", i)
		i++
		return out, nil
	}
	val := func(_ context.Context, artifact string, level Level, _ Context) (*Report, error) {
		var idx int
		fmt.Sscanf(artifact, "attempt-%d", &idx)
		return &Report{Status: StatusFail, Score: scores[idx], Level: level}, nil
	}

	res, err := Refine(context.Background(), RefineConfig{
		Generator:     gen,
		Validator:     val,
		Threshold:     70,
		MaxIterations: 3,
	})
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, "attempt-1", res.Artifact, "best-by-score wins")
	assert.Equal(t, 55, res.Report.Score)
}

func TestRefineIterationBound(t *testing.T) {
	calls := 0
	gen := func(context.Context, GeneratorInput) (string, error) {
		calls++
		return "never good enough", nil
	}
	val := func(_ context.Context, _ string, level Level, _ Context) (*Report, error) {
		return &Report{Status: StatusFail, Score: 10, Level: level}, nil
	}

	res, err := Refine(context.Background(), RefineConfig{
		Generator:     gen,
		Validator:     val,
		MaxIterations: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, res.Iterations)
}

func TestFeedbackPromptEnumeratesFindings(t *testing.T) {
	in := GeneratorInput{Feedback: []Finding{
		{Severity: SeverityHigh, Category: "structure", Issue: "no functions", Recommendation: "add some"},
		{Severity: SeverityLow, Category: "style", Issue: "dense"},
	}}
	prompt := in.FeedbackPrompt()
	assert.Contains(t, prompt, "1. [high/structure] no functions (add some)")
	assert.Contains(t, prompt, "2. [low/style] dense")
	assert.Empty(t, GeneratorInput{}.FeedbackPrompt())
}
