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
	"regexp"
	"strings"
)

var (
	fencedCodeRe = regexp.MustCompile("(?s)```[a-zA-Z0-9+#-]*\n.*?```")
	funcLikeRe   = regexp.MustCompile(`\b(func|def|function|fn|class|impl|public|private)\b`)
	testNameRe   = regexp.MustCompile(`\b(Test\w+|test_\w+|it\(|describe\(|assert|expect|require\.)`)
	todoRe       = regexp.MustCompile(`\b(TODO|FIXME|XXX)\b`)
	placeholder  = regexp.MustCompile(`\.\.\.|<implementation>|<your code here>|not implemented`)
)

// CodeHeuristic is the built-in code validator. It scores structure rather
// than correctness: presence of code shapes, length, and obvious placeholders.
// Deterministic for identical inputs.
func CodeHeuristic(_ context.Context, artifact string, level Level, _ Context) (*Report, error) {
	report := &Report{Level: level, Score: 100}
	trimmed := strings.TrimSpace(artifact)

	if trimmed == "" {
		report.Score = 0
		report.Status = StatusFail
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Category: "structure",
			Issue:    "artifact is empty",
		})
		report.Tally()
		return report, nil
	}

	hasCodeShape := fencedCodeRe.MatchString(trimmed) || funcLikeRe.MatchString(trimmed)
	if !hasCodeShape {
		report.Score -= 30
		report.Findings = append(report.Findings, Finding{
			Severity:       SeverityHigh,
			Category:       "structure",
			Issue:          "no recognizable code structure (functions, classes, or fenced blocks)",
			Recommendation: "emit the implementation as code, not prose",
		})
	}

	switch {
	case len(trimmed) < 100:
		report.Score -= 40
		report.Findings = append(report.Findings, Finding{
			Severity:       SeverityHigh,
			Category:       "completeness",
			Issue:          "artifact under 100 characters, almost certainly a stub",
			Recommendation: "produce the full implementation",
		})
	case len(trimmed) < 500:
		report.Score -= 15
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityMedium,
			Category: "completeness",
			Issue:    "artifact under 500 characters, likely incomplete",
		})
	}

	if placeholder.MatchString(trimmed) {
		report.Score -= 20
		report.Findings = append(report.Findings, Finding{
			Severity:       SeverityHigh,
			Category:       "completeness",
			Issue:          "placeholder text found in artifact",
			Recommendation: "replace placeholders with working code",
		})
	}

	if level != LevelQuick && todoRe.MatchString(trimmed) {
		report.Score -= 5
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityLow,
			Category: "completeness",
			Issue:    "unfinished markers (TODO/FIXME) present",
		})
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.Status = statusForScore(report.Score)
	report.AverageScore = float64(report.Score)
	report.Tally()
	return report, nil
}

// TestAdequacy is the built-in test validator: it checks that the artifact
// contains test constructs and assertions.
func TestAdequacy(_ context.Context, artifact string, level Level, _ Context) (*Report, error) {
	report := &Report{Level: level, Score: 100}
	trimmed := strings.TrimSpace(artifact)

	if trimmed == "" {
		report.Score = 0
		report.Status = StatusFail
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityCritical,
			Category: "tests",
			Issue:    "no tests produced",
		})
		report.Tally()
		return report, nil
	}

	if !testNameRe.MatchString(trimmed) {
		report.Score -= 40
		report.Findings = append(report.Findings, Finding{
			Severity:       SeverityHigh,
			Category:       "tests",
			Issue:          "no test functions or assertions detected",
			Recommendation: "write named test cases with assertions",
		})
	}

	caseCount := len(testNameRe.FindAllString(trimmed, -1))
	if caseCount > 0 && caseCount < 3 {
		report.Score -= 15
		report.Findings = append(report.Findings, Finding{
			Severity:       SeverityMedium,
			Category:       "tests",
			Subcategory:    "coverage",
			Issue:          "fewer than three test constructs, edge cases likely uncovered",
			Recommendation: "cover failure paths and boundary values",
		})
	}

	if len(trimmed) < 200 {
		report.Score -= 20
		report.Findings = append(report.Findings, Finding{
			Severity: SeverityMedium,
			Category: "completeness",
			Issue:    "test artifact suspiciously short",
		})
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.Status = statusForScore(report.Score)
	report.AverageScore = float64(report.Score)
	report.Tally()
	return report, nil
}

func statusForScore(score int) Status {
	switch {
	case score >= 70:
		return StatusPass
	case score >= 50:
		return StatusWarn
	default:
		return StatusFail
	}
}
