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
// Package validation defines the validator contract and the bounded
// refinement loop that regenerates artifacts with feedback.
package validation

import "context"

// Status is the overall verdict of a validation pass.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

// Level hints at how much effort a validator should spend. Advisory only.
type Level string

const (
	LevelQuick    Level = "quick"
	LevelStandard Level = "standard"
	LevelThorough Level = "thorough"
)

// Severity ranks one finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Finding is one issue a validator surfaced.
type Finding struct {
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Subcategory    string   `json:"subcategory,omitempty"`
	Issue          string   `json:"issue"`
	Recommendation string   `json:"recommendation,omitempty"`
	Location       string   `json:"location,omitempty"`
}

// Report is the result of validating one artifact.
type Report struct {
	Status        Status    `json:"status"`
	Score         int       `json:"score"` // 0..100
	Findings      []Finding `json:"findings,omitempty"`
	Level         Level     `json:"level"`
	AverageScore  float64   `json:"average_score,omitempty"`
	CriticalCount int       `json:"critical_count"`
	HighCount     int       `json:"high_count"`
}

// Tally recomputes the severity counters from the findings list.
func (r *Report) Tally() {
	r.CriticalCount, r.HighCount = 0, 0
	for _, f := range r.Findings {
		switch f.Severity {
		case SeverityCritical:
			r.CriticalCount++
		case SeverityHigh:
			r.HighCount++
		}
	}
}

// Context carries auxiliary inputs to a validator.
type Context struct {
	Task     string
	Language string
	Extra    map[string]any
}

// Validator scores one artifact. Must be deterministic for identical inputs.
type Validator func(ctx context.Context, artifact string, level Level, vctx Context) (*Report, error)
