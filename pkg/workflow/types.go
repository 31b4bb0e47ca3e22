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
// Package workflow defines the orchestrator contract and the master router
// that classifies tasks onto one of the three workflow engines.
package workflow

import (
	"context"
	"time"

	"github.com/jevenson76/atlas-orchestrator/pkg/validation"
)

// Workflow names as selected by the router and recorded in results.
const (
	NameSpecializedRoles = "specialized_roles"
	NameParallelCluster  = "parallel_cluster"
	NameProgressive      = "progressive"
	NameAuto             = "auto"
)

// Task is one unit of intake work.
type Task struct {
	ID      string         `json:"task_id"`
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
	// Workflow is an explicit selection; "auto" or empty means route by
	// classification.
	Workflow string `json:"workflow,omitempty"`
	// QualityTarget overrides the classified target when > 0.
	QualityTarget int    `json:"quality_target,omitempty"`
	Priority      string `json:"priority,omitempty"`
	// SpeedPriority prefers the cheap path on ties.
	SpeedPriority bool      `json:"speed_priority,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// PhaseResult is the outcome of one role or tier execution.
type PhaseResult struct {
	PhaseName     string             `json:"phase_name"`
	RoleID        string             `json:"role_id,omitempty"`
	Output        string             `json:"output_text"`
	Success       bool               `json:"success"`
	TimeMs        int64              `json:"time_ms"`
	TokensUsed    int                `json:"tokens_used"`
	CostUSD       float64            `json:"cost_usd"`
	ModelUsed     string             `json:"model_used,omitempty"`
	Validation    *validation.Report `json:"validation_report,omitempty"`
	QualityScore  int                `json:"quality_score,omitempty"`
	Iteration     int                `json:"iteration"`
	SelfCorrected bool               `json:"self_corrected,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Result is the immutable record of one completed workflow.
type Result struct {
	Task            string         `json:"task"`
	Context         map[string]any `json:"context,omitempty"`
	Workflow        string         `json:"workflow_used"`
	Phases          []PhaseResult  `json:"phase_results"`
	OverallQuality  int            `json:"overall_quality_score,omitempty"`
	TotalTimeMs     int64          `json:"total_time_ms"`
	TotalCostUSD    float64        `json:"total_cost_usd"`
	TotalTokens     int            `json:"total_tokens"`
	Success         bool           `json:"success"`
	CompletedPhases []string       `json:"completed_phases"`
	TotalIterations int            `json:"total_iterations"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	Error           string         `json:"error,omitempty"`
	// Metadata carries workflow-specific fields: tiers tried, consensus
	// level, selected workflow rationale.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Output returns the final artifact: the last successful phase's output.
func (r *Result) Output() string {
	for i := len(r.Phases) - 1; i >= 0; i-- {
		if r.Phases[i].Success && r.Phases[i].Output != "" {
			return r.Phases[i].Output
		}
	}
	return ""
}

// Finalize stamps the aggregate fields from the phase list.
func (r *Result) Finalize() {
	r.CompletedAt = time.Now()
	r.TotalTimeMs = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	r.TotalCostUSD = 0
	r.TotalTokens = 0
	r.CompletedPhases = r.CompletedPhases[:0]
	for _, p := range r.Phases {
		r.TotalCostUSD += p.CostUSD
		r.TotalTokens += p.TokensUsed
		if p.Success {
			r.CompletedPhases = append(r.CompletedPhases, p.PhaseName)
		}
	}
}

// Orchestrator is the single contract all three workflow engines implement.
type Orchestrator interface {
	Name() string
	Execute(ctx context.Context, task Task) (*Result, error)
}
