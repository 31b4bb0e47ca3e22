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
// Package progressive implements the cost-escalating tier chain: cheap
// models first, escalating only while the estimated quality falls short of
// the target.
package progressive

// Tier is one rung of the escalation chain.
type Tier struct {
	Name    string `json:"name"`
	ModelID string `json:"model_id"`
	// Costs are USD per million tokens.
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	// MaxQualityCap is the ceiling this tier can plausibly reach; tiers
	// with a cap below the quality target are skipped outright.
	MaxQualityCap int      `json:"max_quality_cap"`
	SuitableFor   []string `json:"suitable_for,omitempty"`
}

// DefaultTiers returns the built-in three-rung chain.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name:          "fast",
			ModelID:       "claude-3-haiku-20240307",
			InputCost:     0.25,
			OutputCost:    1.25,
			MaxQualityCap: 80,
			SuitableFor:   []string{"simple", "boilerplate", "formatting"},
		},
		{
			Name:          "balanced",
			ModelID:       "claude-3-5-sonnet-20241022",
			InputCost:     3.0,
			OutputCost:    15.0,
			MaxQualityCap: 92,
			SuitableFor:   []string{"moderate", "refactoring", "api"},
		},
		{
			Name:          "premium",
			ModelID:       "claude-3-opus-20240229",
			InputCost:     15.0,
			OutputCost:    75.0,
			MaxQualityCap: 98,
			SuitableFor:   []string{"complex", "architecture", "correctness-critical"},
		},
	}
}

// Cost computes the USD price of one invocation at this tier.
func (t Tier) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*t.InputCost + float64(outputTokens)*t.OutputCost) / 1e6
}
