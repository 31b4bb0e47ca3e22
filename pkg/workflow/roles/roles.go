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
// Package roles implements the sequential four-phase pipeline:
// Architect, Developer, Tester, Reviewer. Roles are configuration values
// sharing one execution engine, not a type hierarchy.
package roles

// Role identifies one phase slot.
type Role string

const (
	RoleArchitect Role = "architect"
	RoleDeveloper Role = "developer"
	RoleTester    Role = "tester"
	RoleReviewer  Role = "reviewer"
)

// PhaseOrder is the strict execution order.
var PhaseOrder = []Role{RoleArchitect, RoleDeveloper, RoleTester, RoleReviewer}

// EscalationHierarchy is the fixed model ladder for self-correction.
var EscalationHierarchy = []string{
	"claude-3-haiku-20240307",
	"claude-3-5-sonnet-20241022",
	"claude-3-opus-20240229",
	"gpt-4",
}

// EscalateModel returns the next model up the ladder, or the top if the
// current model is already there or unknown.
func EscalateModel(current string) string {
	for i, m := range EscalationHierarchy {
		if m == current && i+1 < len(EscalationHierarchy) {
			return EscalationHierarchy[i+1]
		}
	}
	if current == EscalationHierarchy[len(EscalationHierarchy)-1] {
		return current
	}
	// Unknown models restart one rung above the bottom.
	return EscalationHierarchy[1]
}

// RoleConfig is everything one phase needs.
type RoleConfig struct {
	Role         Role
	SystemPrompt string
	// Models is the fallback chain, primary first.
	Models      []string
	Temperature float64
	MaxTokens   int
	// MinScore is the validator threshold below which self-correction runs.
	MinScore int
	// ValidatorName selects the validator for this phase's artifact; empty
	// means the phase output is not validated.
	ValidatorName string
}

// DefaultRoles returns the built-in four-role pipeline configuration.
func DefaultRoles() map[Role]RoleConfig {
	return map[Role]RoleConfig{
		RoleArchitect: {
			Role: RoleArchitect,
			SystemPrompt: "You are a software architect. Produce a concise, actionable " +
				"design: components, interfaces, data flow, and failure modes. " +
				"Do not write implementation code.",
			Models:      []string{"claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "gpt-4"},
			Temperature: 0.7,
			MaxTokens:   4096,
			MinScore:    0,
		},
		RoleDeveloper: {
			Role: RoleDeveloper,
			SystemPrompt: "You are a senior developer. Implement the design exactly. " +
				"Output complete, working code with no placeholders.",
			Models:        []string{"claude-3-5-sonnet-20241022", "claude-3-opus-20240229", "gpt-4"},
			Temperature:   0.5,
			MaxTokens:     8192,
			MinScore:      70,
			ValidatorName: "code.heuristic",
		},
		RoleTester: {
			Role: RoleTester,
			SystemPrompt: "You are a test engineer. Write thorough tests for the " +
				"implementation: happy paths, failure paths, and boundaries.",
			Models:        []string{"claude-3-haiku-20240307", "claude-3-5-sonnet-20241022", "gpt-4"},
			Temperature:   0.4,
			MaxTokens:     8192,
			MinScore:      70,
			ValidatorName: "test.adequacy",
		},
		RoleReviewer: {
			Role: RoleReviewer,
			SystemPrompt: "You are a code reviewer. Assess the design, implementation, " +
				"and tests. Respond with JSON containing an integer " +
				`"overall_quality_score" (0-100) and a "summary" string.`,
			Models:      []string{"claude-3-5-sonnet-20241022", "gpt-4"},
			Temperature: 0.3,
			MaxTokens:   4096,
			MinScore:    0,
		},
	}
}
