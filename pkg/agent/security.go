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
package agent

import (
	"fmt"
	"regexp"
)

// DefaultInjectionPatterns are the prompt-injection shapes rejected before any
// provider is invoked. Case-insensitive.
var DefaultInjectionPatterns = []string{
	`ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
	`disregard\s+(all\s+)?(previous|prior|your)\s+instructions`,
	`forget\s+(everything|all)\s+(you|above)`,
	`reveal\s+(your\s+)?(system\s+prompt|instructions)`,
	`print\s+(your\s+)?(system\s+prompt|initial\s+instructions)`,
	`you\s+are\s+now\s+(DAN|jailbroken)`,
	`\bdo\s+anything\s+now\b`,
	`override\s+(your\s+)?safety`,
}

// SecurityChecker screens prompts against injection patterns.
type SecurityChecker struct {
	patterns []*regexp.Regexp
}

// NewSecurityChecker compiles the given patterns, falling back to the default
// set when none are supplied. Bad patterns are a configuration error.
func NewSecurityChecker(patterns []string) (*SecurityChecker, error) {
	if len(patterns) == 0 {
		patterns = DefaultInjectionPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("invalid security pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &SecurityChecker{patterns: compiled}, nil
}

// Check returns the matched pattern when the prompt trips a rule, or "" when
// the prompt is clean.
func (s *SecurityChecker) Check(prompt string) string {
	for _, re := range s.patterns {
		if re.MatchString(prompt) {
			return re.String()
		}
	}
	return ""
}
