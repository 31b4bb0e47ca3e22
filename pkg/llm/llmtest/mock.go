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
// Package llmtest provides a scripted adapter for exercising orchestration
// logic without live providers.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jevenson76/atlas-orchestrator/pkg/llm"
)

// Step is one scripted outcome. Exactly one of Result or Err is used.
type Step struct {
	Result *llm.Result
	Err    error
}

// MockAdapter replays scripted steps in order. Once the script is exhausted
// it keeps returning the last step, or a default success if none were given.
// Safe for concurrent use; requests are recorded for assertions.
type MockAdapter struct {
	mu       sync.Mutex
	name     string
	steps    []Step
	calls    int
	requests []llm.Request

	// OnInvoke, when set, overrides the script entirely.
	OnInvoke func(ctx context.Context, req llm.Request) (*llm.Result, error)
}

// NewMockAdapter creates a mock with the given script.
func NewMockAdapter(steps ...Step) *MockAdapter {
	return &MockAdapter{name: "mock", steps: steps}
}

// Succeed builds a success step with the given text.
func Succeed(text string) Step {
	return Step{Result: &llm.Result{Text: text, InputTokens: 100, OutputTokens: 200}}
}

// Fail builds a failure step of the given kind.
func Fail(kind llm.ErrorKind) Step {
	return Step{Err: llm.NewInvokeError("mock", kind, 0, fmt.Errorf("scripted %s failure", kind))}
}

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	if m.OnInvoke != nil {
		m.mu.Lock()
		m.calls++
		m.requests = append(m.requests, req)
		m.mu.Unlock()
		return m.OnInvoke(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)

	if len(m.steps) == 0 {
		return &llm.Result{Text: "ok", Model: req.Model, InputTokens: 10, OutputTokens: 10}, nil
	}
	idx := m.calls - 1
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	}
	step := m.steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	res := *step.Result
	if res.Model == "" {
		res.Model = req.Model
	}
	return &res, nil
}

// Calls returns how many times Invoke ran.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request seen.
func (m *MockAdapter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}
