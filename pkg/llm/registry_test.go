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
package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFamilyOf(t *testing.T) {
	tests := []struct {
		model string
		want  Family
	}{
		{"claude-3-5-sonnet-20241022", FamilyAnthropic},
		{"claude-haiku-4-5-20251001", FamilyAnthropic},
		{"us.anthropic.claude-sonnet-4-5-20250929-v1:0", FamilyBedrock},
		{"eu.anthropic.claude-haiku-4-5-20251001-v1:0", FamilyBedrock},
		{"anthropic.claude-3-haiku-20240307-v1:0", FamilyBedrock},
		{"gpt-4", FamilyOpenAI},
		{"gpt-4o-mini", FamilyOpenAI},
		{"o1-preview", FamilyOpenAI},
		{"llama3.1", FamilyOllama},
		{"qwen2.5-coder", FamilyOllama},
		{"mystery-model", FamilyOllama},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, FamilyOf(tt.model))
		})
	}
}

type stubAdapter struct{ name string }

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Invoke(context.Context, Request) (*Result, error) {
	return &Result{Text: s.name}, nil
}

func TestRegistryLazyConstruction(t *testing.T) {
	r := NewRegistry()
	built := 0
	r.Register(FamilyAnthropic, func() (Adapter, error) {
		built++
		return &stubAdapter{name: "anthropic"}, nil
	})

	a, err := r.AdapterFor("claude-3-haiku-20240307")
	require.NoError(t, err)
	b, err := r.AdapterFor("claude-sonnet-4-5-20250929")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, built, "factory should run once per family")
}

func TestRegistryUnknownFamily(t *testing.T) {
	r := NewRegistry()
	_, err := r.AdapterFor("llama3.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama")
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register(FamilyOpenAI, func() (Adapter, error) {
		return nil, errors.New("no api key")
	})
	_, err := r.AdapterFor("gpt-4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no api key")
}

func TestRegistryConcurrentResolution(t *testing.T) {
	r := NewRegistry()
	r.Register(FamilyOllama, func() (Adapter, error) {
		return &stubAdapter{name: "ollama"}, nil
	})

	var wg sync.WaitGroup
	adapters := make([]Adapter, 32)
	for i := range adapters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.AdapterFor("llama3.1")
			if err == nil {
				adapters[i] = a
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(adapters); i++ {
		require.Same(t, adapters[0], adapters[i])
	}
}

func TestRegisterAdapterInjectsMock(t *testing.T) {
	r := NewRegistry()
	mock := &stubAdapter{name: "mock"}
	r.RegisterAdapter(FamilyAnthropic, mock)

	a, err := r.AdapterFor("claude-3-haiku-20240307")
	require.NoError(t, err)
	assert.Same(t, Adapter(mock), a)
}
