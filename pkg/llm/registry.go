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
	"fmt"
	"strings"
	"sync"
)

// Family identifies a provider family.
type Family string

const (
	FamilyAnthropic Family = "anthropic"
	FamilyBedrock   Family = "bedrock"
	FamilyOpenAI    Family = "openai"
	FamilyOllama    Family = "ollama"
)

// FamilyOf selects the provider family from a model id prefix. Anything not
// recognized routes to the local Ollama endpoint, so unknown ids fail at
// invocation time against localhost rather than against a paid provider.
func FamilyOf(modelID string) Family {
	id := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(id, "us.anthropic.") || strings.HasPrefix(id, "eu.anthropic.") ||
		strings.HasPrefix(id, "anthropic."):
		return FamilyBedrock
	case strings.HasPrefix(id, "claude"):
		return FamilyAnthropic
	case strings.HasPrefix(id, "gpt") || strings.HasPrefix(id, "o1") || strings.HasPrefix(id, "o3"):
		return FamilyOpenAI
	default:
		return FamilyOllama
	}
}

// AdapterFactory builds the adapter for one provider family.
type AdapterFactory func() (Adapter, error)

// Registry resolves model ids to adapters. Adapters are constructed lazily,
// once per family, and shared across callers.
type Registry struct {
	mu        sync.RWMutex
	factories map[Family]AdapterFactory
	adapters  map[Family]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Family]AdapterFactory),
		adapters:  make(map[Family]Adapter),
	}
}

// Register installs the factory for a family, replacing any previous one.
func (r *Registry) Register(family Family, factory AdapterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[family] = factory
	delete(r.adapters, family)
}

// RegisterAdapter installs an already-built adapter, bypassing lazy
// construction. Used by tests to inject mocks.
func (r *Registry) RegisterAdapter(family Family, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[family] = adapter
	delete(r.factories, family)
}

// AdapterFor resolves the adapter for a model id.
func (r *Registry) AdapterFor(modelID string) (Adapter, error) {
	family := FamilyOf(modelID)

	r.mu.RLock()
	adapter, ok := r.adapters[family]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.adapters[family]; ok {
		return adapter, nil
	}
	factory, ok := r.factories[family]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider family %q (model %s)", family, modelID)
	}
	adapter, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s adapter: %w", family, err)
	}
	r.adapters[family] = adapter
	return adapter, nil
}
