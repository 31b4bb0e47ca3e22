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
package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/agent"
	"github.com/jevenson76/atlas-orchestrator/pkg/events"
	"github.com/jevenson76/atlas-orchestrator/pkg/ledger"
	"github.com/jevenson76/atlas-orchestrator/pkg/llm"
	"github.com/jevenson76/atlas-orchestrator/pkg/llm/anthropic"
	"github.com/jevenson76/atlas-orchestrator/pkg/llm/bedrock"
	"github.com/jevenson76/atlas-orchestrator/pkg/llm/ollama"
	"github.com/jevenson76/atlas-orchestrator/pkg/llm/openai"
	"github.com/jevenson76/atlas-orchestrator/pkg/metrics"
	"github.com/jevenson76/atlas-orchestrator/pkg/resilience"
	"github.com/jevenson76/atlas-orchestrator/pkg/validation"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow/cluster"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow/progressive"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow/roles"
)

// stack is the fully wired runtime: one router over the three workflow
// engines, plus the shared emitter, ledger, and metrics store.
type stack struct {
	logger  *zap.Logger
	emitter *events.FileEmitter
	costs   *ledger.Ledger
	router  *workflow.Router
	store   *metrics.Store
}

// buildStack assembles every component from the loaded configuration.
func buildStack(cfg *Config, logger *zap.Logger) (*stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	emitter, err := events.NewFileEmitter(events.FileEmitterConfig{
		LogDir:    cfg.Events.LogDir,
		QueueSize: cfg.Events.QueueSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("event emitter: %w", err)
	}

	var budgets []ledger.BudgetConfig
	if cfg.Budget.HourlyCapUSD > 0 {
		budgets = append(budgets, ledger.BudgetConfig{
			Window:       ledger.WindowHour,
			CapUSD:       cfg.Budget.HourlyCapUSD,
			WarnFraction: cfg.Budget.WarnFraction,
		})
	}
	if cfg.Budget.DailyCapUSD > 0 {
		budgets = append(budgets, ledger.BudgetConfig{
			Window:       ledger.WindowDay,
			CapUSD:       cfg.Budget.DailyCapUSD,
			WarnFraction: cfg.Budget.WarnFraction,
		})
	}
	costs := ledger.New(ledger.Config{Budgets: budgets, Emitter: emitter, Logger: logger})

	registry := buildRegistry(cfg)
	breakers := resilience.NewCircuitBreakerManager(resilience.DefaultCircuitBreakerConfig())

	validators := validation.NewRegistry()
	validators.Register("code.heuristic", validation.CodeHeuristic)
	validators.Register("test.adequacy", validation.TestAdequacy)

	security, err := agent.NewSecurityChecker(cfg.Security.DenyPatterns)
	if err != nil {
		emitter.Close()
		return nil, err
	}

	shared := agent.Config{
		MaxTokens: cfg.LLM.MaxTokens,
		Breakers:  breakers,
		Registry:  registry,
		Ledger:    costs,
		Emitter:   emitter,
		Security:  security,
		Logger:    logger,
	}

	rolesOrch, err := buildRoles(cfg, shared, validators, emitter, logger)
	if err != nil {
		return nil, err
	}
	clusterOrch, err := buildCluster(cfg, shared, emitter, logger)
	if err != nil {
		return nil, err
	}
	progOrch, err := buildProgressive(cfg, shared, emitter, logger)
	if err != nil {
		return nil, err
	}

	router := workflow.NewRouter(workflow.RouterConfig{Emitter: emitter, Logger: logger})
	router.Register(rolesOrch)
	router.Register(clusterOrch)
	router.Register(progOrch)

	store, err := metrics.NewStore(cfg.Metrics.Path, logger)
	if err != nil {
		emitter.Close()
		return nil, fmt.Errorf("metrics store: %w", err)
	}

	return &stack{
		logger:  logger,
		emitter: emitter,
		costs:   costs,
		router:  router,
		store:   store,
	}, nil
}

// buildRegistry installs one lazy adapter factory per provider family.
// Misconfigured providers fail at invocation time, so a daemon can run with
// only the providers it actually uses.
func buildRegistry(cfg *Config) *llm.Registry {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	registry := llm.NewRegistry()
	registry.Register(llm.FamilyAnthropic, func() (llm.Adapter, error) {
		return anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.LLM.AnthropicAPIKey,
			Timeout: timeout,
		}), nil
	})
	registry.Register(llm.FamilyOpenAI, func() (llm.Adapter, error) {
		return openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAIAPIKey,
			Timeout: timeout,
		}), nil
	})
	registry.Register(llm.FamilyBedrock, func() (llm.Adapter, error) {
		return bedrock.NewClient(bedrock.Config{
			Region:          cfg.LLM.BedrockRegion,
			Profile:         cfg.LLM.BedrockProfile,
			AccessKeyID:     cfg.LLM.BedrockAccessKeyID,
			SecretAccessKey: cfg.LLM.BedrockSecretAccessKey,
			SessionToken:    cfg.LLM.BedrockSessionToken,
		})
	})
	registry.Register(llm.FamilyOllama, func() (llm.Adapter, error) {
		return ollama.NewClient(ollama.Config{Endpoint: cfg.LLM.OllamaEndpoint}), nil
	})
	return registry
}

func buildRoles(cfg *Config, shared agent.Config, validators *validation.Registry, emitter events.Emitter, logger *zap.Logger) (*roles.Orchestrator, error) {
	roleCfgs := roles.DefaultRoles()
	agents := make(map[roles.Role]*agent.Agent, len(roleCfgs))
	for role, rc := range roleCfgs {
		ac := shared
		ac.ID = string(role)
		ac.SystemPrompt = rc.SystemPrompt
		ac.FallbackChain = rc.Models
		ac.Temperature = rc.Temperature
		ac.MaxTokens = rc.MaxTokens
		ag, err := agent.New(ac)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", role, err)
		}
		agents[role] = ag
	}
	return roles.New(roles.Config{
		Roles:             roleCfgs,
		Agents:            agents,
		Validators:        validators,
		MaxSelfCorrection: cfg.Workflow.MaxSelfCorrection,
		QualityThreshold:  cfg.Workflow.QualityThreshold,
		Emitter:           emitter,
		Logger:            logger,
	})
}

func buildCluster(cfg *Config, shared agent.Config, emitter events.Emitter, logger *zap.Logger) (*cluster.Orchestrator, error) {
	nodes := make([]*cluster.Node, 0, len(cfg.Cluster.NodeModels))
	for i, model := range cfg.Cluster.NodeModels {
		id := fmt.Sprintf("node-%d", i+1)
		ac := shared
		ac.ID = id
		ac.FallbackChain = []string{model}
		ag, err := agent.New(ac)
		if err != nil {
			return nil, fmt.Errorf("node agent %s: %w", id, err)
		}
		nodes = append(nodes, cluster.NewNode(cluster.NodeCapabilities{
			NodeID: id,
			Model:  model,
		}, ag))
	}
	return cluster.New(cluster.Config{
		Pool:       cluster.NewPool(nodes...),
		Splitter:   cluster.NewSplitter(cluster.SplitterConfig{}),
		Redundancy: cfg.Cluster.Redundancy,
		Emitter:    emitter,
		Logger:     logger,
	})
}

func buildProgressive(cfg *Config, shared agent.Config, emitter events.Emitter, logger *zap.Logger) (*progressive.Orchestrator, error) {
	tiers := progressive.DefaultTiers()
	chain := make([]string, 0, len(tiers))
	for _, tier := range tiers {
		chain = append(chain, tier.ModelID)
	}
	ac := shared
	ac.ID = "tiered"
	ac.FallbackChain = chain
	ag, err := agent.New(ac)
	if err != nil {
		return nil, fmt.Errorf("tiered agent: %w", err)
	}
	return progressive.New(progressive.Config{
		Agent:   ag,
		Tiers:   tiers,
		Emitter: emitter,
		Logger:  logger,
	})
}

// Close flushes and releases the shared sinks.
func (s *stack) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.emitter.Flush(ctx); err != nil {
		s.logger.Warn("event flush on shutdown", zap.Error(err))
	}
	if err := s.emitter.Close(); err != nil {
		s.logger.Warn("event emitter close", zap.Error(err))
	}
}
