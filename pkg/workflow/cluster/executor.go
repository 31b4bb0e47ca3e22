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
package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/events"
)

// ExecutorConfig configures the batch executor.
type ExecutorConfig struct {
	Pool *Pool
	// Redundancy is how many nodes run the plan's final package in parallel
	// so consensus has divergent results to weigh (default: 3).
	Redundancy int
	Emitter    events.Emitter
	Logger     *zap.Logger
}

// Executor runs a distribution plan batch by batch. Packages inside a batch
// run concurrently; a package falls back to its backup nodes before being
// marked terminally failed.
type Executor struct {
	cfg    ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Pool == nil || cfg.Pool.Size() == 0 {
		return nil, fmt.Errorf("executor: node pool is empty")
	}
	if cfg.Redundancy == 0 {
		cfg.Redundancy = 3
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: cfg.Logger}, nil
}

// Execute runs every batch in order and returns all node results keyed by
// package id. Non-final packages yield one result; the final package yields
// up to Redundancy results for the consensus builder.
func (e *Executor) Execute(ctx context.Context, plan *DistributionPlan) (map[string][]*NodeResult, error) {
	results := make(map[string][]*NodeResult, len(plan.Packages))
	outputs := make(map[string]string, len(plan.Packages))
	final := plan.Final()

	var mu sync.Mutex
	for _, batch := range plan.Batches {
		var wg sync.WaitGroup
		for _, id := range batch {
			wp := plan.Package(id)

			mu.Lock()
			deps, missing := gatherDeps(wp, outputs)
			mu.Unlock()
			if missing != "" {
				wp.Status = StatusFailed
				mu.Lock()
				results[wp.ID] = []*NodeResult{failedResult(wp, fmt.Sprintf("dependency %s did not complete", missing))}
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(wp *WorkPackage) {
				defer wg.Done()
				var rs []*NodeResult
				if final != nil && wp.ID == final.ID {
					rs = e.runRedundant(ctx, wp, deps)
				} else {
					rs = []*NodeResult{e.runPackage(ctx, wp, deps)}
				}
				mu.Lock()
				results[wp.ID] = rs
				if out := firstCompletedText(rs); out != "" {
					outputs[wp.ID] = out
				}
				mu.Unlock()
			}(wp)
		}
		wg.Wait()
	}
	return results, nil
}

// runPackage tries the assigned node, then each backup in order. Exhaustion
// leaves the package terminally failed.
func (e *Executor) runPackage(ctx context.Context, wp *WorkPackage, deps map[string]string) *NodeResult {
	wp.Status = StatusExecuting
	wp.StartedAt = time.Now()
	defer func() { wp.EndedAt = time.Now() }()

	var last *NodeResult
	for i, nodeID := range append([]string{wp.AssignedNode}, wp.BackupNodes...) {
		node := e.cfg.Pool.Get(nodeID)
		if node == nil {
			continue
		}
		if i > 0 {
			wp.RetryCount++
		}
		last = e.runOnNode(ctx, wp, node, deps)
		if last.Status == StatusCompleted {
			wp.Status = StatusCompleted
			return last
		}
		e.cfg.Emitter.Emit(ctx, events.Event{
			Type:      "cluster.reassigned",
			Component: "cluster",
			Severity:  events.SeverityWarn,
			Message:   fmt.Sprintf("package %s failed on node %s, trying backup", wp.ID, nodeID),
			Data:      map[string]any{"package": wp.ID, "node": nodeID, "retry": wp.RetryCount},
		})
	}

	wp.Status = StatusFailed
	if last == nil {
		last = failedResult(wp, "no nodes available")
	}
	e.logger.Warn("package failed on all nodes",
		zap.String("package", wp.ID),
		zap.Int("retries", wp.RetryCount))
	return last
}

// runRedundant fans the final package out to Redundancy distinct nodes. The
// assigned node and its ring neighbours run the same inputs independently.
// If no redundant run completes, the package's backup nodes are attempted in
// order before it is marked terminally failed.
func (e *Executor) runRedundant(ctx context.Context, wp *WorkPackage, deps map[string]string) []*NodeResult {
	wp.Status = StatusExecuting
	wp.StartedAt = time.Now()
	defer func() { wp.EndedAt = time.Now() }()

	nodeIDs := redundantSet(e.cfg.Pool.IDs(), wp.AssignedNode, e.cfg.Redundancy)
	results := make([]*NodeResult, len(nodeIDs))
	var wg sync.WaitGroup
	for i, nodeID := range nodeIDs {
		wg.Add(1)
		go func(i int, nodeID string) {
			defer wg.Done()
			results[i] = e.runOnNode(ctx, wp, e.cfg.Pool.Get(nodeID), deps)
		}(i, nodeID)
	}
	wg.Wait()

	tried := make(map[string]bool, len(nodeIDs))
	for _, r := range results {
		tried[r.NodeID] = true
		if r.Status == StatusCompleted {
			wp.Status = StatusCompleted
			return results
		}
	}

	for _, nodeID := range wp.BackupNodes {
		if tried[nodeID] {
			continue
		}
		node := e.cfg.Pool.Get(nodeID)
		if node == nil {
			continue
		}
		wp.RetryCount++
		e.cfg.Emitter.Emit(ctx, events.Event{
			Type:      "cluster.reassigned",
			Component: "cluster",
			Severity:  events.SeverityWarn,
			Message:   fmt.Sprintf("package %s failed on all redundant nodes, trying backup %s", wp.ID, nodeID),
			Data:      map[string]any{"package": wp.ID, "node": nodeID, "retry": wp.RetryCount},
		})
		r := e.runOnNode(ctx, wp, node, deps)
		results = append(results, r)
		if r.Status == StatusCompleted {
			wp.Status = StatusCompleted
			return results
		}
	}

	wp.Status = StatusFailed
	return results
}

func (e *Executor) runOnNode(ctx context.Context, wp *WorkPackage, node *Node, deps map[string]string) *NodeResult {
	runCtx := ctx
	if wp.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, wp.Timeout)
		defer cancel()
	}
	return node.Execute(runCtx, wp, deps)
}

// gatherDeps collects completed dependency outputs; the second return names
// the first missing dependency, if any.
func gatherDeps(wp *WorkPackage, outputs map[string]string) (map[string]string, string) {
	deps := make(map[string]string, len(wp.Dependencies))
	for _, dep := range wp.Dependencies {
		out, ok := outputs[dep]
		if !ok {
			return nil, dep
		}
		deps[dep] = out
	}
	return deps, ""
}

func firstCompletedText(rs []*NodeResult) string {
	for _, r := range rs {
		if r.Status == StatusCompleted {
			if s, ok := r.Result.(string); ok {
				return s
			}
		}
	}
	return ""
}

func failedResult(wp *WorkPackage, msg string) *NodeResult {
	return &NodeResult{
		WorkPackageID: wp.ID,
		NodeID:        wp.AssignedNode,
		Status:        StatusFailed,
		Errors:        []string{msg},
		Metadata:      NodeMetadata{Timestamp: time.Now(), Version: "1"},
	}
}

// redundantSet returns n distinct node ids starting at the assigned node and
// walking the ring.
func redundantSet(ring []string, assigned string, n int) []string {
	if n > len(ring) {
		n = len(ring)
	}
	start := 0
	for i, id := range ring {
		if id == assigned {
			start = i
			break
		}
	}
	out := make([]string, 0, n)
	for k := 0; k < n; k++ {
		out = append(out, ring[(start+k)%len(ring)])
	}
	return out
}
