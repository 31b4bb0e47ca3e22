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
// Package cluster implements the parallel workflow: a task splitter that
// plans a dependency DAG of work packages, a node pool executing batches
// concurrently with backup reassignment, and a weighted consensus builder
// over divergent node results.
package cluster

import (
	"time"
)

// PackageType classifies a work package.
type PackageType string

const (
	PackageAnalysis   PackageType = "analysis"
	PackageGeneration PackageType = "generation"
	PackageValidation PackageType = "validation"
	PackageCompute    PackageType = "compute"
)

// PackageStatus is the work package lifecycle state.
type PackageStatus string

const (
	StatusPending   PackageStatus = "pending"
	StatusExecuting PackageStatus = "executing"
	StatusCompleted PackageStatus = "completed"
	StatusFailed    PackageStatus = "failed"
)

// ComputeEstimate is the splitter's rough sizing of a package.
type ComputeEstimate struct {
	Tokens   int `json:"tokens"`
	MemMB    int `json:"mem_mb"`
	RuntimeS int `json:"runtime_s"`
}

// WorkPackage is one unit of parallel work.
type WorkPackage struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         PackageType    `json:"type"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	// ExpectedShape describes the output the node should produce.
	ExpectedShape string          `json:"expected_output_shape,omitempty"`
	Estimate      ComputeEstimate `json:"compute_estimate"`
	AssignedNode  string          `json:"assigned_node"`
	// BackupNodes are tried in order when the assigned node fails.
	BackupNodes []string      `json:"backup_nodes,omitempty"`
	Priority    int           `json:"priority"`
	Timeout     time.Duration `json:"timeout_s"`

	Status     PackageStatus `json:"status"`
	StartedAt  time.Time     `json:"start_ts,omitempty"`
	EndedAt    time.Time     `json:"end_ts,omitempty"`
	RetryCount int           `json:"retry_count"`
}

// DistributionPlan is the splitter's output: packages plus a batched
// execution order. Batches run sequentially; packages within a batch run in
// parallel, and every dependency of a package lives in an earlier batch.
type DistributionPlan struct {
	Packages []*WorkPackage `json:"packages"`
	// Batches holds package ids, layered by dependency depth.
	Batches [][]string `json:"batches"`
}

// Package returns the package with the given id, or nil.
func (p *DistributionPlan) Package(id string) *WorkPackage {
	for _, wp := range p.Packages {
		if wp.ID == id {
			return wp
		}
	}
	return nil
}

// Final returns the last package of the last batch, the plan's critical
// output. Consensus redundancy applies to it.
func (p *DistributionPlan) Final() *WorkPackage {
	if len(p.Batches) == 0 {
		return nil
	}
	last := p.Batches[len(p.Batches)-1]
	if len(last) == 0 {
		return nil
	}
	return p.Package(last[len(last)-1])
}
