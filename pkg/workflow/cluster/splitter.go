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
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

// SplitterConfig tunes the task splitter.
type SplitterConfig struct {
	// DefaultTimeout applies to every package (default: 5m).
	DefaultTimeout time.Duration
	// GroupSize controls synthesized dependencies: the last package of each
	// group of this size waits on the rest of its group (default: 3).
	GroupSize int
}

// Splitter turns one task into a distribution plan over the given nodes.
type Splitter struct {
	cfg SplitterConfig
}

// NewSplitter creates a splitter.
func NewSplitter(cfg SplitterConfig) *Splitter {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.GroupSize == 0 {
		cfg.GroupSize = 3
	}
	return &Splitter{cfg: cfg}
}

var (
	splitNumberedRe = regexp.MustCompile(`(?m)(^|\s)\d+[.)]\s`)
	splitBulletRe   = regexp.MustCompile(`(?m)^\s*[-*]\s+(.+)$`)
	splitCountedRe  = regexp.MustCompile(`(?i)\b(\d+)\s+(endpoints?|components?|services?|modules?|functions?|handlers?)\b`)
	crudRe          = regexp.MustCompile(`(?i)\bcrud\b`)
)

var crudVerbs = []string{"create", "read", "update", "delete"}

// Split plans the task across the given node ids. Parallelism is capped at
// min(nodes, hint count); packages are assigned round-robin with the next two
// ring neighbours as backups. The returned plan is verified acyclic.
func (s *Splitter) Split(task workflow.Task, nodeIDs []string) (*DistributionPlan, error) {
	if len(nodeIDs) == 0 {
		return nil, fmt.Errorf("splitter: no nodes available")
	}

	parts := splitHints(task.Task)
	if len(parts) > len(nodeIDs) {
		parts = parts[:len(nodeIDs)]
	}

	plan := &DistributionPlan{}
	for i, part := range parts {
		wp := &WorkPackage{
			ID:            fmt.Sprintf("pkg-%02d", i+1),
			Name:          part,
			Type:          classifyPackage(part),
			ExpectedShape: "text",
			Estimate: ComputeEstimate{
				Tokens:   2048,
				MemMB:    256,
				RuntimeS: int(s.cfg.DefaultTimeout / time.Second),
			},
			AssignedNode: nodeIDs[i%len(nodeIDs)],
			BackupNodes:  ringBackups(nodeIDs, i, 2),
			Priority:     len(parts) - i,
			Timeout:      s.cfg.DefaultTimeout,
			Status:       StatusPending,
			Inputs:       map[string]any{"task": task.Task, "part": part},
		}
		// The closer of each group waits on the rest of its group, so
		// synthesis work can consume what the group produced.
		if g := s.cfg.GroupSize; (i+1)%g == 0 && i > 0 {
			for j := i - g + 1; j < i; j++ {
				wp.Dependencies = append(wp.Dependencies, fmt.Sprintf("pkg-%02d", j+1))
			}
			wp.Type = PackageValidation
		}
		plan.Packages = append(plan.Packages, wp)
	}

	batches, err := layer(plan.Packages)
	if err != nil {
		return nil, err
	}
	plan.Batches = batches
	return plan, nil
}

// splitHints extracts parallelizable parts from the task text. CRUD tasks
// split one package per verb; otherwise numbered or bulleted items each get
// a package, then counted nouns, then the whole task as a single package.
func splitHints(task string) []string {
	if crudRe.MatchString(task) {
		parts := make([]string, len(crudVerbs))
		for i, verb := range crudVerbs {
			parts[i] = fmt.Sprintf("%s operation: %s", verb, task)
		}
		return parts
	}

	var parts []string
	for _, m := range splitBulletRe.FindAllStringSubmatch(task, -1) {
		parts = append(parts, strings.TrimSpace(m[1]))
	}
	if len(parts) < 2 {
		parts = append(parts[:0], splitNumberedItems(task)...)
	}
	if len(parts) >= 2 {
		return parts
	}

	if m := splitCountedRe.FindStringSubmatch(task); m != nil {
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		if n >= 2 {
			parts = make([]string, n)
			for i := range parts {
				parts[i] = fmt.Sprintf("%s (part %d of %d)", task, i+1, n)
			}
			return parts
		}
	}
	return []string{task}
}

// splitNumberedItems pulls the text between numbered markers.
func splitNumberedItems(task string) []string {
	markers := splitNumberedRe.FindAllStringIndex(task, -1)
	if len(markers) < 2 {
		return nil
	}
	var items []string
	for i, m := range markers {
		end := len(task)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		item := strings.TrimSpace(task[m[1]:end])
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func classifyPackage(part string) PackageType {
	text := strings.ToLower(part)
	switch {
	case strings.Contains(text, "analy") || strings.Contains(text, "investigate"):
		return PackageAnalysis
	case strings.Contains(text, "validate") || strings.Contains(text, "verify") || strings.Contains(text, "test"):
		return PackageValidation
	case strings.Contains(text, "calculate") || strings.Contains(text, "compute"):
		return PackageCompute
	default:
		return PackageGeneration
	}
}

// ringBackups returns the next n node ids after position i in ring order,
// skipping the assigned node itself.
func ringBackups(nodeIDs []string, i, n int) []string {
	if len(nodeIDs) < 2 {
		return nil
	}
	if n > len(nodeIDs)-1 {
		n = len(nodeIDs) - 1
	}
	backups := make([]string, 0, n)
	for k := 1; k <= n; k++ {
		backups = append(backups, nodeIDs[(i+k)%len(nodeIDs)])
	}
	return backups
}

// layer performs Kahn topological layering: each batch holds the packages
// whose dependencies are all satisfied by earlier batches. A non-empty
// remainder means a dependency cycle; the error names the stuck packages.
func layer(packages []*WorkPackage) ([][]string, error) {
	remaining := make(map[string]*WorkPackage, len(packages))
	for _, wp := range packages {
		remaining[wp.ID] = wp
	}

	done := make(map[string]bool, len(packages))
	var batches [][]string
	for len(remaining) > 0 {
		var batch []string
		for id, wp := range remaining {
			ready := true
			for _, dep := range wp.Dependencies {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			stuck := make([]string, 0, len(remaining))
			for id := range remaining {
				stuck = append(stuck, id)
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("splitter: dependency cycle among packages %s", strings.Join(stuck, ", "))
		}
		sort.Strings(batch)
		for _, id := range batch {
			done[id] = true
			delete(remaining, id)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}
