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
	"strings"
	"sync"
	"time"

	"github.com/jevenson76/atlas-orchestrator/pkg/agent"
	"github.com/jevenson76/atlas-orchestrator/pkg/validation"
)

// reliabilityAlpha is the EMA smoothing factor for node reliability.
const reliabilityAlpha = 0.1

// NodeStatus is the node availability state.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeBusy    NodeStatus = "busy"
	NodeOffline NodeStatus = "offline"
)

// NodeCapabilities describes one worker node.
type NodeCapabilities struct {
	NodeID          string        `json:"node_id"`
	Model           string        `json:"model"`
	MaxParallel     int           `json:"max_parallel"`
	Specializations []string      `json:"specializations,omitempty"`
	Reliability     float64       `json:"reliability_score"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	Location        string        `json:"location,omitempty"`
	Status          NodeStatus    `json:"status"`
}

// NodeResult is one node's outcome for one work package.
type NodeResult struct {
	WorkPackageID string         `json:"work_package_id"`
	NodeID        string         `json:"node_id"`
	Status        PackageStatus  `json:"status"`
	Result        any            `json:"result"`
	Confidence    float64        `json:"confidence"`
	Metrics       NodeMetrics    `json:"metrics"`
	SelfCheck     *ValidationRef `json:"validation_self_check,omitempty"`
	Metadata      NodeMetadata   `json:"metadata"`
	Errors        []string       `json:"errors,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// NodeMetrics covers the invocation accounting for one package run.
type NodeMetrics struct {
	TokensUsed int           `json:"tokens_used"`
	CostUSD    float64       `json:"cost_usd"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	ModelUsed  string        `json:"model_used"`
}

// ValidationRef is the node's self-check summary.
type ValidationRef struct {
	Score  int               `json:"score"`
	Status validation.Status `json:"status"`
}

// NodeMetadata stamps provenance onto a result.
type NodeMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Checksum  string    `json:"checksum,omitempty"`
}

// Node is one worker: a resilient agent plus live capability state.
type Node struct {
	mu     sync.Mutex
	caps   NodeCapabilities
	agent  *agent.Agent
	active map[string]bool

	responses int
}

// NewNode wraps an agent as a cluster node. Reliability starts at 0.9.
func NewNode(caps NodeCapabilities, ag *agent.Agent) *Node {
	if caps.MaxParallel == 0 {
		caps.MaxParallel = 2
	}
	if caps.Reliability == 0 {
		caps.Reliability = 0.9
	}
	if caps.Status == "" {
		caps.Status = NodeOnline
	}
	return &Node{caps: caps, agent: ag, active: make(map[string]bool)}
}

// ID returns the node id.
func (n *Node) ID() string { return n.caps.NodeID }

// Capabilities returns a snapshot of the node's current capabilities.
func (n *Node) Capabilities() NodeCapabilities {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.caps
}

// Reliability returns the current EMA reliability score.
func (n *Node) Reliability() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.caps.Reliability
}

// RecordOutcome folds one execution into the reliability EMA and the average
// response time. Success trends reliability toward 1.0, failure toward 0.0.
func (n *Node) RecordOutcome(success bool, elapsed time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	target := 0.0
	if success {
		target = 1.0
	}
	n.caps.Reliability += reliabilityAlpha * (target - n.caps.Reliability)

	n.responses++
	n.caps.AvgResponseTime += (elapsed - n.caps.AvgResponseTime) / time.Duration(n.responses)
}

// Execute runs one work package on this node and self-scores the output.
func (n *Node) Execute(ctx context.Context, wp *WorkPackage, depOutputs map[string]string) *NodeResult {
	start := time.Now()
	res := &NodeResult{
		WorkPackageID: wp.ID,
		NodeID:        n.caps.NodeID,
		Metadata:      NodeMetadata{Timestamp: start, Version: "1"},
	}

	n.mu.Lock()
	n.active[wp.ID] = true
	if len(n.active) >= n.caps.MaxParallel {
		n.caps.Status = NodeBusy
	}
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.active, wp.ID)
		if len(n.active) < n.caps.MaxParallel {
			n.caps.Status = NodeOnline
		}
		n.mu.Unlock()
	}()

	out, err := n.agent.Invoke(ctx, buildPackagePrompt(wp, depOutputs), agent.InvokeOptions{})
	elapsed := time.Since(start)
	n.RecordOutcome(err == nil, elapsed)

	if err != nil {
		res.Status = StatusFailed
		res.Confidence = 0
		res.Errors = append(res.Errors, err.Error())
		res.Metrics.Duration = elapsed
		return res
	}

	res.Status = StatusCompleted
	res.Result = out.Text
	res.Metrics = NodeMetrics{
		TokensUsed: out.InputTokens + out.OutputTokens,
		CostUSD:    out.CostUSD,
		Duration:   elapsed,
		Attempts:   out.Attempts,
		ModelUsed:  out.Model,
	}
	res.SelfCheck, res.Confidence = selfCheck(ctx, wp, out.Text)
	return res
}

// selfCheck scores the node's own output. Code-shaped output goes through the
// heuristic code validator; prose is scored on substance.
func selfCheck(ctx context.Context, wp *WorkPackage, text string) (*ValidationRef, float64) {
	if looksLikeCode(text) {
		report, err := validation.CodeHeuristic(ctx, text, validation.LevelQuick, validation.Context{Task: wp.Name})
		if err == nil {
			return &ValidationRef{Score: report.Score, Status: report.Status}, float64(report.Score) / 100
		}
	}
	switch {
	case len(text) >= 500:
		return nil, 0.9
	case len(text) >= 100:
		return nil, 0.7
	case len(text) > 0:
		return nil, 0.5
	default:
		return nil, 0
	}
}

func looksLikeCode(text string) bool {
	return strings.Contains(text, "```") ||
		strings.Contains(text, "func ") ||
		strings.Contains(text, "def ") ||
		strings.Contains(text, "class ")
}

func buildPackagePrompt(wp *WorkPackage, depOutputs map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work package %s: %s\n", wp.ID, wp.Name)
	if wp.ExpectedShape != "" {
		fmt.Fprintf(&b, "Expected output: %s\n", wp.ExpectedShape)
	}
	if task, ok := wp.Inputs["task"]; ok {
		fmt.Fprintf(&b, "Overall task: %v\n", task)
	}
	for _, dep := range wp.Dependencies {
		if out, ok := depOutputs[dep]; ok {
			fmt.Fprintf(&b, "\nOutput of dependency %s:\n%s\n", dep, out)
		}
	}
	return b.String()
}

// Pool is the fixed node set, in ring order.
type Pool struct {
	nodes []*Node
	byID  map[string]*Node
}

// NewPool creates a pool. Node order defines the assignment ring.
func NewPool(nodes ...*Node) *Pool {
	p := &Pool{nodes: nodes, byID: make(map[string]*Node, len(nodes))}
	for _, n := range nodes {
		p.byID[n.ID()] = n
	}
	return p
}

// IDs returns the node ids in ring order.
func (p *Pool) IDs() []string {
	ids := make([]string, len(p.nodes))
	for i, n := range p.nodes {
		ids[i] = n.ID()
	}
	return ids
}

// Get returns the node with the given id, or nil.
func (p *Pool) Get(id string) *Node { return p.byID[id] }

// Size returns the number of nodes.
func (p *Pool) Size() int { return len(p.nodes) }
