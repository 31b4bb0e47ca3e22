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
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Consensus strength thresholds over the top group's normalized weight.
const (
	strongConsensusWeight = 0.67
	weakConsensusWeight   = 0.5
	minorityReportWeight  = 0.1
)

// ConsensusType classifies the agreement strength.
type ConsensusType string

const (
	ConsensusStrong ConsensusType = "strong"
	ConsensusWeak   ConsensusType = "weak"
	ConsensusNone   ConsensusType = "none"
)

// Group is one cluster of mutually similar node results.
type Group struct {
	Members []*NodeResult `json:"members"`
	// Weight is the normalized sum of member reliability x confidence.
	Weight float64 `json:"weight"`
}

// NodeIDs lists the member node ids.
func (g *Group) NodeIDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.NodeID
	}
	return ids
}

// MinorityReport records a non-majority group heavy enough to surface.
type MinorityReport struct {
	NodeIDs []string `json:"node_ids"`
	Weight  float64  `json:"weight"`
	Result  any      `json:"result"`
}

// ConsensusResult is the builder's verdict over one package's node results.
type ConsensusResult struct {
	Achieved bool          `json:"achieved"`
	Type     ConsensusType `json:"type"`
	// Level is the top group's normalized weight.
	Level           float64          `json:"level"`
	FinalResult     any              `json:"final_result"`
	Confidence      float64          `json:"confidence"`
	Groups          []*Group         `json:"groups"`
	Disagreements   []string         `json:"disagreements,omitempty"`
	MinorityReports []MinorityReport `json:"minority_reports,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
}

// ConsensusBuilder groups node results by similarity and weighs the groups by
// member reliability and confidence.
type ConsensusBuilder struct {
	// SimilarityThreshold is the pairwise bar for sharing a group
	// (default: 0.85).
	SimilarityThreshold float64
	// ReliabilityOf maps a node id to its current reliability; defaults to a
	// flat 1.0 when nil.
	ReliabilityOf func(nodeID string) float64
}

// NewConsensusBuilder creates a builder reading reliabilities from the pool.
func NewConsensusBuilder(pool *Pool) *ConsensusBuilder {
	return &ConsensusBuilder{
		SimilarityThreshold: 0.85,
		ReliabilityOf: func(nodeID string) float64 {
			if n := pool.Get(nodeID); n != nil {
				return n.Reliability()
			}
			return 1.0
		},
	}
}

// Build runs grouping, weighting, and synthesis over the completed results.
// Failed results are excluded before grouping.
func (b *ConsensusBuilder) Build(results []*NodeResult) (*ConsensusResult, error) {
	threshold := b.SimilarityThreshold
	if threshold == 0 {
		threshold = 0.85
	}

	completed := make([]*NodeResult, 0, len(results))
	for _, r := range results {
		if r.Status == StatusCompleted {
			completed = append(completed, r)
		}
	}
	if len(completed) == 0 {
		return nil, fmt.Errorf("consensus: no completed results to weigh")
	}

	// Greedy grouping: the first unassigned result seeds a group and claims
	// everything similar enough to it.
	var groups []*Group
	assigned := make(map[*NodeResult]bool, len(completed))
	for _, seed := range completed {
		if assigned[seed] {
			continue
		}
		g := &Group{Members: []*NodeResult{seed}}
		assigned[seed] = true
		for _, other := range completed {
			if assigned[other] {
				continue
			}
			if Similarity(seed.Result, other.Result) > threshold {
				g.Members = append(g.Members, other)
				assigned[other] = true
			}
		}
		groups = append(groups, g)
	}

	var total float64
	for _, g := range groups {
		for _, m := range g.Members {
			g.Weight += b.reliability(m.NodeID) * m.Confidence
		}
		total += g.Weight
	}
	if total > 0 {
		for _, g := range groups {
			g.Weight /= total
		}
	} else {
		// All confidences zero; weigh groups by size instead.
		for _, g := range groups {
			g.Weight = float64(len(g.Members)) / float64(len(completed))
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Weight > groups[j].Weight })

	top := groups[0]
	res := &ConsensusResult{
		Level:       top.Weight,
		FinalResult: top.Members[0].Result,
		Groups:      groups,
	}
	switch {
	case top.Weight > strongConsensusWeight:
		res.Type, res.Achieved = ConsensusStrong, true
	case top.Weight > weakConsensusWeight:
		res.Type, res.Achieved = ConsensusWeak, true
	default:
		res.Type = ConsensusNone
	}

	var confSum float64
	for _, m := range top.Members {
		confSum += m.Confidence
	}
	res.Confidence = confSum / float64(len(top.Members))

	if len(groups) > 1 {
		res.Disagreements = disagreements(top, groups[1])
		for _, g := range groups[1:] {
			if g.Weight > minorityReportWeight {
				res.MinorityReports = append(res.MinorityReports, MinorityReport{
					NodeIDs: g.NodeIDs(),
					Weight:  g.Weight,
					Result:  g.Members[0].Result,
				})
			}
		}
	}

	res.Recommendations = recommend(res)
	return res, nil
}

func (b *ConsensusBuilder) reliability(nodeID string) float64 {
	if b.ReliabilityOf == nil {
		return 1.0
	}
	return b.ReliabilityOf(nodeID)
}

// recommend derives rule-based follow-ups from the verdict.
func recommend(res *ConsensusResult) []string {
	var recs []string
	switch res.Type {
	case ConsensusNone:
		recs = append(recs, "no consensus reached; re-run with more node redundancy")
	case ConsensusWeak:
		recs = append(recs, "weak consensus; validate the result with additional nodes")
	}
	if len(res.Disagreements) >= 3 {
		recs = append(recs, "high disagreement count; the task specification may be ambiguous")
	}
	return recs
}

// disagreements records the pairwise differences between the top two groups:
// differing keys for structured outputs, a summary line otherwise.
func disagreements(a, b *Group) []string {
	am, aok := asMap(a.Members[0].Result)
	bm, bok := asMap(b.Members[0].Result)
	if aok && bok {
		var out []string
		keys := unionKeys(am, bm)
		for _, k := range keys {
			av, aHas := am[k]
			bv, bHas := bm[k]
			switch {
			case !aHas:
				out = append(out, fmt.Sprintf("key %q only in minority result", k))
			case !bHas:
				out = append(out, fmt.Sprintf("key %q only in majority result", k))
			case !reflect.DeepEqual(av, bv):
				out = append(out, fmt.Sprintf("key %q differs between groups", k))
			}
		}
		return out
	}
	return []string{fmt.Sprintf("groups produced divergent outputs (similarity %.2f)",
		Similarity(a.Members[0].Result, b.Members[0].Result))}
}

// Similarity compares two node outputs in [0,1]. Structured outputs use
// Jaccard over keys combined with value equality on the intersection; strings
// use a character-aligned match ratio. Identical values score 1.0.
func Similarity(a, b any) float64 {
	if reflect.DeepEqual(a, b) {
		return 1.0
	}
	am, aok := asMap(a)
	bm, bok := asMap(b)
	if aok && bok {
		return structuredSimilarity(am, bm)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return matchRatio(as, bs)
	}
	return 0
}

func structuredSimilarity(a, b map[string]any) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter, union, equal := 0, 0, 0
	seen := make(map[string]bool, len(a)+len(b))
	for k, av := range a {
		seen[k] = true
		union++
		if bv, ok := b[k]; ok {
			inter++
			if reflect.DeepEqual(av, bv) {
				equal++
			}
		}
	}
	for k := range b {
		if !seen[k] {
			union++
		}
	}
	jaccard := float64(inter) / float64(union)
	valueEq := 0.0
	if inter > 0 {
		valueEq = float64(equal) / float64(inter)
	}
	return 0.5*jaccard + 0.5*valueEq
}

// matchRatio is the classic 2*M/T similarity over a character diff.
func matchRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a)+len(b) == 0 {
		return 1.0
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	common := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
		}
	}
	return 2 * float64(common) / float64(len(a)+len(b))
}

// asMap interprets a result as a structured output: either a map directly or
// a string holding a JSON object.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "{") {
			return nil, false
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, false
		}
		return m, true
	default:
		return nil, false
	}
}

func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
