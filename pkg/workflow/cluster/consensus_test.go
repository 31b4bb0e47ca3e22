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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeResult(nodeID string, result any, confidence float64) *NodeResult {
	return &NodeResult{
		WorkPackageID: "pkg-01",
		NodeID:        nodeID,
		Status:        StatusCompleted,
		Result:        result,
		Confidence:    confidence,
	}
}

func flatBuilder() *ConsensusBuilder {
	return &ConsensusBuilder{
		SimilarityThreshold: 0.85,
		ReliabilityOf:       func(string) float64 { return 1.0 },
	}
}

func TestSimilarityIdenticalLiterals(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("same text", "same text"))
	assert.Equal(t, 1.0, Similarity(map[string]any{"a": 1}, map[string]any{"a": 1}))
}

func TestSimilarityStrings(t *testing.T) {
	high := Similarity(
		"GET /users returns the user list as JSON",
		"GET /users returns the user list as XML",
	)
	assert.Greater(t, high, 0.85)

	low := Similarity("completely different", "zq 9941 xx")
	assert.Less(t, low, 0.5)
}

func TestSimilarityStructured(t *testing.T) {
	a := map[string]any{"method": "GET", "path": "/users", "status": float64(200)}
	b := map[string]any{"method": "GET", "path": "/users", "status": float64(201)}
	// Full key overlap, two of three values equal.
	assert.InDelta(t, 0.5*1.0+0.5*(2.0/3.0), Similarity(a, b), 1e-9)

	disjoint := Similarity(map[string]any{"x": 1}, map[string]any{"y": 2})
	assert.Equal(t, 0.0, disjoint)
}

func TestSimilarityJSONStrings(t *testing.T) {
	got := Similarity(`{"verb": "GET", "code": 200}`, `{"verb": "GET", "code": 200}`)
	assert.Equal(t, 1.0, got)
}

func TestConsensusStrongMajority(t *testing.T) {
	agreed := "endpoint returns 200 with the user object serialized as JSON"
	results := []*NodeResult{
		nodeResult("node-1", agreed, 0.9),
		nodeResult("node-2", agreed, 0.9),
		nodeResult("node-3", agreed, 0.8),
		nodeResult("node-4", "respond with 418 and an empty body, always", 0.9),
	}

	verdict, err := flatBuilder().Build(results)
	require.NoError(t, err)

	assert.True(t, verdict.Achieved)
	assert.Equal(t, ConsensusStrong, verdict.Type)
	assert.Greater(t, verdict.Level, 0.67)
	assert.Equal(t, agreed, verdict.FinalResult)

	require.Len(t, verdict.MinorityReports, 1)
	assert.Equal(t, []string{"node-4"}, verdict.MinorityReports[0].NodeIDs)
	assert.NotEmpty(t, verdict.Disagreements)
}

func TestConsensusWeakAndNone(t *testing.T) {
	weak, err := flatBuilder().Build([]*NodeResult{
		nodeResult("node-1", "alpha output of notable length here", 0.9),
		nodeResult("node-2", "alpha output of notable length here", 0.9),
		nodeResult("node-3", "totally unrelated beta answer 12345", 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, ConsensusWeak, weak.Type)
	assert.Contains(t, weak.Recommendations[0], "additional nodes")

	none, err := flatBuilder().Build([]*NodeResult{
		nodeResult("node-1", "one kind of answer entirely", 0.9),
		nodeResult("node-2", "zz 773 qq pp different thing", 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, ConsensusNone, none.Type)
	assert.False(t, none.Achieved)
	assert.Contains(t, none.Recommendations[0], "redundancy")
}

// Property: groups partition the completed results and weights sum to 1.
func TestConsensusGroupsPartitionAndWeightsSum(t *testing.T) {
	results := []*NodeResult{
		nodeResult("node-1", "answer form A, spelled out fully", 0.9),
		nodeResult("node-2", "answer form A, spelled out fully", 0.7),
		nodeResult("node-3", "a very different answer form B!!", 0.8),
		nodeResult("node-4", "yet another form C, unlike both.", 0.6),
		nodeResult("node-5", "answer form A, spelled out fully", 0.5),
	}

	verdict, err := flatBuilder().Build(results)
	require.NoError(t, err)

	seen := map[string]int{}
	total := 0.0
	for _, g := range verdict.Groups {
		total += g.Weight
		for _, m := range g.Members {
			seen[m.NodeID]++
		}
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	assert.Len(t, seen, len(results))
	for id, count := range seen {
		assert.Equal(t, 1, count, "node %s grouped more than once", id)
	}
}

func TestConsensusWeighsReliability(t *testing.T) {
	b := &ConsensusBuilder{
		SimilarityThreshold: 0.85,
		ReliabilityOf: func(nodeID string) float64 {
			if nodeID == "flaky" {
				return 0.1
			}
			return 1.0
		},
	}

	// Two flaky nodes against one reliable node: the reliable answer wins.
	verdict, err := b.Build([]*NodeResult{
		nodeResult("flaky", "the wrong answer, stated twice!", 0.9),
		nodeResult("flaky", "the wrong answer, stated twice!", 0.9),
		nodeResult("steady", "the right answer, stated once.", 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, "the right answer, stated once.", verdict.FinalResult)
}

func TestConsensusSkipsFailedResults(t *testing.T) {
	failed := &NodeResult{NodeID: "node-9", Status: StatusFailed}
	verdict, err := flatBuilder().Build([]*NodeResult{
		failed,
		nodeResult("node-1", "the only completed output here", 0.9),
	})
	require.NoError(t, err)
	assert.Len(t, verdict.Groups, 1)
	assert.Equal(t, ConsensusStrong, verdict.Type)

	_, err = flatBuilder().Build([]*NodeResult{failed})
	require.Error(t, err)
}
