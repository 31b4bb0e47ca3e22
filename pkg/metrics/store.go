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
// Package metrics persists one line-delimited JSON record per completed
// workflow and computes roll-ups on read. No indexing, no compaction; the
// file is the database.
package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

// Record is one persisted workflow outcome.
type Record struct {
	TaskID     string           `json:"task_id,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
	Result     *workflow.Result `json:"result"`
}

// Summary is the roll-up over every stored record.
type Summary struct {
	Workflows   int            `json:"workflows"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	AvgCostUSD  float64        `json:"avg_cost_usd"`
	AvgQuality  float64        `json:"avg_quality"`
	AvgDuration time.Duration  `json:"avg_duration"`
	TotalCost   float64        `json:"total_cost_usd"`
	ByWorkflow  map[string]int `json:"by_workflow"`
}

// Store is the append-only metrics file, synchronized at the file level.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewStore creates the store, making the parent directory if needed.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("metrics: create directory: %w", err)
	}
	return &Store{path: path, logger: logger}, nil
}

// Append writes one workflow result as a single JSON line.
func (s *Store) Append(taskID string, result *workflow.Result) error {
	rec := Record{TaskID: taskID, RecordedAt: time.Now().UTC(), Result: result}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("metrics: marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("metrics: open %s: %w", s.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("metrics: append record: %w", err)
	}
	return nil
}

// Records reads every stored record in insertion order. Unparseable lines
// are skipped with a warning rather than failing the whole read.
func (s *Store) Records() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metrics: open %s: %w", s.path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warn("skipping corrupt metrics line", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("metrics: scan %s: %w", s.path, err)
	}
	return records, nil
}

// Summarize computes the roll-ups over all stored records.
func (s *Store) Summarize() (*Summary, error) {
	records, err := s.Records()
	if err != nil {
		return nil, err
	}

	sum := &Summary{ByWorkflow: make(map[string]int)}
	var qualitySamples int
	var qualityTotal, durationTotal float64
	for _, rec := range records {
		r := rec.Result
		if r == nil {
			continue
		}
		sum.Workflows++
		if r.Success {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		sum.TotalCost += r.TotalCostUSD
		durationTotal += float64(r.TotalTimeMs)
		if r.OverallQuality > 0 {
			qualityTotal += float64(r.OverallQuality)
			qualitySamples++
		}
		sum.ByWorkflow[r.Workflow]++
	}
	if sum.Workflows > 0 {
		sum.AvgCostUSD = sum.TotalCost / float64(sum.Workflows)
		sum.AvgDuration = time.Duration(durationTotal/float64(sum.Workflows)) * time.Millisecond
	}
	if qualitySamples > 0 {
		sum.AvgQuality = qualityTotal / float64(qualitySamples)
	}
	return sum, nil
}
