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
package dropzone

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

type stubOrchestrator struct {
	name  string
	tasks []workflow.Task
	fail  bool
}

func (s *stubOrchestrator) Name() string { return s.name }
func (s *stubOrchestrator) Execute(_ context.Context, task workflow.Task) (*workflow.Result, error) {
	s.tasks = append(s.tasks, task)
	res := &workflow.Result{
		Task:      task.Task,
		Workflow:  s.name,
		Success:   !s.fail,
		StartedAt: time.Now(),
		Phases: []workflow.PhaseResult{
			{PhaseName: "only", Success: !s.fail, Output: "the artifact", CostUSD: 0.02, TokensUsed: 300},
		},
		OverallQuality: 81,
	}
	res.Finalize()
	return res, nil
}

func newZone(t *testing.T, stub *stubOrchestrator) (*DropZone, string) {
	t.Helper()
	dir := t.TempDir()
	router := workflow.NewRouter(workflow.RouterConfig{})
	router.Register(stub)
	dz, err := New(Config{Dir: dir, Router: router})
	require.NoError(t, err)
	return dz, dir
}

func dropTask(t *testing.T, dir, name string, body any) {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case string:
		data = []byte(b)
	default:
		var err error
		data, err = json.Marshal(b)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks", name), data, 0640))
}

func TestProcessExistingHappyPath(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameProgressive}
	dz, dir := newZone(t, stub)

	dropTask(t, dir, "greet.json", map[string]any{
		"task":     "write a greeting",
		"workflow": "progressive",
	})

	failed, err := dz.ProcessExisting(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)

	data, err := os.ReadFile(filepath.Join(dir, "results", "greet_result.json"))
	require.NoError(t, err)
	var res ResultFile
	require.NoError(t, json.Unmarshal(data, &res))

	assert.Equal(t, "greet", res.TaskID)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, workflow.NameProgressive, res.WorkflowUsed)
	assert.Equal(t, 81, res.QualityScore)
	assert.Equal(t, "the artifact", res.Output)
	assert.InDelta(t, 0.02, res.CostUSD, 1e-9)
	assert.False(t, res.CompletedAt.IsZero())

	// Input moved to archive, gone from tasks.
	assert.NoFileExists(t, filepath.Join(dir, "tasks", "greet.json"))
	assert.FileExists(t, filepath.Join(dir, "archive", "greet.json"))
}

func TestBadJSONWritesErrorFile(t *testing.T) {
	dz, dir := newZone(t, &stubOrchestrator{name: workflow.NameProgressive})

	dropTask(t, dir, "bad.json", `{ not json`)

	failed, err := dz.ProcessExisting(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	data, err := os.ReadFile(filepath.Join(dir, "results", "bad_error.json"))
	require.NoError(t, err)
	var ef ErrorFile
	require.NoError(t, json.Unmarshal(data, &ef))

	assert.Equal(t, "bad", ef.TaskID)
	assert.Equal(t, "failed", ef.Status)
	assert.Contains(t, ef.Error, "Invalid JSON")

	assert.NoFileExists(t, filepath.Join(dir, "tasks", "bad.json"))
	assert.FileExists(t, filepath.Join(dir, "archive", "bad.json"))
}

func TestMissingTaskFieldRejected(t *testing.T) {
	dz, dir := newZone(t, &stubOrchestrator{name: workflow.NameProgressive})

	dropTask(t, dir, "empty.json", map[string]any{"workflow": "progressive"})

	failed, err := dz.ProcessExisting(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.FileExists(t, filepath.Join(dir, "results", "empty_error.json"))
}

func TestDefaultsAndPassthroughContext(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameProgressive}
	dz, dir := newZone(t, stub)

	dropTask(t, dir, "ctx.json", map[string]any{
		"task":     "do the thing",
		"workflow": "progressive",
		"language": "go",
		"repo":     "atlas",
	})

	_, err := dz.ProcessExisting(context.Background())
	require.NoError(t, err)

	require.Len(t, stub.tasks, 1)
	got := stub.tasks[0]
	assert.Equal(t, "ctx", got.ID)
	assert.Equal(t, "normal", got.Priority)
	assert.Equal(t, "go", got.Context["language"])
	assert.Equal(t, "atlas", got.Context["repo"])
}

func TestParallelAliasNormalized(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameParallelCluster}
	dz, dir := newZone(t, stub)

	dropTask(t, dir, "par.json", map[string]any{"task": "split me", "workflow": "parallel"})

	failed, err := dz.ProcessExisting(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)
	require.Len(t, stub.tasks, 1)
}

func TestResultAndErrorFilesIgnoredAsInput(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameProgressive}
	dz, dir := newZone(t, stub)

	dropTask(t, dir, "x_result.json", map[string]any{"task": "should be ignored"})
	dropTask(t, dir, "y_error.json", map[string]any{"task": "also ignored"})

	failed, err := dz.ProcessExisting(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Empty(t, stub.tasks)
	// Ignored files stay in place.
	assert.FileExists(t, filepath.Join(dir, "tasks", "x_result.json"))
}

func TestFailedWorkflowCountsAsFailure(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameProgressive, fail: true}
	dz, dir := newZone(t, stub)

	dropTask(t, dir, "doomed.json", map[string]any{"task": "fail me", "workflow": "progressive"})

	failed, err := dz.ProcessExisting(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	// A failed workflow still yields a result file, marked failed.
	data, rerr := os.ReadFile(filepath.Join(dir, "results", "doomed_result.json"))
	require.NoError(t, rerr)
	var res ResultFile
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "failed", res.Status)
}

func TestOnResultHookFires(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameProgressive}
	dir := t.TempDir()
	router := workflow.NewRouter(workflow.RouterConfig{})
	router.Register(stub)

	var gotID string
	var gotResult *workflow.Result
	dz, err := New(Config{
		Dir:    dir,
		Router: router,
		OnResult: func(taskID string, result *workflow.Result) {
			gotID = taskID
			gotResult = result
		},
	})
	require.NoError(t, err)

	dropTask(t, dir, "hooked.json", map[string]any{"task": "observe me", "workflow": "progressive"})

	_, err = dz.ProcessExisting(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "hooked", gotID)
	require.NotNil(t, gotResult)
	assert.True(t, gotResult.Success)
}

func TestWatcherPicksUpNewFile(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameProgressive}
	dir := t.TempDir()
	router := workflow.NewRouter(workflow.RouterConfig{})
	router.Register(stub)
	dz, err := New(Config{Dir: dir, Router: router, DebounceMs: 20})
	require.NoError(t, err)

	require.NoError(t, dz.Start(context.Background()))
	defer dz.Stop()

	dropTask(t, dir, "late.json", map[string]any{"task": "arrived after start", "workflow": "progressive"})

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "results", "late_result.json"))
		return err == nil
	}, 5*time.Second, 25*time.Millisecond)

	assert.FileExists(t, filepath.Join(dir, "archive", "late.json"))
}

// The watcher coalesces the create/write burst a single drop produces into
// one debounce fire. Stop must still return once that fire drains.
func TestStopDrainsCoalescedDebounce(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameProgressive}
	dir := t.TempDir()
	router := workflow.NewRouter(workflow.RouterConfig{})
	router.Register(stub)
	dz, err := New(Config{Dir: dir, Router: router, DebounceMs: 20})
	require.NoError(t, err)

	dropTask(t, dir, "burst.json", map[string]any{"task": "debounce me", "workflow": "progressive"})

	path := filepath.Join(dir, "tasks", "burst.json")
	dz.debounce(context.Background(), path)
	dz.debounce(context.Background(), path)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "results", "burst_result.json"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- dz.Stop() }()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after coalesced debounce")
	}

	require.Len(t, stub.tasks, 1)
}

// After processing, the input lives in exactly one of tasks/ or archive/.
func TestArchiveMoveIsExclusive(t *testing.T) {
	stub := &stubOrchestrator{name: workflow.NameProgressive}
	dz, dir := newZone(t, stub)

	dropTask(t, dir, "move.json", map[string]any{"task": "move me", "workflow": "progressive"})

	_, err := dz.ProcessExisting(context.Background())
	require.NoError(t, err)

	inTasks := fileExists(filepath.Join(dir, "tasks", "move.json"))
	inArchive := fileExists(filepath.Join(dir, "archive", "move.json"))
	assert.True(t, inTasks != inArchive, "exactly one copy must exist")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
