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
// Package dropzone is the file-system task intake: JSON task files appear
// under tasks/, results and errors appear under results/, processed inputs
// move to archive/.
package dropzone

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/pkg/events"
	"github.com/jevenson76/atlas-orchestrator/pkg/validation"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

// taskSchema constrains the task file shape; "task" is the only required
// field.
const taskSchema = `{
	"type": "object",
	"required": ["task"],
	"properties": {
		"task":           {"type": "string", "minLength": 1},
		"workflow":       {"type": "string"},
		"priority":       {"type": "string", "enum": ["low", "normal", "high"]},
		"context":        {"type": "object"},
		"quality_target": {"type": "integer", "minimum": 0, "maximum": 100}
	}
}`

// Config configures the drop zone.
type Config struct {
	// Dir is the drop zone root; tasks/, results/, and archive/ live under
	// it and are created if missing. Required.
	Dir string
	// Router dispatches parsed tasks. Required.
	Router *workflow.Router
	// MaxConcurrent bounds in-flight workflows (default: 4). Excess files
	// stay on disk until capacity frees.
	MaxConcurrent int
	// DebounceMs coalesces rapid-fire events per file (default: 500).
	DebounceMs int
	// OnResult is called after every completed workflow, before the input
	// is archived. Optional; used to feed the metrics store.
	OnResult func(taskID string, result *workflow.Result)
	Emitter  events.Emitter
	Logger   *zap.Logger
}

// DropZone watches tasks/ and turns each JSON file into one workflow run.
type DropZone struct {
	cfg     Config
	logger  *zap.Logger
	schema  *gojsonschema.Schema
	watcher *fsnotify.Watcher

	tasksDir   string
	resultsDir string
	archiveDir string

	sem chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]bool

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	stopMu  sync.Mutex
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates the drop zone and its directory layout.
func New(cfg Config) (*DropZone, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("dropzone: dir is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("dropzone: router is required")
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.DebounceMs == 0 {
		cfg.DebounceMs = 500
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNoOpEmitter()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dz := &DropZone{
		cfg:            cfg,
		logger:         cfg.Logger.With(zap.String("component", "dropzone")),
		tasksDir:       filepath.Join(cfg.Dir, "tasks"),
		resultsDir:     filepath.Join(cfg.Dir, "results"),
		archiveDir:     filepath.Join(cfg.Dir, "archive"),
		sem:            make(chan struct{}, cfg.MaxConcurrent),
		inflight:       make(map[string]bool),
		debounceTimers: make(map[string]*time.Timer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	for _, dir := range []string{dz.tasksDir, dz.resultsDir, dz.archiveDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("dropzone: create %s: %w", dir, err)
		}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(taskSchema))
	if err != nil {
		return nil, fmt.Errorf("dropzone: compile task schema: %w", err)
	}
	dz.schema = schema
	return dz, nil
}

// Start sweeps pre-existing task files once, then watches tasks/ until Stop.
func (d *DropZone) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dropzone: create watcher: %w", err)
	}
	if err := watcher.Add(d.tasksDir); err != nil {
		watcher.Close()
		return fmt.Errorf("dropzone: watch %s: %w", d.tasksDir, err)
	}
	d.watcher = watcher

	if _, err := d.sweep(ctx); err != nil {
		d.logger.Warn("startup sweep failed", zap.Error(err))
	}

	d.logger.Info("drop zone started",
		zap.String("tasks", d.tasksDir),
		zap.Int("max_concurrent", d.cfg.MaxConcurrent))
	go d.watchLoop(ctx)
	return nil
}

// Stop halts the watcher and waits for in-flight workflows.
func (d *DropZone) Stop() error {
	d.stopMu.Lock()
	if d.stopped {
		d.stopMu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.stopCh)
	d.stopMu.Unlock()

	if d.watcher != nil {
		<-d.doneCh
		err := d.watcher.Close()
		d.wg.Wait()
		return err
	}
	d.wg.Wait()
	return nil
}

// ProcessExisting handles every task file currently in tasks/ and returns
// the number that failed. One-shot mode; no watcher is started.
func (d *DropZone) ProcessExisting(ctx context.Context) (int, error) {
	return d.sweep(ctx)
}

func (d *DropZone) sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(d.tasksDir)
	if err != nil {
		return 0, err
	}
	failed := 0
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, entry := range entries {
		if entry.IsDir() || !isTaskFile(entry.Name()) {
			continue
		}
		path := filepath.Join(d.tasksDir, entry.Name())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok := d.process(ctx, path); !ok {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failed, nil
}

func (d *DropZone) watchLoop(ctx context.Context) {
	defer close(d.doneCh)
	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isTaskFile(filepath.Base(event.Name)) {
				continue
			}
			d.debounce(ctx, event.Name)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// debounce coalesces the create+write bursts editors and copies produce.
func (d *DropZone) debounce(ctx context.Context, path string) {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	// A stopped pending timer never fires its Done; reclaim it here so
	// Stop's Wait sees one Add per fire.
	if timer, ok := d.debounceTimers[path]; ok && timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	d.debounceTimers[path] = time.AfterFunc(
		time.Duration(d.cfg.DebounceMs)*time.Millisecond,
		func() {
			defer d.wg.Done()
			d.process(ctx, path)
			d.debounceMu.Lock()
			delete(d.debounceTimers, path)
			d.debounceMu.Unlock()
		},
	)
}

// isTaskFile accepts *.json but never result or error artifacts, so a
// misconfigured shared directory cannot feed outputs back in as inputs.
func isTaskFile(name string) bool {
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.Contains(name, "result") && !strings.Contains(name, "error")
}

// process runs one task file end to end. Returns true on a successful
// workflow, false on parse failure or workflow failure.
func (d *DropZone) process(ctx context.Context, path string) bool {
	taskID := stem(path)

	d.inflightMu.Lock()
	if d.inflight[taskID] {
		d.inflightMu.Unlock()
		return true
	}
	d.inflight[taskID] = true
	d.inflightMu.Unlock()
	defer func() {
		d.inflightMu.Lock()
		delete(d.inflight, taskID)
		d.inflightMu.Unlock()
	}()

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	if _, err := os.Stat(path); err != nil {
		// Already archived by an earlier event for the same file.
		return true
	}

	task, perr := d.parse(path, taskID)
	if perr != nil {
		d.fail(ctx, path, taskID, "", perr)
		return false
	}

	d.logger.Info("task accepted",
		zap.String("task_id", taskID),
		zap.String("workflow", task.Workflow))

	start := time.Now()
	result, err := d.cfg.Router.Route(ctx, *task)
	if err != nil {
		d.fail(ctx, path, taskID, task.Task, err)
		return false
	}

	d.writeResult(taskID, task, result, time.Since(start))
	if d.cfg.OnResult != nil {
		d.cfg.OnResult(taskID, result)
	}
	d.archive(path)
	return result.Success
}

// parse reads and validates one task file, applying defaults. Unknown
// top-level string keys pass through into the workflow context.
func (d *DropZone) parse(path, taskID string) (*workflow.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}

	verdict, err := d.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("Invalid JSON: %w", err)
	}
	if !verdict.Valid() {
		issues := make([]string, 0, len(verdict.Errors()))
		for _, e := range verdict.Errors() {
			issues = append(issues, e.String())
		}
		return nil, fmt.Errorf("Invalid JSON: %s", strings.Join(issues, "; "))
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("Invalid JSON: %w", err)
	}

	task := &workflow.Task{
		ID:        taskID,
		Task:      raw["task"].(string),
		Workflow:  workflow.NameAuto,
		Priority:  "normal",
		Context:   map[string]any{},
		CreatedAt: time.Now(),
	}
	if wf, ok := raw["workflow"].(string); ok && wf != "" {
		task.Workflow = normalizeWorkflow(wf)
	}
	if p, ok := raw["priority"].(string); ok && p != "" {
		task.Priority = p
	}
	if c, ok := raw["context"].(map[string]any); ok {
		task.Context = c
	}
	if qt, ok := raw["quality_target"].(float64); ok {
		task.QualityTarget = int(qt)
	}
	for k, v := range raw {
		switch k {
		case "task", "workflow", "priority", "context", "quality_target":
		default:
			task.Context[k] = v
		}
	}
	return task, nil
}

// normalizeWorkflow maps the file-format aliases onto registered names.
func normalizeWorkflow(name string) string {
	switch name {
	case "parallel":
		return workflow.NameParallelCluster
	case "roles", "specialized":
		return workflow.NameSpecializedRoles
	default:
		return name
	}
}

// ResultFile is the <stem>_result.json shape.
type ResultFile struct {
	TaskID          string             `json:"task_id"`
	Status          string             `json:"status"`
	Task            string             `json:"task"`
	WorkflowUsed    string             `json:"workflow_used"`
	QualityScore    int                `json:"quality_score"`
	DurationSeconds float64            `json:"duration_seconds"`
	CostUSD         float64            `json:"cost_usd"`
	CompletedAt     time.Time          `json:"completed_at"`
	Output          string             `json:"output"`
	Validation      *validation.Report `json:"validation,omitempty"`
	Metadata        map[string]any     `json:"metadata,omitempty"`
}

// ErrorFile is the <stem>_error.json shape.
type ErrorFile struct {
	TaskID   string    `json:"task_id"`
	Status   string    `json:"status"`
	Error    string    `json:"error"`
	Task     string    `json:"task,omitempty"`
	FailedAt time.Time `json:"failed_at"`
}

func (d *DropZone) writeResult(taskID string, task *workflow.Task, result *workflow.Result, elapsed time.Duration) {
	status := "success"
	if !result.Success {
		status = "failed"
	}
	out := ResultFile{
		TaskID:          taskID,
		Status:          status,
		Task:            task.Task,
		WorkflowUsed:    result.Workflow,
		QualityScore:    result.OverallQuality,
		DurationSeconds: elapsed.Seconds(),
		CostUSD:         result.TotalCostUSD,
		CompletedAt:     time.Now().UTC(),
		Output:          result.Output(),
		Validation:      lastValidation(result),
		Metadata:        result.Metadata,
	}
	d.writeJSON(filepath.Join(d.resultsDir, taskID+"_result.json"), out)
}

// fail records a parse or workflow failure and archives the input.
func (d *DropZone) fail(ctx context.Context, path, taskID, taskText string, cause error) {
	d.logger.Warn("task failed",
		zap.String("task_id", taskID),
		zap.Error(cause))
	d.cfg.Emitter.Emit(ctx, events.Event{
		Type:      events.TypeWorkflowFailed,
		Component: "dropzone",
		Severity:  events.SeverityError,
		Message:   fmt.Sprintf("task %s failed", taskID),
		Error:     cause.Error(),
	})
	d.writeJSON(filepath.Join(d.resultsDir, taskID+"_error.json"), ErrorFile{
		TaskID:   taskID,
		Status:   "failed",
		Error:    cause.Error(),
		Task:     taskText,
		FailedAt: time.Now().UTC(),
	})
	d.archive(path)
}

// writeJSON lands the payload atomically: temp file then rename.
func (d *DropZone) writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		d.logger.Error("marshal output file", zap.String("path", path), zap.Error(err))
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0640); err != nil {
		d.logger.Error("write output file", zap.String("path", path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		d.logger.Error("publish output file", zap.String("path", path), zap.Error(err))
	}
}

// archive moves the processed input out of tasks/ with a single rename.
func (d *DropZone) archive(path string) {
	dest := filepath.Join(d.archiveDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil && !os.IsNotExist(err) {
		d.logger.Error("archive task file", zap.String("path", path), zap.Error(err))
	}
}

func lastValidation(result *workflow.Result) *validation.Report {
	for i := len(result.Phases) - 1; i >= 0; i-- {
		if result.Phases[i].Validation != nil {
			return result.Phases[i].Validation
		}
	}
	return nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
