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
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileEmitterConfig configures the file-backed emitter.
type FileEmitterConfig struct {
	// LogDir is where the daily and stream sinks live. Required.
	LogDir string

	// QueueSize bounds the pending-event queue (default: 1024).
	// On overflow the oldest non-error event is dropped.
	QueueSize int

	// Logger for emitter-internal diagnostics.
	Logger *zap.Logger
}

// FileEmitter writes events to two line-delimited JSON sinks: a date-rotated
// daily log (events-YYYYMMDD.jsonl) and a stream log (stream.jsonl) for
// tailing. Serialization and writes happen on a background writer so emission
// never blocks the caller's critical path.
type FileEmitter struct {
	cfg    FileEmitterConfig
	logger *zap.Logger

	mu      sync.Mutex
	queue   []Event
	dropped int64
	notify  chan struct{}
	writing bool

	stream      *os.File
	daily       *os.File
	dailyDate   string
	sinkErrOnce sync.Once

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
	stopMu  sync.Mutex
}

// NewFileEmitter creates the emitter and starts its writer goroutine.
// Returns an error if the log directory cannot be created or the stream sink
// cannot be opened.
func NewFileEmitter(cfg FileEmitterConfig) (*FileEmitter, error) {
	if cfg.LogDir == "" {
		return nil, fmt.Errorf("events: log directory is required")
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("events: failed to create log directory: %w", err)
	}

	stream, err := os.OpenFile(filepath.Join(cfg.LogDir, "stream.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events: failed to open stream sink: %w", err)
	}

	e := &FileEmitter{
		cfg:    cfg,
		logger: cfg.Logger,
		notify: make(chan struct{}, 1),
		stream: stream,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go e.writeLoop()
	return e, nil
}

// StartTrace opens a trace and emits its trace_start event.
func (e *FileEmitter) StartTrace(ctx context.Context, workflow string, data map[string]any) (context.Context, *Trace) {
	tr := &Trace{ID: newID(), Workflow: workflow, StartedAt: time.Now()}
	ctx = ContextWithTrace(ctx, tr)
	e.Emit(ctx, Event{
		Type:      TypeTraceStart,
		Component: "emitter",
		Message:   fmt.Sprintf("trace started for workflow %s", workflow),
		Data:      data,
	})
	return ctx, tr
}

// EndTrace emits the trace_end event for the trace carried by ctx.
func (e *FileEmitter) EndTrace(ctx context.Context, success bool, result map[string]any) {
	tr := TraceFromContext(ctx)
	if tr == nil {
		return
	}
	sev := SeverityInfo
	if !success {
		sev = SeverityWarn
	}
	// Stamp against a span-free context so trace_end sits at the trace root.
	e.Emit(ContextWithTrace(context.Background(), tr), Event{
		Type:       TypeTraceEnd,
		Component:  "emitter",
		Severity:   sev,
		Message:    fmt.Sprintf("trace ended for workflow %s", tr.Workflow),
		DurationMs: time.Since(tr.StartedAt).Milliseconds(),
		Data:       result,
	})
}

// StartSpan creates a span nested under the current one.
func (e *FileEmitter) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{SpanID: newID(), Name: name, StartTime: time.Now()}
	if tr := TraceFromContext(ctx); tr != nil {
		span.TraceID = tr.ID
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.ParentID = parent.SpanID
	}
	return ContextWithSpan(ctx, span), span
}

// EndSpan completes a span and records its duration.
func (e *FileEmitter) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
}

// Emit stamps and enqueues one event. Never blocks: on a full queue the
// oldest non-error event is dropped and a single overflow meta-event is
// coalesced onto the queue tail.
func (e *FileEmitter) Emit(ctx context.Context, ev Event) {
	stamp(ctx, &ev)

	e.mu.Lock()
	if len(e.queue) >= e.cfg.QueueSize {
		e.dropOldestLocked()
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// dropOldestLocked evicts the oldest non-error event, then appends or updates
// the overflow meta-event. Caller holds e.mu.
func (e *FileEmitter) dropOldestLocked() {
	victim := -1
	for i, ev := range e.queue {
		if ev.Severity != SeverityError && ev.Type != TypeEmitterOverflow {
			victim = i
			break
		}
	}
	if victim < 0 {
		// Queue is all errors; evict the head anyway to stay bounded.
		victim = 0
	}
	e.queue = append(e.queue[:victim], e.queue[victim+1:]...)
	e.dropped++

	// Coalesce: update the trailing overflow meta-event rather than stacking.
	if n := len(e.queue); n > 0 && e.queue[n-1].Type == TypeEmitterOverflow {
		e.queue[n-1].Data["dropped_total"] = e.dropped
		e.queue[n-1].Timestamp = time.Now().UTC()
		return
	}
	e.queue = append(e.queue, Event{
		EventID:   newID(),
		Timestamp: time.Now().UTC(),
		Type:      TypeEmitterOverflow,
		Component: "emitter",
		Severity:  SeverityWarn,
		Message:   "event queue overflow, oldest non-error events dropped",
		Data:      map[string]any{"dropped_total": e.dropped},
	})
}

// Flush blocks until the queue is drained or ctx expires.
func (e *FileEmitter) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		e.mu.Lock()
		idle := len(e.queue) == 0 && !e.writing
		e.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close drains pending events and stops the writer.
func (e *FileEmitter) Close() error {
	e.stopMu.Lock()
	if e.stopped {
		e.stopMu.Unlock()
		return nil
	}
	e.stopped = true
	e.stopMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = e.Flush(ctx)

	close(e.stopCh)
	<-e.doneCh

	if e.daily != nil {
		_ = e.daily.Close()
	}
	return e.stream.Close()
}

// writeLoop is the single sink writer.
func (e *FileEmitter) writeLoop() {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			e.drain()
			return
		case <-e.notify:
			e.drain()
		}
	}
}

// drain writes everything currently queued.
func (e *FileEmitter) drain() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.writing = false
			e.mu.Unlock()
			return
		}
		batch := e.queue
		e.queue = nil
		e.writing = true
		e.mu.Unlock()

		for _, ev := range batch {
			e.writeEvent(ev)
		}
	}
}

// writeEvent serializes one event and appends it to both sinks.
// Sink failures are logged once and then swallowed; emission is not retried.
func (e *FileEmitter) writeEvent(ev Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		e.logSinkError(fmt.Errorf("marshal event %s: %w", ev.EventID, err))
		return
	}
	line = append(line, '\n')

	if daily := e.dailySink(ev.Timestamp); daily != nil {
		if _, err := daily.Write(line); err != nil {
			e.logSinkError(fmt.Errorf("daily sink write: %w", err))
		}
	}
	if _, err := e.stream.Write(line); err != nil {
		e.logSinkError(fmt.Errorf("stream sink write: %w", err))
	}
}

// dailySink returns the handle for the event's date, rotating when the day
// changes. Only the writer goroutine touches these fields.
func (e *FileEmitter) dailySink(ts time.Time) *os.File {
	date := ts.Format("20060102")
	if e.daily != nil && e.dailyDate == date {
		return e.daily
	}
	if e.daily != nil {
		_ = e.daily.Close()
		e.daily = nil
	}
	f, err := os.OpenFile(filepath.Join(e.cfg.LogDir, "events-"+date+".jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		e.logSinkError(fmt.Errorf("open daily sink: %w", err))
		return nil
	}
	e.daily = f
	e.dailyDate = date
	return f
}

// logSinkError reports the first sink failure and swallows the rest.
func (e *FileEmitter) logSinkError(err error) {
	e.sinkErrOnce.Do(func() {
		e.logger.Error("event sink failure, further sink errors suppressed", zap.Error(err))
	})
}
