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
	"time"
)

// NoOpEmitter discards all events. Traces and spans are still created so that
// context propagation and well-nesting hold; nothing is written anywhere.
// Use in tests or when observability is disabled.
type NoOpEmitter struct{}

// NewNoOpEmitter creates an emitter that records nothing.
func NewNoOpEmitter() *NoOpEmitter {
	return &NoOpEmitter{}
}

// StartTrace creates a trace without emitting anything.
func (e *NoOpEmitter) StartTrace(ctx context.Context, workflow string, _ map[string]any) (context.Context, *Trace) {
	tr := &Trace{ID: newID(), Workflow: workflow, StartedAt: time.Now()}
	return ContextWithTrace(ctx, tr), tr
}

// EndTrace is a no-op.
func (e *NoOpEmitter) EndTrace(context.Context, bool, map[string]any) {}

// StartSpan creates a span without emitting anything.
func (e *NoOpEmitter) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{SpanID: newID(), Name: name, StartTime: time.Now()}
	if tr := TraceFromContext(ctx); tr != nil {
		span.TraceID = tr.ID
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.ParentID = parent.SpanID
	}
	return ContextWithSpan(ctx, span), span
}

// EndSpan records the duration on the span.
func (e *NoOpEmitter) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
}

// Emit discards the event.
func (e *NoOpEmitter) Emit(context.Context, Event) {}

// Flush is a no-op.
func (e *NoOpEmitter) Flush(context.Context) error { return nil }

// Close is a no-op.
func (e *NoOpEmitter) Close() error { return nil }
