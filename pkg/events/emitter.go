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

	"github.com/google/uuid"
)

// Emitter is the main interface for instrumenting orchestrator operations.
//
// Thread-safe: all methods can be called concurrently. Emission never blocks
// the caller beyond enqueueing; serialization and sink writes happen on a
// background writer.
type Emitter interface {
	// StartTrace opens a trace for one workflow and returns a context
	// carrying it. Emits exactly one trace_start event.
	StartTrace(ctx context.Context, workflow string, data map[string]any) (context.Context, *Trace)

	// EndTrace closes the trace carried by ctx. Emits exactly one trace_end
	// event. Calling it without an active trace is a no-op.
	EndTrace(ctx context.Context, success bool, result map[string]any)

	// StartSpan creates a new span nested under the current span (or the
	// trace root) and returns a context containing it.
	StartSpan(ctx context.Context, name string) (context.Context, *Span)

	// EndSpan completes a span and calculates its duration.
	// Always call this via defer after StartSpan.
	EndSpan(span *Span)

	// Emit records an event, stamping it with the current trace and
	// innermost span from ctx.
	Emit(ctx context.Context, ev Event)

	// Flush forces the writer to drain pending events.
	// Blocks until drained or ctx expires. Called on graceful shutdown.
	Flush(ctx context.Context) error

	// Close stops the writer. The emitter must not be used afterwards.
	Close() error
}

type contextKey string

const (
	traceContextKey contextKey = "atlas.trace"
	spanContextKey  contextKey = "atlas.span"
)

// TraceFromContext retrieves the current trace from context, if any.
func TraceFromContext(ctx context.Context) *Trace {
	if tr, ok := ctx.Value(traceContextKey).(*Trace); ok {
		return tr
	}
	return nil
}

// SpanFromContext retrieves the current span from context, if any.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey).(*Span); ok {
		return span
	}
	return nil
}

// ContextWithTrace returns a new context with the trace attached.
func ContextWithTrace(ctx context.Context, tr *Trace) context.Context {
	return context.WithValue(ctx, traceContextKey, tr)
}

// ContextWithSpan returns a new context with the span attached.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey, span)
}

// newID returns a short unique identifier for traces, spans, and events.
func newID() string {
	return uuid.New().String()
}

// stamp fills identity and causality fields on an event from the context.
func stamp(ctx context.Context, ev *Event) {
	if ev.EventID == "" {
		ev.EventID = newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}
	if tr := TraceFromContext(ctx); tr != nil {
		ev.TraceID = tr.ID
		if ev.Workflow == "" {
			ev.Workflow = tr.Workflow
		}
	}
	if span := SpanFromContext(ctx); span != nil {
		ev.SpanID = span.SpanID
		ev.ParentSpanID = span.ParentID
	}
}
