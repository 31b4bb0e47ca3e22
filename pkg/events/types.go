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
// Package events provides structured event emission with workflow traces and
// spans. Every component of the orchestrator reports through an Emitter; a
// trace groups all events for one workflow and spans nest within a trace via
// context propagation.
package events

import (
	"time"
)

// Severity classifies an event.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Well-known event types. Components may emit additional domain types;
// these are the ones the substrate itself produces or inspects.
const (
	TypeTraceStart      = "trace_start"
	TypeTraceEnd        = "trace_end"
	TypeAgentInvoked    = "agent.invoked"
	TypeAgentFailed     = "agent.failed"
	TypeRefinement      = "refinement.iteration"
	TypeModelFallback   = "model_fallback"
	TypeBudgetWarn      = "budget.warn"
	TypeBudgetExceeded  = "budget.exceeded"
	TypeWorkflowFailed  = "workflow.failed"
	TypeEmitterOverflow = "emitter.overflow"
)

// Event is one structured log record. Events are append-only; optional fields
// marshal as absent when zero.
type Event struct {
	EventID      string         `json:"event_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Type         string         `json:"type"`
	Component    string         `json:"component"`
	Severity     Severity       `json:"severity"`
	Message      string         `json:"message"`
	TraceID      string         `json:"trace_id,omitempty"`
	SpanID       string         `json:"span_id,omitempty"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Workflow     string         `json:"workflow,omitempty"`
	CostUSD      float64        `json:"cost_usd,omitempty"`
	QualityScore int            `json:"quality_score,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	Error        string         `json:"error,omitempty"`
	Stack        string         `json:"stack,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Trace groups all events for one workflow execution.
type Trace struct {
	ID        string
	Workflow  string
	StartedAt time.Time
}

// Span represents one sub-operation within a trace.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string
	Name     string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
