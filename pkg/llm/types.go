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
// Package llm defines the provider-neutral invocation contract. Adapters for
// concrete providers live in subpackages and are selected by model id prefix.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is one provider-neutral model invocation.
type Request struct {
	Model       string  `json:"model"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Result is the normalized response from any provider.
type Result struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	StopReason   string        `json:"stop_reason,omitempty"`
	Duration     time.Duration `json:"-"`
}

// Adapter is implemented by each provider subpackage.
type Adapter interface {
	// Name returns the provider family name.
	Name() string
	// Invoke sends one request and returns the normalized result.
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// ErrorKind classifies invocation failures so callers can choose between
// retrying, backing off, or falling back to another model.
type ErrorKind string

const (
	ErrKindRateLimit      ErrorKind = "rate_limit"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindConnection     ErrorKind = "connection"
	ErrKindAuth           ErrorKind = "auth"
	ErrKindInvalidRequest ErrorKind = "invalid_request"
	ErrKindServer         ErrorKind = "server_error"
	ErrKindOther          ErrorKind = "other"

	// Orchestrator-level kinds; never produced by adapters.
	ErrKindBudgetExceeded   ErrorKind = "budget_exceeded"
	ErrKindSecurityRejected ErrorKind = "security_rejected"
	ErrKindCircuitOpen      ErrorKind = "circuit_open"
)

// Retryable reports whether a failure of this kind may succeed on retry
// against the same model.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindRateLimit, ErrKindTimeout, ErrKindConnection, ErrKindServer:
		return true
	default:
		return false
	}
}

// InvokeError wraps a provider failure with its classification.
type InvokeError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *InvokeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *InvokeError) Unwrap() error { return e.Err }

// NewInvokeError builds a classified provider error.
func NewInvokeError(provider string, kind ErrorKind, statusCode int, err error) *InvokeError {
	return &InvokeError{Kind: kind, Provider: provider, StatusCode: statusCode, Err: err}
}

// KindOf extracts the classification from an error chain, defaulting to other.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ie *InvokeError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindOther
}
