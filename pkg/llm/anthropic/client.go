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
// Package anthropic adapts the Anthropic Messages API via the official SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jevenson76/atlas-orchestrator/pkg/llm"
)

const (
	// DefaultMaxTokens is the per-request output ceiling.
	DefaultMaxTokens = 4096
	// DefaultTimeout bounds one API round trip.
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey  string        // Default: ANTHROPIC_API_KEY
	BaseURL string        // Default: SDK default endpoint
	Timeout time.Duration // Default: 120s
}

// Client implements llm.Adapter against api.anthropic.com.
type Client struct {
	client anthropic.Client
}

// NewClient creates the adapter. A missing API key is an auth error at
// invocation time, not a construction error, so daemons can start without
// every provider configured.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{client: anthropic.NewClient(opts...)}
}

// Name returns the provider family name.
func (c *Client) Name() string { return "anthropic" }

// Invoke sends one request to the Messages API.
func (c *Client) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify("anthropic", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.Result{
		Text:         text.String(),
		Model:        string(message.Model),
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		StopReason:   string(message.StopReason),
		Duration:     time.Since(start),
	}, nil
}

// classify maps SDK errors onto the shared taxonomy, preferring the HTTP
// status when the SDK surfaces one.
func classify(provider string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.NewInvokeError(provider, llm.ClassifyStatus(apiErr.StatusCode), apiErr.StatusCode, err)
	}
	return llm.NewInvokeError(provider, llm.Classify(err), 0, fmt.Errorf("invocation failed: %w", err))
}
