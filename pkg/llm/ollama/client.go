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
// Package ollama adapts locally served models via the Ollama chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jevenson76/atlas-orchestrator/pkg/llm"
)

const (
	// DefaultEndpoint is the local Ollama server.
	DefaultEndpoint = "http://localhost:11434"
	// DefaultTimeout is generous because local models are slow to warm.
	DefaultTimeout = 300 * time.Second
)

// Config holds configuration for the Ollama adapter.
type Config struct {
	Endpoint string        // Default: OLLAMA_HOST, then http://localhost:11434
	Timeout  time.Duration // Default: 300s
}

// Client implements llm.Adapter against a local Ollama server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates the adapter.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		if env := os.Getenv("OLLAMA_HOST"); env != "" {
			cfg.Endpoint = env
		} else {
			cfg.Endpoint = DefaultEndpoint
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	// Ollama reports token counts as eval metrics.
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	DoneReason      string `json:"done_reason"`
	Error           string `json:"error"`
}

// Name returns the provider family name.
func (c *Client) Name() string { return "ollama" }

// Invoke sends one non-streaming request to /api/chat.
func (c *Client) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return nil, llm.NewInvokeError("ollama", llm.ErrKindInvalidRequest, 0,
			fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewInvokeError("ollama", llm.ErrKindInvalidRequest, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewInvokeError("ollama", llm.Classify(err), 0, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, llm.NewInvokeError("ollama", llm.ErrKindConnection, httpResp.StatusCode,
			fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, llm.NewInvokeError("ollama", llm.ClassifyStatus(httpResp.StatusCode),
			httpResp.StatusCode, fmt.Errorf("unexpected status: %s", string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, llm.NewInvokeError("ollama", llm.ErrKindOther, httpResp.StatusCode,
			fmt.Errorf("decode response: %w", err))
	}
	if parsed.Error != "" {
		return nil, llm.NewInvokeError("ollama", llm.Classify(fmt.Errorf("%s", parsed.Error)),
			httpResp.StatusCode, fmt.Errorf("%s", parsed.Error))
	}

	return &llm.Result{
		Text:         parsed.Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
		StopReason:   parsed.DoneReason,
		Duration:     time.Since(start),
	}, nil
}
