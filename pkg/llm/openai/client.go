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
// Package openai adapts the OpenAI Chat Completions API.
package openai

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
	// DefaultEndpoint is the Chat Completions endpoint.
	DefaultEndpoint = "https://api.openai.com/v1/chat/completions"
	// DefaultMaxTokens is the per-request output ceiling.
	DefaultMaxTokens = 4096
	// DefaultTimeout bounds one API round trip.
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey   string        // Default: OPENAI_API_KEY
	Endpoint string        // Default: https://api.openai.com/v1/chat/completions
	Timeout  time.Duration // Default: 120s
}

// Client implements llm.Adapter against the Chat Completions API.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates the adapter.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// chatMessage is one message in the Chat Completions request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the Chat Completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// chatResponse is the subset of the response body we consume.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Name returns the provider family name.
func (c *Client) Name() string { return "openai" }

// Invoke sends one request to the Chat Completions API.
func (c *Client) Invoke(ctx context.Context, req llm.Request) (*llm.Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, llm.NewInvokeError("openai", llm.ErrKindInvalidRequest, 0,
			fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewInvokeError("openai", llm.ErrKindInvalidRequest, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewInvokeError("openai", llm.Classify(err), 0, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, llm.NewInvokeError("openai", llm.ErrKindConnection, httpResp.StatusCode,
			fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		kind := llm.ClassifyStatus(httpResp.StatusCode)
		var parsed chatResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			return nil, llm.NewInvokeError("openai", kind, httpResp.StatusCode,
				fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message))
		}
		return nil, llm.NewInvokeError("openai", kind, httpResp.StatusCode,
			fmt.Errorf("unexpected status: %s", string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, llm.NewInvokeError("openai", llm.ErrKindOther, httpResp.StatusCode,
			fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, llm.NewInvokeError("openai", llm.ErrKindOther, httpResp.StatusCode,
			fmt.Errorf("response contained no choices"))
	}

	return &llm.Result{
		Text:         parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		StopReason:   parsed.Choices[0].FinishReason,
		Duration:     time.Since(start),
	}, nil
}
