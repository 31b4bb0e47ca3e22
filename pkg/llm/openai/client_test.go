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
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jevenson76/atlas-orchestrator/pkg/llm"
)

func TestInvokeSuccess(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "sk-test", Endpoint: server.URL})
	res, err := c.Invoke(context.Background(), llm.Request{
		Model:       "gpt-4o",
		System:      "be brief",
		Prompt:      "say hello",
		Temperature: 0.4,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, 12, res.InputTokens)
	assert.Equal(t, 3, res.OutputTokens)
	assert.Equal(t, "stop", res.StopReason)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.InDelta(t, 0.4, gotReq.Temperature, 1e-9)
}

func TestInvokeClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   llm.ErrorKind
	}{
		{http.StatusTooManyRequests, llm.ErrKindRateLimit},
		{http.StatusUnauthorized, llm.ErrKindAuth},
		{http.StatusBadRequest, llm.ErrKindInvalidRequest},
		{http.StatusInternalServerError, llm.ErrKindServer},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"message": "nope", "type": "test_error"},
			})
		}))

		c := NewClient(Config{APIKey: "sk-test", Endpoint: server.URL})
		_, err := c.Invoke(context.Background(), llm.Request{Model: "gpt-4", Prompt: "x"})
		require.Error(t, err, "status %d", tt.status)

		var ie *llm.InvokeError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, tt.want, ie.Kind, "status %d", tt.status)
		assert.Equal(t, tt.status, ie.StatusCode)
		server.Close()
	}
}

func TestInvokeConnectionRefused(t *testing.T) {
	c := NewClient(Config{APIKey: "sk-test", Endpoint: "http://127.0.0.1:1"})
	_, err := c.Invoke(context.Background(), llm.Request{Model: "gpt-4", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, llm.ErrKindConnection, llm.KindOf(err))
}

func TestInvokeEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "gpt-4", "choices": []any{}})
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "sk-test", Endpoint: server.URL})
	_, err := c.Invoke(context.Background(), llm.Request{Model: "gpt-4", Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
