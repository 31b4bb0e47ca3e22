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
package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code == 429:
		return ErrKindRateLimit
	case code == 401 || code == 403:
		return ErrKindAuth
	case code == 408:
		return ErrKindTimeout
	case code >= 400 && code < 500:
		return ErrKindInvalidRequest
	case code >= 500:
		return ErrKindServer
	default:
		return ErrKindOther
	}
}

// Classify determines an error kind from an error chain when no status code
// is available, sniffing transport errors and well-known message fragments.
func Classify(err error) ErrorKind {
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
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrKindTimeout
		}
		return ErrKindConnection
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "throttl") || strings.Contains(msg, "overloaded"):
		return ErrKindRateLimit
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrKindTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe"):
		return ErrKindConnection
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication") || strings.Contains(msg, "forbidden"):
		return ErrKindAuth
	case strings.Contains(msg, "invalid request") || strings.Contains(msg, "bad request") ||
		strings.Contains(msg, "context length") || strings.Contains(msg, "maximum tokens"):
		return ErrKindInvalidRequest
	case strings.Contains(msg, "internal server error") || strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "bad gateway"):
		return ErrKindServer
	default:
		return ErrKindOther
	}
}
