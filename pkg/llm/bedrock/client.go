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
// Package bedrock adapts Claude models served through AWS Bedrock. The
// Anthropic SDK handles the Bedrock signing and endpoint shape, so this
// adapter only has to assemble AWS credentials.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/jevenson76/atlas-orchestrator/pkg/llm"
)

const (
	// DefaultRegion is used when neither config nor environment name one.
	DefaultRegion = "us-west-2"
	// DefaultMaxTokens is the per-request output ceiling.
	DefaultMaxTokens = 4096
)

// Config holds configuration for the Bedrock adapter.
type Config struct {
	Region          string // Default: AWS_DEFAULT_REGION, then us-west-2
	Profile         string // Optional named profile
	AccessKeyID     string // Optional explicit credentials
	SecretAccessKey string
	SessionToken    string
}

// Client implements llm.Adapter against AWS Bedrock.
type Client struct {
	client anthropic.Client
	region string
}

// NewClient creates the adapter. Credentials resolve in order: explicit
// static keys, named profile, then the default AWS chain.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Region == "" {
		if env := os.Getenv("AWS_DEFAULT_REGION"); env != "" {
			cfg.Region = env
		} else {
			cfg.Region = DefaultRegion
		}
	}

	var awsCfg aws.Config
	var err error
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	case cfg.Profile != "":
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithSharedConfigProfile(cfg.Profile),
		)
	default:
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		client: anthropic.NewClient(bedrock.WithConfig(awsCfg)),
		region: cfg.Region,
	}, nil
}

// Name returns the provider family name.
func (c *Client) Name() string { return "bedrock" }

// Invoke sends one request to Bedrock through the Anthropic SDK.
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
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, llm.NewInvokeError("bedrock", llm.ClassifyStatus(apiErr.StatusCode), apiErr.StatusCode, err)
		}
		return nil, llm.NewInvokeError("bedrock", llm.Classify(err), 0, fmt.Errorf("invocation failed: %w", err))
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &llm.Result{
		Text:         text.String(),
		Model:        req.Model,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		StopReason:   string(message.StopReason),
		Duration:     time.Since(start),
	}, nil
}
