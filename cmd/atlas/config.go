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
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the name of the config file
const DefaultConfigFileName = "atlas"

// DataDir returns the Atlas data directory: ATLAS_DATA_DIR if set,
// otherwise ~/.atlas.
func DataDir() string {
	if dir := os.Getenv("ATLAS_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".atlas"
	}
	return filepath.Join(home, ".atlas")
}

// Config holds all configuration for the Atlas CLI.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is computed from ATLAS_DATA_DIR or ~/.atlas; it is not loaded
	// from the config file.
	DataDir string `mapstructure:"-"`

	LLM      LLMConfig      `mapstructure:"llm"`
	Security SecurityConfig `mapstructure:"security"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	DropZone DropZoneConfig `mapstructure:"dropzone"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Events   EventsConfig   `mapstructure:"events"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// LLMConfig holds provider credentials and generation defaults.
type LLMConfig struct {
	// Anthropic-specific
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"` // From CLI/env only
	AnthropicModel  string `mapstructure:"anthropic_model"`

	// OpenAI-specific
	OpenAIAPIKey string `mapstructure:"openai_api_key"` // From CLI/env only
	OpenAIModel  string `mapstructure:"openai_model"`

	// Bedrock-specific
	BedrockRegion          string `mapstructure:"bedrock_region"`
	BedrockProfile         string `mapstructure:"bedrock_profile"`
	BedrockAccessKeyID     string `mapstructure:"bedrock_access_key_id"`     // From CLI/env only
	BedrockSecretAccessKey string `mapstructure:"bedrock_secret_access_key"` // From CLI/env only
	BedrockSessionToken    string `mapstructure:"bedrock_session_token"`     // From CLI/env only

	// Ollama-specific
	OllamaEndpoint string `mapstructure:"ollama_endpoint"`

	// Common generation parameters
	MaxTokens      int `mapstructure:"max_tokens"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SecurityConfig holds the prompt precheck settings.
type SecurityConfig struct {
	// DenyPatterns are case-insensitive regexes rejected before any
	// provider call. Empty means the built-in injection pattern set.
	DenyPatterns []string `mapstructure:"deny_patterns"`
}

// BudgetConfig holds the spend caps enforced by the cost ledger.
type BudgetConfig struct {
	HourlyCapUSD float64 `mapstructure:"hourly_cap_usd"` // 0 = unlimited
	DailyCapUSD  float64 `mapstructure:"daily_cap_usd"`  // 0 = unlimited
	WarnFraction float64 `mapstructure:"warn_fraction"`  // default: 0.8
}

// DropZoneConfig holds the file intake settings.
type DropZoneConfig struct {
	Dir           string `mapstructure:"dir"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	DebounceMs    int    `mapstructure:"debounce_ms"`
}

// ClusterConfig holds the parallel workflow's node pool.
type ClusterConfig struct {
	// NodeModels lists one model id per node; order defines the
	// assignment ring.
	NodeModels []string `mapstructure:"node_models"`
	// Redundancy for the final package's consensus run.
	Redundancy int `mapstructure:"redundancy"`
}

// WorkflowConfig holds cross-engine tuning knobs.
type WorkflowConfig struct {
	QualityThreshold  int `mapstructure:"quality_threshold"`
	MaxSelfCorrection int `mapstructure:"max_self_correction"`
}

// EventsConfig holds the event emitter settings.
type EventsConfig struct {
	LogDir    string `mapstructure:"log_dir"`
	QueueSize int    `mapstructure:"queue_size"`
}

// MetricsConfig holds the workflow metrics store settings.
type MetricsConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// LoadConfig loads configuration from multiple sources with proper priority:
// 1. Command line flags (highest priority)
// 2. Config file
// 3. Environment variables
// 4. Defaults (lowest priority)
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(DataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/atlas/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	viper.SetEnvPrefix("ATLAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.DataDir = DataDir()

	// Bare provider env vars are honored when nothing more specific is set.
	if config.LLM.AnthropicAPIKey == "" {
		config.LLM.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if config.LLM.OpenAIAPIKey == "" {
		config.LLM.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	dataDir := DataDir()

	// LLM defaults
	viper.SetDefault("llm.anthropic_model", "claude-3-5-sonnet-20241022")
	viper.SetDefault("llm.openai_model", "gpt-4o")
	viper.SetDefault("llm.bedrock_region", "us-west-2")
	viper.SetDefault("llm.ollama_endpoint", "http://localhost:11434")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.timeout_seconds", 120)

	// Budget defaults (unlimited until capped)
	viper.SetDefault("budget.hourly_cap_usd", 0.0)
	viper.SetDefault("budget.daily_cap_usd", 0.0)
	viper.SetDefault("budget.warn_fraction", 0.8)

	// Drop zone defaults
	viper.SetDefault("dropzone.dir", filepath.Join(dataDir, "dropzone"))
	viper.SetDefault("dropzone.max_concurrent", 4)
	viper.SetDefault("dropzone.debounce_ms", 500)

	// Cluster defaults: a five-node ring mixing strong and cheap models
	viper.SetDefault("cluster.node_models", []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-sonnet-20241022",
		"claude-3-haiku-20240307",
		"claude-3-haiku-20240307",
		"gpt-4o",
	})
	viper.SetDefault("cluster.redundancy", 3)

	// Workflow defaults
	viper.SetDefault("workflow.quality_threshold", 85)
	viper.SetDefault("workflow.max_self_correction", 3)

	// Events and metrics defaults
	viper.SetDefault("events.log_dir", filepath.Join(dataDir, "logs"))
	viper.SetDefault("events.queue_size", 1024)
	viper.SetDefault("metrics.path", filepath.Join(dataDir, "metrics", "workflows.jsonl"))

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Cluster.NodeModels) == 0 {
		return fmt.Errorf("cluster.node_models must name at least one node")
	}
	if c.Budget.WarnFraction < 0 || c.Budget.WarnFraction > 1 {
		return fmt.Errorf("budget.warn_fraction must be in [0,1], got %v", c.Budget.WarnFraction)
	}
	if c.DropZone.Dir == "" {
		return fmt.Errorf("dropzone.dir is required")
	}
	return nil
}
