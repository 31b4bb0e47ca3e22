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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jevenson76/atlas-orchestrator/internal/log"
	"github.com/jevenson76/atlas-orchestrator/internal/version"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:     "atlas",
	Short:   "Atlas - Multi-LLM workflow orchestrator",
	Long:    `Atlas routes coding tasks onto one of three workflow engines (specialized roles, parallel cluster, progressive refinement) across multiple LLM providers, with cost tracking and a file-based drop zone.`,
	Version: version.Get(),

	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $ATLAS_DATA_DIR/atlas.yaml)")

	// LLM flags
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or ATLAS_LLM_ANTHROPIC_API_KEY / ANTHROPIC_API_KEY)")
	rootCmd.PersistentFlags().String("openai-key", "", "OpenAI API key (or ATLAS_LLM_OPENAI_API_KEY / OPENAI_API_KEY)")
	rootCmd.PersistentFlags().String("bedrock-region", "", "AWS Bedrock region")
	rootCmd.PersistentFlags().String("bedrock-profile", "", "AWS named profile for Bedrock")
	rootCmd.PersistentFlags().String("ollama-endpoint", "", "Ollama endpoint URL")

	// Budget flags
	rootCmd.PersistentFlags().Float64("budget-hour", 0, "Hourly spend cap in USD (0=unlimited)")
	rootCmd.PersistentFlags().Float64("budget-day", 0, "Daily spend cap in USD (0=unlimited)")

	// Drop zone flags
	defaultDrop := filepath.Join(DataDir(), "dropzone")
	rootCmd.PersistentFlags().String("drop-dir", defaultDrop, "Drop zone directory (tasks/, results/, archive/)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("llm.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.openai_api_key", rootCmd.PersistentFlags().Lookup("openai-key"))
	_ = viper.BindPFlag("llm.bedrock_region", rootCmd.PersistentFlags().Lookup("bedrock-region"))
	_ = viper.BindPFlag("llm.bedrock_profile", rootCmd.PersistentFlags().Lookup("bedrock-profile"))
	_ = viper.BindPFlag("llm.ollama_endpoint", rootCmd.PersistentFlags().Lookup("ollama-endpoint"))

	_ = viper.BindPFlag("budget.hourly_cap_usd", rootCmd.PersistentFlags().Lookup("budget-hour"))
	_ = viper.BindPFlag("budget.daily_cap_usd", rootCmd.PersistentFlags().Lookup("budget-day"))

	_ = viper.BindPFlag("dropzone.dir", rootCmd.PersistentFlags().Lookup("drop-dir"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads .env, the config file, and ENV variables.
func initConfig() {
	// A .env next to the working directory is a convenience for local runs;
	// absence is not an error.
	_ = godotenv.Load()

	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := log.Setup(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
}
