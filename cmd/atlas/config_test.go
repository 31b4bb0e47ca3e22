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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("ATLAS_DATA_DIR", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.LLM.AnthropicModel)
	assert.Equal(t, "us-west-2", cfg.LLM.BedrockRegion)
	assert.Equal(t, 4, cfg.DropZone.MaxConcurrent)
	assert.Equal(t, 500, cfg.DropZone.DebounceMs)
	assert.Len(t, cfg.Cluster.NodeModels, 5)
	assert.Equal(t, 3, cfg.Cluster.Redundancy)
	assert.Equal(t, 85, cfg.Workflow.QualityThreshold)
	assert.InDelta(t, 0.8, cfg.Budget.WarnFraction, 1e-9)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	t.Setenv("ATLAS_DATA_DIR", dir)

	yaml := `
budget:
  hourly_cap_usd: 2.5
cluster:
  node_models:
    - claude-3-haiku-20240307
    - claude-3-haiku-20240307
  redundancy: 2
logging:
  level: debug
`
	path := filepath.Join(dir, "atlas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0640))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, cfg.Budget.HourlyCapUSD, 1e-9)
	assert.Equal(t, []string{"claude-3-haiku-20240307", "claude-3-haiku-20240307"}, cfg.Cluster.NodeModels)
	assert.Equal(t, 2, cfg.Cluster.Redundancy)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.DropZone.MaxConcurrent)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("ATLAS_DATA_DIR", t.TempDir())
	t.Setenv("ATLAS_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsEmptyNodePool(t *testing.T) {
	viper.Reset()
	t.Setenv("ATLAS_DATA_DIR", t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Cluster.NodeModels = nil
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node_models")
}
