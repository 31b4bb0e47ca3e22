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
package ledger

// PriceEntry is one row of the static model price table.
// Prices are USD per million tokens.
type PriceEntry struct {
	Model       string  `json:"model"`
	InputPer1M  float64 `json:"input_per_1m_usd"`
	OutputPer1M float64 `json:"output_per_1m_usd"`
}

// DefaultPriceTable returns the built-in price reference table.
// Unknown model ids cost zero (deterministic for tests) and trigger a single
// warn event on first use.
func DefaultPriceTable() []PriceEntry {
	return []PriceEntry{
		{Model: "claude-3-haiku-20240307", InputPer1M: 0.25, OutputPer1M: 1.25},
		{Model: "claude-haiku-4-5-20251001", InputPer1M: 0.8, OutputPer1M: 4.0},
		{Model: "claude-3-5-sonnet-20241022", InputPer1M: 3.0, OutputPer1M: 15.0},
		{Model: "claude-sonnet-4-5-20250929", InputPer1M: 3.0, OutputPer1M: 15.0},
		{Model: "claude-3-opus-20240229", InputPer1M: 15.0, OutputPer1M: 75.0},
		{Model: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", InputPer1M: 3.0, OutputPer1M: 15.0},
		{Model: "us.anthropic.claude-haiku-4-5-20251001-v1:0", InputPer1M: 0.8, OutputPer1M: 4.0},
		{Model: "gpt-4", InputPer1M: 30.0, OutputPer1M: 60.0},
		{Model: "gpt-4-turbo", InputPer1M: 10.0, OutputPer1M: 30.0},
		{Model: "gpt-4o", InputPer1M: 2.5, OutputPer1M: 10.0},
		{Model: "gpt-4o-mini", InputPer1M: 0.15, OutputPer1M: 0.6},
		{Model: "llama3.1", InputPer1M: 0, OutputPer1M: 0},
		{Model: "llama3.2", InputPer1M: 0, OutputPer1M: 0},
		{Model: "qwen2.5-coder", InputPer1M: 0, OutputPer1M: 0},
	}
}
