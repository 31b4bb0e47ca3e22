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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jevenson76/atlas-orchestrator/pkg/ledger"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Show the model price table (USD per million tokens)",
	RunE:  runPricing,
}

func init() {
	rootCmd.AddCommand(pricingCmd)
}

func runPricing(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tINPUT $/1M\tOUTPUT $/1M")
	for _, row := range ledger.DefaultPriceTable() {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\n", row.Model, row.InputPer1M, row.OutputPer1M)
	}
	return w.Flush()
}
