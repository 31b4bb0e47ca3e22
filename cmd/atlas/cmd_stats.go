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

	"github.com/jevenson76/atlas-orchestrator/internal/log"
	"github.com/jevenson76/atlas-orchestrator/pkg/metrics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded workflow runs",
	Long:  `Stats reads the workflow metrics file and prints success, cost, and quality roll-ups.`,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	store, err := metrics.NewStore(config.Metrics.Path, log.Logger())
	if err != nil {
		return err
	}
	sum, err := store.Summarize()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sum.Workflows == 0 {
		fmt.Fprintln(out, "no workflow runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "workflows\t%d\n", sum.Workflows)
	fmt.Fprintf(w, "succeeded\t%d\n", sum.Succeeded)
	fmt.Fprintf(w, "failed\t%d\n", sum.Failed)
	fmt.Fprintf(w, "total cost\t$%.4f\n", sum.TotalCost)
	fmt.Fprintf(w, "avg cost\t$%.4f\n", sum.AvgCostUSD)
	fmt.Fprintf(w, "avg quality\t%.1f\n", sum.AvgQuality)
	fmt.Fprintf(w, "avg duration\t%s\n", sum.AvgDuration)
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nby workflow:")
	bw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for name, count := range sum.ByWorkflow {
		fmt.Fprintf(bw, "  %s\t%d\n", name, count)
	}
	return bw.Flush()
}
