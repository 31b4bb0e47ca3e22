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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/internal/log"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

var (
	runWorkflow string
	runPriority string
	runQuality  int
	runSpeed    bool
	runCosts    bool
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Execute one task and print the workflow result as JSON",
	Long: `Run routes a single task onto a workflow engine and prints the full
result record to stdout. The workflow is chosen by classification unless
--workflow pins one of: specialized_roles, parallel_cluster, progressive.

Exits 1 when the workflow completes unsuccessfully.`,
	Args: cobra.ExactArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runWorkflow, "workflow", workflow.NameAuto, "Workflow to use (auto, specialized_roles, parallel_cluster, progressive)")
	runCmd.Flags().StringVar(&runPriority, "priority", "normal", "Task priority (low, normal, high)")
	runCmd.Flags().IntVar(&runQuality, "quality-target", 0, "Quality target 0-100 (0=classified)")
	runCmd.Flags().BoolVar(&runSpeed, "speed", false, "Prefer the cheap path on routing ties")
	runCmd.Flags().BoolVar(&runCosts, "costs", false, "Print the per-agent cost breakdown to stderr")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, args []string) error {
	st, err := buildStack(config, log.Logger())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	task := workflow.Task{
		ID:            uuid.NewString(),
		Task:          args[0],
		Workflow:      runWorkflow,
		Priority:      runPriority,
		QualityTarget: runQuality,
		SpeedPriority: runSpeed,
		CreatedAt:     time.Now().UTC(),
	}

	result, err := st.router.Route(ctx, task)
	if err != nil {
		return err
	}

	if err := st.store.Append(task.ID, result); err != nil {
		st.logger.Warn("metrics append failed", zap.Error(err))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if runCosts {
		w := tabwriter.NewWriter(cmd.ErrOrStderr(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tCALLS\tIN TOKENS\tOUT TOKENS\tCOST")
		for _, tot := range st.costs.Totals() {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t$%.4f\n",
				tot.AgentID, tot.Calls, tot.InputTokens, tot.OutputTokens, tot.CostUSD)
		}
		w.Flush()
	}

	if !result.Success {
		st.Close()
		os.Exit(1)
	}
	return nil
}
