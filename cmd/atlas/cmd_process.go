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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/internal/log"
	"github.com/jevenson76/atlas-orchestrator/pkg/dropzone"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process every pending task file in the drop zone once, then exit",
	Long: `Process sweeps <drop-dir>/tasks/ a single time without starting the
watcher. Exits 1 when any task failed to parse or its workflow failed.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	st, err := buildStack(config, log.Logger())
	if err != nil {
		return err
	}
	defer st.Close()

	dz, err := dropzone.New(dropzone.Config{
		Dir:           config.DropZone.Dir,
		Router:        st.router,
		MaxConcurrent: config.DropZone.MaxConcurrent,
		OnResult: func(taskID string, result *workflow.Result) {
			if err := st.store.Append(taskID, result); err != nil {
				st.logger.Warn("metrics append failed",
					zap.String("task_id", taskID), zap.Error(err))
			}
		},
		Emitter: st.emitter,
		Logger:  st.logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed, err := dz.ProcessExisting(ctx)
	if err != nil {
		return err
	}
	if failed > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d task(s) failed\n", failed)
		st.Close()
		os.Exit(1)
	}
	return nil
}
