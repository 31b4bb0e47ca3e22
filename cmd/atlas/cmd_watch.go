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
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jevenson76/atlas-orchestrator/internal/log"
	"github.com/jevenson76/atlas-orchestrator/pkg/dropzone"
	"github.com/jevenson76/atlas-orchestrator/pkg/workflow"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the drop zone and run each task file as a workflow",
	Long: `Watch starts the drop zone daemon: JSON task files appearing under
<drop-dir>/tasks/ are routed onto workflow engines, results land under
<drop-dir>/results/, and processed inputs move to <drop-dir>/archive/.
Budget windows roll on the hour and at midnight. Runs until SIGINT/SIGTERM.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	st, err := buildStack(config, log.Logger())
	if err != nil {
		return err
	}
	defer st.Close()

	dz, err := dropzone.New(dropzone.Config{
		Dir:           config.DropZone.Dir,
		Router:        st.router,
		MaxConcurrent: config.DropZone.MaxConcurrent,
		DebounceMs:    config.DropZone.DebounceMs,
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

	if err := dz.Start(ctx); err != nil {
		return err
	}

	// Budget windows are rolled eagerly at their boundaries rather than
	// lazily on the next charge, so warn events fire on time.
	sched := cron.New()
	if _, err := sched.AddFunc("@hourly", st.costs.Roll); err != nil {
		return err
	}
	if _, err := sched.AddFunc("@midnight", st.costs.Roll); err != nil {
		return err
	}
	sched.Start()

	st.logger.Info("watching drop zone",
		zap.String("dir", config.DropZone.Dir),
		zap.Int("max_concurrent", config.DropZone.MaxConcurrent))

	<-ctx.Done()
	st.logger.Info("shutting down")

	cronCtx := sched.Stop()
	<-cronCtx.Done()
	return dz.Stop()
}
