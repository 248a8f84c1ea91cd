package check

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/tasks"
	"github.com/spf13/cobra"
	"go.ytsaurus.tech/library/go/core/metrics/solomon"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

func CheckCommand() *cobra.Command {
	var taskParams string
	checkCommand := &cobra.Command{
		Use:   "check",
		Short: "Compare extractor rows against the sinker and record findings",
		Args:  cobra.MatchAll(cobra.ExactArgs(0)),
		RunE:  check(&taskParams),
	}
	checkCommand.Flags().StringVar(&taskParams, "task", "./task.yaml", "path to yaml file with task configuration")
	return checkCommand
}

func check(taskYaml *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		task, err := config.TaskFromYaml(logger.Log, *taskYaml)
		if err != nil {
			return xerrors.Errorf("unable to load task: %w", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return tasks.RunCheck(ctx, logger.Log, solomon.NewRegistry(solomon.NewRegistryOpts()), task)
	}
}
