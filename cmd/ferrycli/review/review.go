package review

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

func ReviewCommand() *cobra.Command {
	var taskParams string
	reviewCommand := &cobra.Command{
		Use:   "review",
		Short: "Re-validate recorded findings against the current state of both stores",
		Args:  cobra.MatchAll(cobra.ExactArgs(0)),
		RunE:  review(&taskParams),
	}
	reviewCommand.Flags().StringVar(&taskParams, "task", "./task.yaml", "path to yaml file with task configuration")
	return reviewCommand
}

func review(taskYaml *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		task, err := config.TaskFromYaml(logger.Log, *taskYaml)
		if err != nil {
			return xerrors.Errorf("unable to load task: %w", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return tasks.RunReview(ctx, logger.Log, solomon.NewRegistry(solomon.NewRegistryOpts()), task)
	}
}
