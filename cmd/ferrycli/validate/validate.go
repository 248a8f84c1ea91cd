package validate

import (
	"github.com/doublecloud/ferry/internal/logger"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/spf13/cobra"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

func ValidateCommand() *cobra.Command {
	var taskParams string
	validationCommand := &cobra.Command{
		Use:   "validate",
		Short: "Validate a task configuration",
		RunE:  validate(&taskParams),
	}
	validationCommand.Flags().StringVar(&taskParams, "task", "./task.yaml", "path to yaml file with task configuration")
	return validationCommand
}

func validate(taskYaml *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		task, err := config.TaskFromYaml(logger.Log, *taskYaml)
		if err != nil {
			return xerrors.Errorf("unable to load task: %w", err)
		}

		logger.Log.Infof("%s 👌extractor config", task.Extractor.DBType)
		logger.Log.Infof("%s 👌sinker config", task.Sinker.DBType)
		logger.Log.Infof("task config is valid")
		return nil
	}
}
