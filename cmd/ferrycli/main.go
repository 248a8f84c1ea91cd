package main

import (
	"os"

	"github.com/doublecloud/ferry/cmd/ferrycli/check"
	"github.com/doublecloud/ferry/cmd/ferrycli/replicate"
	"github.com/doublecloud/ferry/cmd/ferrycli/review"
	"github.com/doublecloud/ferry/cmd/ferrycli/revise"
	"github.com/doublecloud/ferry/cmd/ferrycli/snapshot"
	"github.com/doublecloud/ferry/cmd/ferrycli/validate"
	"github.com/doublecloud/ferry/internal/logger"
	_ "github.com/doublecloud/ferry/pkg/dataplane"
	"github.com/spf13/cobra"
	zp "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.ytsaurus.tech/library/go/core/log/zap"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

var (
	defaultLogLevel  = "info"
	defaultLogConfig = "console"
)

func main() {
	loggerConfig := newLoggerConfig()
	logger.Log = zap.Must(loggerConfig)
	logLevel := defaultLogLevel
	logConfig := defaultLogConfig

	rootCommand := &cobra.Command{
		Use:          "ferrycli",
		Short:        "Ferry cli",
		Example:      "./ferrycli help",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch logConfig {
			case "console":
			case "json":
				loggerConfig = zp.NewProductionConfig()
			case "minimal":
				loggerConfig.EncoderConfig = zapcore.EncoderConfig{
					MessageKey: "message",
					LevelKey:   "level",
					// Disable the rest of the fields
					TimeKey:        "",
					NameKey:        "",
					CallerKey:      "",
					FunctionKey:    "",
					StacktraceKey:  "",
					LineEnding:     zapcore.DefaultLineEnding,
					EncodeLevel:    zapcore.CapitalColorLevelEncoder,
					EncodeName:     nil,
					EncodeDuration: nil,
				}
			default:
				return xerrors.Errorf("unsupported value \"%s\" for --log-config", logConfig)
			}
			switch logLevel {
			case "panic":
				loggerConfig.Level.SetLevel(zapcore.PanicLevel)
			case "fatal":
				loggerConfig.Level.SetLevel(zapcore.FatalLevel)
			case "error":
				loggerConfig.Level.SetLevel(zapcore.ErrorLevel)
			case "warning":
				loggerConfig.Level.SetLevel(zapcore.WarnLevel)
			case "info":
				loggerConfig.Level.SetLevel(zapcore.InfoLevel)
			case "debug":
				loggerConfig.Level.SetLevel(zapcore.DebugLevel)
			default:
				return xerrors.Errorf("unsupported value \"%s\" for --log-level", logLevel)
			}

			logger.Log = zap.Must(loggerConfig)
			return nil
		},
	}
	rootCommand.AddCommand(snapshot.SnapshotCommand())
	rootCommand.AddCommand(replicate.ReplicateCommand())
	rootCommand.AddCommand(check.CheckCommand())
	rootCommand.AddCommand(review.ReviewCommand())
	rootCommand.AddCommand(revise.ReviseCommand())
	rootCommand.AddCommand(validate.ValidateCommand())

	rootCommand.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Specifies logging level for output logs (\"panic\", \"fatal\", \"error\", \"warning\", \"info\", \"debug\")")
	rootCommand.PersistentFlags().StringVar(&logConfig, "log-config", defaultLogConfig, "Specifies logging config for output logs (\"console\", \"json\", \"minimal\")")

	err := rootCommand.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newLoggerConfig() zp.Config {
	cfg := logger.DefaultLoggerConfig(zapcore.InfoLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}
