package logger

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	zp "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/log/zap"
)

// Log is the process-wide logger. Commands may swap it at startup (see
// cmd/ferrycli); everything else takes it as is or receives a log.Logger
// explicitly.
var Log log.Logger

func LoggerWithLevel(lvl zapcore.Level) log.Logger {
	return zap.Must(DefaultLoggerConfig(lvl))
}

// AdditionalComponentCallerEncoder shortens caller paths to their last three
// path elements.
func AdditionalComponentCallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	path := caller.String()
	lastIndex := len(path) - 1
	for i := 0; i < 3; i++ {
		lastIndex = strings.LastIndex(path[0:lastIndex], "/")
		if lastIndex == -1 {
			break
		}
	}
	if lastIndex > 0 {
		path = path[lastIndex+1:]
	}
	enc.AppendString(path)
}

func envLogLevel() zapcore.Level {
	lvl := zapcore.InfoLevel
	if level, ok := os.LookupEnv("LOG_LEVEL"); ok && level != "" {
		var l zapcore.Level
		if err := l.UnmarshalText([]byte(level)); err == nil {
			lvl = l
		}
	}
	return lvl
}

func DefaultLoggerConfig(level zapcore.Level) zp.Config {
	encoder := zapcore.CapitalColorLevelEncoder
	if !isatty.IsTerminal(os.Stdout.Fd()) || !isatty.IsTerminal(os.Stderr.Fd()) {
		encoder = zapcore.CapitalLevelEncoder
	}

	return zp.Config{
		Level:            zp.NewAtomicLevelAt(level),
		Encoding:         "console",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "msg",
			LevelKey:       "level",
			TimeKey:        "ts",
			CallerKey:      "caller",
			EncodeLevel:    encoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   AdditionalComponentCallerEncoder,
		},
	}
}

func init() {
	cfg := DefaultLoggerConfig(envLogLevel())

	if os.Getenv("CI") == "1" || strings.Contains(os.Args[0], "gotest") {
		cfg = DefaultLoggerConfig(zp.DebugLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	host, _ := os.Hostname()
	Log = log.With(zap.Must(cfg), log.Any("host", host))
}
