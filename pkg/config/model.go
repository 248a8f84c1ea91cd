package config

import (
	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
)

// Task is the fully resolved model of one task file. Sections map one to one
// onto the components they configure.
type Task struct {
	Resumer         Resumer         `mapstructure:"resumer"`
	Pipeline        Pipeline        `mapstructure:"pipeline"`
	Parallelizer    Parallelizer    `mapstructure:"parallelizer"`
	Extractor       Endpoint        `mapstructure:"extractor"`
	Sinker          Endpoint        `mapstructure:"sinker"`
	Filter          Filter          `mapstructure:"filter"`
	Router          Router          `mapstructure:"router"`
	RegularSnapshot RegularSnapshot `mapstructure:"regular_snapshot"`
}

type Resumer struct {
	ResumeFromLog    bool   `mapstructure:"resume_from_log"`
	ResumeLogDir     string `mapstructure:"resume_log_dir"`
	ResumeConfigFile string `mapstructure:"resume_config_file"`
}

type Pipeline struct {
	BufferSize             int `mapstructure:"buffer_size"`
	CheckpointIntervalSecs int `mapstructure:"checkpoint_interval_secs"`
	BatchSinkIntervalSecs  int `mapstructure:"batch_sink_interval_secs"`
}

type ParallelType string

const (
	ParallelSerial   ParallelType = "serial"
	ParallelEntity   ParallelType = "entity"
	ParallelKey      ParallelType = "key"
	ParallelSnapshot ParallelType = "snapshot"
)

type Parallelizer struct {
	ParallelType ParallelType `mapstructure:"parallel_type"`
	ParallelSize int          `mapstructure:"parallel_size"`
}

type ExtractType string

const (
	ExtractSnapshot ExtractType = "snapshot"
	ExtractCdc      ExtractType = "cdc"
	ExtractCheckLog ExtractType = "check_log"
)

type SinkType string

const (
	SinkWrite  SinkType = "write"
	SinkCheck  SinkType = "check"
	SinkReview SinkType = "review"
	SinkRevise SinkType = "revise"
)

// Endpoint describes one side of the transfer. ExtractType only applies to
// the extractor section, SinkType only to the sinker section.
type Endpoint struct {
	DBType      string      `mapstructure:"db_type"`
	ExtractType ExtractType `mapstructure:"extract_type"`
	SinkType    SinkType    `mapstructure:"sink_type"`
	URL         string      `mapstructure:"url"`
	Database    string      `mapstructure:"database"`
	CheckLogDir string      `mapstructure:"check_log_dir"`
	BatchSize   int         `mapstructure:"batch_size"`
}

func (e Endpoint) ParsedDBType() (abstract.DBType, error) {
	return abstract.ParseDBType(e.DBType)
}

type Filter struct {
	DoEntities     []string `mapstructure:"do_entities"`
	IgnoreEntities []string `mapstructure:"ignore_entities"`
}

type Router struct {
	SchemaMap map[string]string `mapstructure:"schema_map"`
	EntityMap map[string]string `mapstructure:"entity_map"`
}

// RegularSnapshot schedules repeated snapshot cycles. Incremental entities
// keep only position watermarks and never record finished marks, so each cycle
// resumes past the previous cursor value.
type RegularSnapshot struct {
	CronExpression string              `mapstructure:"cron_expression"`
	Incremental    []IncrementalEntity `mapstructure:"incremental"`
}

type IncrementalEntity struct {
	Schema       string `mapstructure:"schema"`
	Table        string `mapstructure:"table"`
	OrderCol     string `mapstructure:"order_col"`
	InitialState string `mapstructure:"initial_state"`
}

func applyDefaults(task *Task) {
	if task.Pipeline.BufferSize == 0 {
		task.Pipeline.BufferSize = 16000
	}
	if task.Pipeline.CheckpointIntervalSecs == 0 {
		task.Pipeline.CheckpointIntervalSecs = 10
	}
	if task.Pipeline.BatchSinkIntervalSecs == 0 {
		task.Pipeline.BatchSinkIntervalSecs = 1
	}
	if task.Parallelizer.ParallelType == "" {
		task.Parallelizer.ParallelType = ParallelEntity
	}
	if task.Parallelizer.ParallelSize == 0 {
		task.Parallelizer.ParallelSize = 4
	}
	if task.Extractor.BatchSize == 0 {
		task.Extractor.BatchSize = 500
	}
	if task.Sinker.BatchSize == 0 {
		task.Sinker.BatchSize = 500
	}
	if task.Resumer.ResumeLogDir == "" {
		task.Resumer.ResumeLogDir = "./logs"
	}
}

func (t *Task) Validate() error {
	if _, err := t.Extractor.ParsedDBType(); err != nil {
		return ferrors.CategorizedErrorf(categories.Config, "extractor: %w", err)
	}
	if _, err := t.Sinker.ParsedDBType(); err != nil {
		return ferrors.CategorizedErrorf(categories.Config, "sinker: %w", err)
	}
	switch t.Parallelizer.ParallelType {
	case ParallelSerial, ParallelEntity, ParallelKey, ParallelSnapshot:
	default:
		return ferrors.CategorizedErrorf(categories.Config, "unknown parallel_type: %q", t.Parallelizer.ParallelType)
	}
	if t.Parallelizer.ParallelSize < 1 {
		return ferrors.CategorizedErrorf(categories.Config, "parallel_size must be positive, got %d", t.Parallelizer.ParallelSize)
	}
	if t.Pipeline.BufferSize < 1 {
		return ferrors.CategorizedErrorf(categories.Config, "buffer_size must be positive, got %d", t.Pipeline.BufferSize)
	}
	if t.Pipeline.CheckpointIntervalSecs < 1 {
		return ferrors.CategorizedErrorf(categories.Config, "checkpoint_interval_secs must be positive, got %d", t.Pipeline.CheckpointIntervalSecs)
	}
	if t.Pipeline.BatchSinkIntervalSecs < 1 {
		return ferrors.CategorizedErrorf(categories.Config, "batch_sink_interval_secs must be positive, got %d", t.Pipeline.BatchSinkIntervalSecs)
	}
	if t.Extractor.ExtractType != "" {
		switch t.Extractor.ExtractType {
		case ExtractSnapshot, ExtractCdc, ExtractCheckLog:
		default:
			return ferrors.CategorizedErrorf(categories.Config, "unknown extract_type: %q", t.Extractor.ExtractType)
		}
	}
	if t.Sinker.SinkType != "" {
		switch t.Sinker.SinkType {
		case SinkWrite, SinkCheck, SinkReview, SinkRevise:
		default:
			return ferrors.CategorizedErrorf(categories.Config, "unknown sink_type: %q", t.Sinker.SinkType)
		}
	}
	for _, inc := range t.RegularSnapshot.Incremental {
		if inc.Schema == "" || inc.Table == "" || inc.OrderCol == "" {
			return ferrors.CategorizedErrorf(categories.Config,
				"incremental entity needs schema, table and order_col, got %+v", inc)
		}
	}
	return nil
}
