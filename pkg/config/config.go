package config

import (
	"os"
	"reflect"
	"time"

	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/mitchellh/mapstructure"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/xerrors"
	"gopkg.in/yaml.v3"
)

// TaskFromYaml loads and validates one task file.
func TaskFromYaml(lgr log.Logger, path string) (*Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Config, "unable to read task file: %w", err)
	}
	task, err := ParseTask(lgr, raw)
	if err != nil {
		return nil, xerrors.Errorf("unable to parse task file %s: %w", path, err)
	}
	return task, nil
}

// ParseTask decodes yaml into the task model: env substitution on every
// string, typed decode via mapstructure, defaults, validation. Keys the model
// does not know are reported, not silently dropped, typos in a task file are
// too expensive to ignore.
func ParseTask(lgr log.Logger, rawYaml []byte) (*Task, error) {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(rawYaml, &tree); err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Config, "unable to parse yaml: %w", err)
	}
	tree, _ = substituteEnv(tree).(map[string]interface{})

	var task Task
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:   &md,
		Result:     &task,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(StringToDurationHookFunc()),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to prepare decoder: %w", err)
	}
	if err := decoder.Decode(tree); err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Config, "failed to decode task: %w", err)
	}
	for _, key := range md.Unused {
		lgr.Warn("task file key is not known and was ignored", log.String("key", key))
	}

	applyDefaults(&task)
	if err := task.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid task: %w", err)
	}
	return &task, nil
}

func StringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() == reflect.String && t == reflect.TypeOf(time.Duration(0)) {
			return time.ParseDuration(data.(string))
		}
		return data, nil
	}
}

// substituteEnv recursively iterates over an interface{} (which might be a string,
// a map, or a slice) and applies os.ExpandEnv to all string values.
func substituteEnv(val interface{}) interface{} {
	switch v := val.(type) {
	case string:
		return os.ExpandEnv(v)
	case map[string]interface{}:
		for key, value := range v {
			v[key] = substituteEnv(value)
		}
		return v
	case []interface{}:
		for i, value := range v {
			v[i] = substituteEnv(value)
		}
		return v
	default:
		return v
	}
}
