package resumer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/doublecloud/ferry/pkg/abstract"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"github.com/doublecloud/ferry/pkg/errors/coded"
	"github.com/doublecloud/ferry/pkg/journal"
	"go.ytsaurus.tech/library/go/core/log"
)

var CodeConfigUnreadable = coded.Register("resumer", "config_unreadable")

// DecisionKind is what a run does with one scheduled entity.
type DecisionKind string

const (
	// Skip: the entity finished in a previous run, zero extraction calls.
	Skip DecisionKind = "skip"
	// ResumeFrom: scan restarts strictly after the stored order-column value.
	ResumeFrom DecisionKind = "resume_from"
	// Fresh: no prior progress, full scan.
	Fresh DecisionKind = "fresh"
)

type Decision struct {
	Kind     DecisionKind
	OrderCol string
	Value    string
}

func (d Decision) ResumeValue() *abstract.ResumeValue {
	if d.Kind != ResumeFrom {
		return nil
	}
	return &abstract.ResumeValue{OrderCol: d.OrderCol, Value: d.Value}
}

// Decisions is the per-entity resume table computed once at startup. It is
// read-only afterwards and safe to share across workers without locking.
type Decisions struct {
	decisions map[abstract.Entity]Decision
	// checkpoint is the last coarse stream coordinate of the previous run,
	// used by replication mode to reopen the change stream.
	checkpoint *abstract.CdcPosition
}

func (d *Decisions) For(entity abstract.Entity) Decision {
	if decision, ok := d.decisions[entity]; ok {
		return decision
	}
	return Decision{Kind: Fresh}
}

func (d *Decisions) Checkpoint() *abstract.CdcPosition {
	return d.checkpoint
}

// Resumer merges the journal of the task's log directory with an optional
// external resume-config file into one resume decision per scheduled entity.
type Resumer struct {
	lgr log.Logger

	resumeFromLog bool
	logDir        string
	configFile    string
}

func New(lgr log.Logger, resumeFromLog bool, logDir string, configFile string) *Resumer {
	return &Resumer{
		lgr: lgr,

		resumeFromLog: resumeFromLog,
		logDir:        logDir,
		configFile:    configFile,
	}
}

// Build reads both progress sources and resolves every scheduled entity.
//
// Precedence: finished status is the union of both sources and always wins.
// For positions the journal's position.log overrides the resume-config file
// per entity; within one file the last line per entity wins, which the
// journal reader already guarantees by folding in append order.
//
// A missing journal is an empty journal: the run starts fresh. A configured
// but unreadable resume-config file is a config error, the operator asked to
// resume from state that cannot be read.
func (r *Resumer) Build(entities []abstract.Entity) (*Decisions, error) {
	merged := journal.NewContents()

	if r.configFile != "" {
		if _, err := os.Stat(r.configFile); err != nil {
			return nil, abstract.NewFatalError(ferrors.CategorizedErrorf(categories.Config,
				"resume config file is required but not readable: %w",
				coded.Errorf(CodeConfigUnreadable, "stat %s: %w", r.configFile, err)))
		}
		fromConfig, err := journal.ReadFile(r.lgr, r.configFile)
		if err != nil {
			return nil, abstract.NewFatalError(ferrors.CategorizedErrorf(categories.Config,
				"unable to read resume config file: %w", err))
		}
		merged.Merge(fromConfig)
	}

	if r.resumeFromLog {
		fromPosition, err := journal.ReadFile(r.lgr, filepath.Join(r.logDir, journal.PositionLogName))
		if err != nil {
			return nil, ferrors.CategorizedErrorf(categories.Journal, "unable to read position log: %w", err)
		}
		fromFinished, err := journal.ReadFile(r.lgr, filepath.Join(r.logDir, journal.FinishedLogName))
		if err != nil {
			return nil, ferrors.CategorizedErrorf(categories.Journal, "unable to read finished log: %w", err)
		}
		// position.log overrides resume-config per entity; finished is a union.
		merged.Merge(fromPosition)
		merged.Merge(fromFinished)
	}

	decisions := make(map[abstract.Entity]Decision, len(entities))
	for _, entity := range entities {
		decision := r.resolve(merged, entity)
		decisions[entity] = decision
	}
	return &Decisions{decisions: decisions, checkpoint: merged.Checkpoint}, nil
}

func (r *Resumer) resolve(merged *journal.Contents, entity abstract.Entity) Decision {
	finished := merged.Finished.Contains(entity)
	r.lgr.Infof("resumer, check finished: schema: %s, tb: %s, result: %v",
		entity.Schema, entity.Table, finished)
	if finished {
		return Decision{Kind: Skip}
	}
	pos, ok := merged.Positions[entity]
	result := "None"
	if ok {
		result = fmt.Sprintf("Some(%q)", pos.Value)
	}
	col := pos.OrderCol
	r.lgr.Infof("resumer, get resume value, schema: %s, tb: %s, col: %s, result: %s",
		entity.Schema, entity.Table, col, result)
	if !ok {
		return Decision{Kind: Fresh}
	}
	return Decision{Kind: ResumeFrom, OrderCol: pos.OrderCol, Value: pos.Value}
}
