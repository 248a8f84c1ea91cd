package filter

import (
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/util/glob"
)

// Filter decides which entities take part in a run. Patterns match the
// `schema.table` form, `*` included: an empty do-list means everything,
// ignore wins over do.
type Filter struct {
	doEntities     []string
	ignoreEntities []string
}

func New(cfg config.Filter) *Filter {
	return &Filter{
		doEntities:     cfg.DoEntities,
		ignoreEntities: cfg.IgnoreEntities,
	}
}

func (f *Filter) Allows(entity abstract.Entity) bool {
	fqtn := entity.Fqtn()
	for _, pattern := range f.ignoreEntities {
		if glob.Match(pattern, fqtn) {
			return false
		}
	}
	if len(f.doEntities) == 0 {
		return true
	}
	for _, pattern := range f.doEntities {
		if glob.Match(pattern, fqtn) {
			return true
		}
	}
	return false
}

// Apply keeps the allowed entities of the scheduled set, in input order.
func (f *Filter) Apply(entities []abstract.Entity) []abstract.Entity {
	result := make([]abstract.Entity, 0, len(entities))
	for _, entity := range entities {
		if f.Allows(entity) {
			result = append(result, entity)
		}
	}
	return result
}
