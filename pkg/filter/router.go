package filter

import (
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
)

// Router renames entities between source and target. Exact `schema.table`
// mappings win over schema-level mappings; unmapped entities pass through.
//
// Routing changes only where events land, never the progress identity:
// positions and finished marks always carry source-side names, so the
// pipeline routes after watermark bookkeeping.
type Router struct {
	schemaMap map[string]string
	entityMap map[string]string
}

func NewRouter(cfg config.Router) *Router {
	return &Router{
		schemaMap: cfg.SchemaMap,
		entityMap: cfg.EntityMap,
	}
}

func (r *Router) Route(entity abstract.Entity) abstract.Entity {
	if mapped, ok := r.entityMap[entity.Fqtn()]; ok {
		routed := entity
		if schema, table, found := splitFqtn(mapped); found {
			routed.Schema, routed.Table = schema, table
		} else {
			routed.Table = mapped
		}
		return routed
	}
	if schema, ok := r.schemaMap[entity.Schema]; ok {
		routed := entity
		routed.Schema = schema
		return routed
	}
	return entity
}

func (r *Router) RouteEvent(event abstract.ChangeEvent) abstract.ChangeEvent {
	event.Entity = r.Route(event.Entity)
	return event
}

func splitFqtn(fqtn string) (string, string, bool) {
	for i := 0; i < len(fqtn); i++ {
		if fqtn[i] == '.' {
			return fqtn[:i], fqtn[i+1:], true
		}
	}
	return "", "", false
}
