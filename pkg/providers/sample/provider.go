package sample

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/providers"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

func init() {
	providers.Register(abstract.DBTypeSample, func(lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (providers.Provider, error) {
		return NewProvider(lgr, endpoint)
	})
}

var (
	_ providers.Snapshot    = (*Provider)(nil)
	_ providers.Replication = (*Provider)(nil)
	_ providers.Sinker      = (*Provider)(nil)
	_ providers.Lookup      = (*Provider)(nil)
)

// Provider exposes one shared in-memory Store through every capability. The
// endpoint url names the store and may ask for deterministic seeding:
//
//	sample://demo?entities=2&rows=100
//
// Seeded entities are demo.t_<i> with integer key column id and payload
// columns derived from the row index, so two runs over the same url always
// produce the same data.
type Provider struct {
	lgr   log.Logger
	store *Store
}

func NewProvider(lgr log.Logger, endpoint config.Endpoint) (*Provider, error) {
	name, entities, rows, err := parseURL(endpoint.URL)
	if err != nil {
		return nil, err
	}
	store := OpenStore(name)
	if rows > 0 {
		seed(store, entities, rows)
	}
	return &Provider{lgr: lgr, store: store}, nil
}

func (p *Provider) Type() abstract.DBType {
	return abstract.DBTypeSample
}

func (p *Provider) Store() *Store {
	return p.store
}

func (p *Provider) Storage() (abstract.SnapshotSource, error) {
	return &snapshotSource{store: p.store}, nil
}

func (p *Provider) Source() (abstract.ChangeSource, error) {
	return &changeSource{store: p.store}, nil
}

func (p *Provider) Sink() (abstract.Sinker, error) {
	return &sink{store: p.store}, nil
}

func (p *Provider) Rows() (abstract.RowStore, error) {
	return &rowStore{store: p.store}, nil
}

func (p *Provider) Close() error {
	return nil
}

func parseURL(raw string) (name string, entities, rows int, err error) {
	if raw == "" {
		return "default", 0, 0, nil
	}
	if !strings.Contains(raw, "://") {
		return raw, 0, 0, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", 0, 0, xerrors.Errorf("unable to parse sample url: %w", err)
	}
	name = parsed.Host
	if name == "" {
		name = "default"
	}
	entities = queryInt(parsed, "entities", 1)
	rows = queryInt(parsed, "rows", 0)
	return name, entities, rows, nil
}

func queryInt(parsed *url.URL, key string, fallback int) int {
	raw := parsed.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func seed(store *Store, entities, rows int) {
	for i := 0; i < entities; i++ {
		entity := abstract.NewEntity(abstract.DBTypeSample, "demo", fmt.Sprintf("t_%d", i))
		store.CreateEntity(entity, "id")
		if store.RowCount(entity) > 0 {
			continue
		}
		for id := 1; id <= rows; id++ {
			store.Put(entity, map[string]any{
				"id":  id,
				"f_0": fmt.Sprintf("value_%d_%d", i, id),
				"f_1": id * 10,
			})
		}
	}
}
