package redis

import (
	"fmt"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/providers"
	goredis "github.com/redis/go-redis/v9"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

func init() {
	providers.Register(abstract.DBTypeRedis, func(lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (providers.Provider, error) {
		return NewProvider(lgr, endpoint)
	})
}

var (
	_ providers.Snapshot = (*Provider)(nil)
	_ providers.Sinker   = (*Provider)(nil)
	_ providers.Lookup   = (*Provider)(nil)
)

// Provider treats one redis logical database as a single entity. SCAN
// cursors are not order columns, they give no total order over keys, so the
// entity is finished-only: interrupted snapshots restart from scratch, which
// is the documented behavior for entities without a usable key.
type Provider struct {
	lgr    log.Logger
	client *goredis.Client
	entity abstract.Entity
}

func NewProvider(lgr log.Logger, endpoint config.Endpoint) (*Provider, error) {
	opts, err := goredis.ParseURL(endpoint.URL)
	if err != nil {
		return nil, xerrors.Errorf("unable to parse redis url: %w", err)
	}
	return &Provider{
		lgr:    lgr,
		client: goredis.NewClient(opts),
		entity: abstract.NewEntity(abstract.DBTypeRedis, "keyspace", fmt.Sprintf("db%d", opts.DB)),
	}, nil
}

// NewProviderWithClient wraps an existing client; miniredis-backed tests use it.
func NewProviderWithClient(lgr log.Logger, client *goredis.Client, db int) *Provider {
	return &Provider{
		lgr:    lgr,
		client: client,
		entity: abstract.NewEntity(abstract.DBTypeRedis, "keyspace", fmt.Sprintf("db%d", db)),
	}
}

func (p *Provider) Type() abstract.DBType {
	return abstract.DBTypeRedis
}

func (p *Provider) Storage() (abstract.SnapshotSource, error) {
	return &storage{client: p.client, entity: p.entity}, nil
}

func (p *Provider) Sink() (abstract.Sinker, error) {
	return &sink{client: p.client}, nil
}

func (p *Provider) Rows() (abstract.RowStore, error) {
	return &rowStore{client: p.client}, nil
}

func (p *Provider) Close() error {
	return p.client.Close()
}
