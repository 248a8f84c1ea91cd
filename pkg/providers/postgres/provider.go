package postgres

import (
	"context"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/providers"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

func init() {
	providers.Register(abstract.DBTypePostgres, func(lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (providers.Provider, error) {
		return NewProvider(lgr, endpoint)
	})
}

var (
	_ providers.Snapshot = (*Provider)(nil)
	_ providers.Sinker   = (*Provider)(nil)
	_ providers.Lookup   = (*Provider)(nil)
)

// Provider reads and writes one postgres schema over a pgx pool. The endpoint
// url is a postgres connection string; the endpoint database names the schema
// entities live in, defaulting to public.
type Provider struct {
	lgr    log.Logger
	pool   *pgxpool.Pool
	schema string
}

func NewProvider(lgr log.Logger, endpoint config.Endpoint) (*Provider, error) {
	pool, err := pgxpool.Connect(context.Background(), endpoint.URL)
	if err != nil {
		return nil, xerrors.Errorf("unable to connect to postgres: %w", err)
	}
	schema := endpoint.Database
	if schema == "" {
		schema = "public"
	}
	return &Provider{lgr: lgr, pool: pool, schema: schema}, nil
}

func (p *Provider) Type() abstract.DBType {
	return abstract.DBTypePostgres
}

func (p *Provider) Storage() (abstract.SnapshotSource, error) {
	return &storage{pool: p.pool, schema: p.schema}, nil
}

func (p *Provider) Sink() (abstract.Sinker, error) {
	return &sink{pool: p.pool}, nil
}

func (p *Provider) Rows() (abstract.RowStore, error) {
	return &rowStore{pool: p.pool}, nil
}

func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}
