package mongo

import (
	"context"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/providers"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
	"go.ytsaurus.tech/library/go/core/xerrors"
)

func init() {
	providers.Register(abstract.DBTypeMongo, func(lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (providers.Provider, error) {
		return NewProvider(lgr, endpoint)
	})
}

var (
	_ providers.Snapshot = (*Provider)(nil)
	_ providers.Sinker   = (*Provider)(nil)
	_ providers.Lookup   = (*Provider)(nil)
)

// Provider reads and writes one mongo database. Collections are the entities;
// _id is always the order column, every collection has it and it is unique,
// so mongo entities always support resumable scans.
type Provider struct {
	lgr      log.Logger
	client   *mongo.Client
	database string
}

func NewProvider(lgr log.Logger, endpoint config.Endpoint) (*Provider, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(endpoint.URL))
	if err != nil {
		return nil, xerrors.Errorf("unable to connect to mongo: %w", err)
	}
	return &Provider{lgr: lgr, client: client, database: endpoint.Database}, nil
}

func (p *Provider) Type() abstract.DBType {
	return abstract.DBTypeMongo
}

func (p *Provider) Storage() (abstract.SnapshotSource, error) {
	return &storage{db: p.client.Database(p.database), database: p.database}, nil
}

func (p *Provider) Sink() (abstract.Sinker, error) {
	return &sink{db: p.client.Database(p.database)}, nil
}

func (p *Provider) Rows() (abstract.RowStore, error) {
	return &rowStore{db: p.client.Database(p.database)}, nil
}

func (p *Provider) Close() error {
	return p.client.Disconnect(context.Background())
}
