package mysql

import (
	"database/sql"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/providers"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
	"go.ytsaurus.tech/library/go/core/xerrors"

	_ "github.com/go-sql-driver/mysql"
)

func init() {
	providers.Register(abstract.DBTypeMySQL, func(lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (providers.Provider, error) {
		return NewProvider(lgr, endpoint)
	})
}

var (
	_ providers.Snapshot = (*Provider)(nil)
	_ providers.Sinker   = (*Provider)(nil)
	_ providers.Lookup   = (*Provider)(nil)
)

// Provider reads and writes one mysql database over a shared connection pool.
// The endpoint url is a go-sql-driver DSN; the database of the endpoint names
// the schema used for entity discovery and key detection.
type Provider struct {
	lgr      log.Logger
	db       *sql.DB
	database string
}

func NewProvider(lgr log.Logger, endpoint config.Endpoint) (*Provider, error) {
	db, err := sql.Open("mysql", endpoint.URL)
	if err != nil {
		return nil, xerrors.Errorf("unable to open mysql connection: %w", err)
	}
	return &Provider{lgr: lgr, db: db, database: endpoint.Database}, nil
}

// NewProviderWithDB wraps an existing handle; sqlmock-backed tests use it.
func NewProviderWithDB(lgr log.Logger, db *sql.DB, database string) *Provider {
	return &Provider{lgr: lgr, db: db, database: database}
}

func (p *Provider) Type() abstract.DBType {
	return abstract.DBTypeMySQL
}

func (p *Provider) Storage() (abstract.SnapshotSource, error) {
	return &storage{db: p.db, database: p.database}, nil
}

func (p *Provider) Sink() (abstract.Sinker, error) {
	return &sink{db: p.db}, nil
}

func (p *Provider) Rows() (abstract.RowStore, error) {
	return &rowStore{db: p.db}, nil
}

func (p *Provider) Close() error {
	return p.db.Close()
}
