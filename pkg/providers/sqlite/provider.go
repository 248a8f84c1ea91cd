package sqlite

import (
	"database/sql"

	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	"github.com/doublecloud/ferry/pkg/providers"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
	"go.ytsaurus.tech/library/go/core/xerrors"

	_ "modernc.org/sqlite"
)

func init() {
	providers.Register(abstract.DBTypeSQLite, func(lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (providers.Provider, error) {
		return NewProvider(lgr, endpoint)
	})
}

var (
	_ providers.Snapshot = (*Provider)(nil)
	_ providers.Sinker   = (*Provider)(nil)
	_ providers.Lookup   = (*Provider)(nil)
)

// Provider talks to one sqlite database file (or :memory: for tests). The
// endpoint url is the driver DSN; the schema name of entities is the logical
// database name from the endpoint, sqlite itself has no schemas.
type Provider struct {
	lgr    log.Logger
	db     *sql.DB
	schema string
}

func NewProvider(lgr log.Logger, endpoint config.Endpoint) (*Provider, error) {
	db, err := sql.Open("sqlite", endpoint.URL)
	if err != nil {
		return nil, xerrors.Errorf("unable to open sqlite database: %w", err)
	}
	schema := endpoint.Database
	if schema == "" {
		schema = "main"
	}
	return &Provider{lgr: lgr, db: db, schema: schema}, nil
}

// NewProviderWithDB wraps an existing handle; tests seed the database first
// and then hand it over.
func NewProviderWithDB(lgr log.Logger, db *sql.DB, schema string) *Provider {
	return &Provider{lgr: lgr, db: db, schema: schema}
}

func (p *Provider) Type() abstract.DBType {
	return abstract.DBTypeSQLite
}

func (p *Provider) Storage() (abstract.SnapshotSource, error) {
	return &storage{db: p.db, schema: p.schema}, nil
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
