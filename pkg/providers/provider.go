package providers

import (
	"github.com/doublecloud/ferry/pkg/abstract"
	"github.com/doublecloud/ferry/pkg/config"
	ferrors "github.com/doublecloud/ferry/pkg/errors"
	"github.com/doublecloud/ferry/pkg/errors/categories"
	"go.ytsaurus.tech/library/go/core/log"
	"go.ytsaurus.tech/library/go/core/metrics"
)

// Provider is a bare minimal implementation of provider that can do anything except existing.
type Provider interface {
	Type() abstract.DBType
	Close() error
}

// Snapshot adds an abstract.SnapshotSource factory to a provider: the
// provider can enumerate entities and read historical snapshots of data.
type Snapshot interface {
	Provider
	Storage() (abstract.SnapshotSource, error)
}

// Replication adds an abstract.ChangeSource factory to a provider: the
// provider can stream live changes.
type Replication interface {
	Provider
	Source() (abstract.ChangeSource, error)
}

// Sinker adds a generic writer factory to a provider. Sink is called once per
// parallel worker; each returned sinker is owned by that worker exclusively.
type Sinker interface {
	Provider
	Sink() (abstract.Sinker, error)
}

// Lookup adds a point-read factory to a provider, used by check, review and
// revise passes. The returned store must tolerate concurrent Get calls.
type Lookup interface {
	Provider
	Rows() (abstract.RowStore, error)
}

type ProviderFactory func(lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (Provider, error)

var knownProviders = map[abstract.DBType]ProviderFactory{}

// Register add new provider factory to known providers registry.
func Register(dbType abstract.DBType, fac ProviderFactory) {
	knownProviders[dbType] = fac
}

// New constructs the provider for an endpoint. An unregistered db_type is a
// config error: the task file names a store this build cannot talk to.
func New(lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (Provider, error) {
	dbType, err := endpoint.ParsedDBType()
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Config, "unable to resolve provider: %w", err)
	}
	factory, ok := knownProviders[dbType]
	if !ok {
		return nil, ferrors.CategorizedErrorf(categories.Config, "no provider registered for db_type %q", dbType)
	}
	provider, err := factory(lgr, registry, endpoint)
	if err != nil {
		return nil, ferrors.CategorizedErrorf(categories.Config, "unable to construct %s provider: %w", dbType, err)
	}
	return provider, nil
}

// Resolve constructs the provider and requires capability T from it.
func Resolve[T Provider](lgr log.Logger, registry metrics.Registry, endpoint config.Endpoint) (T, error) {
	var zero T
	provider, err := New(lgr, registry, endpoint)
	if err != nil {
		return zero, err
	}
	typed, ok := provider.(T)
	if !ok {
		_ = provider.Close()
		return zero, ferrors.CategorizedErrorf(categories.Config,
			"provider %s does not support the capability required by this mode", provider.Type())
	}
	return typed, nil
}
