package abstract

import (
	"fmt"
	"strings"

	"go.ytsaurus.tech/library/go/core/xerrors"
)

// DBType identifies a store kind. It travels inside position records, so the
// string values are part of the on-disk format and must stay stable.
type DBType string

const (
	DBTypeSample   DBType = "sample"
	DBTypeSQLite   DBType = "sqlite"
	DBTypeMySQL    DBType = "mysql"
	DBTypePostgres DBType = "pg"
	DBTypeMongo    DBType = "mongo"
	DBTypeRedis    DBType = "redis"
)

var knownDBTypes = map[DBType]bool{
	DBTypeSample:   true,
	DBTypeSQLite:   true,
	DBTypeMySQL:    true,
	DBTypePostgres: true,
	DBTypeMongo:    true,
	DBTypeRedis:    true,
}

func ParseDBType(raw string) (DBType, error) {
	dbType := DBType(strings.ToLower(strings.TrimSpace(raw)))
	if !knownDBTypes[dbType] {
		return "", xerrors.Errorf("unknown db_type: %q", raw)
	}
	return dbType, nil
}

// Entity is the unit of replication: a table, a collection, a keyspace.
// Identity is the (db_type, schema, tb) triple; progress and finish marks in
// the journal are keyed by it, so renames on the source invalidate resume.
type Entity struct {
	DBType DBType `json:"db_type"`
	Schema string `json:"schema"`
	Table  string `json:"tb"`
}

func NewEntity(dbType DBType, schema, table string) Entity {
	return Entity{DBType: dbType, Schema: schema, Table: table}
}

// Fqtn is the schema-qualified name used in logs and filter patterns.
func (e Entity) Fqtn() string {
	return fmt.Sprintf("%s.%s", e.Schema, e.Table)
}

// ID is the routing identity hashed by the parallelizer. It must be stable
// across runs but is never persisted.
func (e Entity) ID() string {
	return string(e.DBType) + "\x00" + e.Schema + "\x00" + e.Table
}

func (e Entity) String() string {
	return fmt.Sprintf("%s:%s.%s", e.DBType, e.Schema, e.Table)
}
