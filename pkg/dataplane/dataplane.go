// Package dataplane links every provider into the binary.
package dataplane

import (
	_ "github.com/doublecloud/ferry/pkg/providers/mongo"
	_ "github.com/doublecloud/ferry/pkg/providers/mysql"
	_ "github.com/doublecloud/ferry/pkg/providers/postgres"
	_ "github.com/doublecloud/ferry/pkg/providers/redis"
	_ "github.com/doublecloud/ferry/pkg/providers/sample"
	_ "github.com/doublecloud/ferry/pkg/providers/sqlite"
)
