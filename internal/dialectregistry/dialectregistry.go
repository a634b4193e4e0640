// Package dialectregistry resolves a model.Dataset's declared Dialect
// string to the query.Config implementation that builds its statements.
// It lives outside internal/privacygraph/query because every dialect
// sub-package already imports query itself — a registry living inside
// query that imported postgres/redshift/snowflake/mongo back would be
// an import cycle.
package dialectregistry

import (
	"fmt"

	"github.com/medisync/privacygraph/internal/privacygraph/query"
	"github.com/medisync/privacygraph/internal/privacygraph/query/mongo"
	"github.com/medisync/privacygraph/internal/privacygraph/query/postgres"
	"github.com/medisync/privacygraph/internal/privacygraph/query/redshift"
	"github.com/medisync/privacygraph/internal/privacygraph/query/snowflake"
)

// Dialect names, matching model.Dataset.Dialect.
const (
	Postgres  = "postgres"
	Redshift  = "redshift"
	Snowflake = "snowflake"
	Mongo     = "mongo"
)

// Settings carries the per-dialect parameters a dataset's declaration may
// supply alongside its dialect name (e.g. Redshift's schema, Snowflake's
// account/role). Datasets that don't need any of these leave them zero.
type Settings struct {
	RedshiftSchema   string
	SnowflakeAccount string
	SnowflakeRole    string
}

// QueryConfigFor resolves a dialect name to its query.Config
// implementation.
func QueryConfigFor(dialect string, s Settings) (query.Config, error) {
	switch dialect {
	case Postgres:
		return postgres.QueryConfig{}, nil
	case Redshift:
		return redshift.QueryConfig{Schema: s.RedshiftSchema}, nil
	case Snowflake:
		return snowflake.QueryConfig{Account: s.SnowflakeAccount, Role: s.SnowflakeRole}, nil
	case Mongo:
		return mongo.QueryConfig{}, nil
	default:
		return nil, fmt.Errorf("dialectregistry: unknown dialect %q", dialect)
	}
}

// HasConnector reports whether a real connector.Connector implementation
// exists for the dialect. Redshift is wire-compatible with PostgreSQL and
// reuses internal/connector/postgres; Snowflake and Mongo have no
// connector in this tree (see DESIGN.md) and can only be used via the
// dry-run endpoint, which never touches a live connector.
func HasConnector(dialect string) bool {
	switch dialect {
	case Postgres, Redshift:
		return true
	default:
		return false
	}
}
