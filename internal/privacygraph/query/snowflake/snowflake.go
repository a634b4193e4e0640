// Package snowflake implements query.Dialect for Snowflake: identifiers
// are double-quoted (Snowflake folds unquoted identifiers to upper case,
// so every identifier here is quoted to preserve the declared casing),
// placeholders use `?` per the Snowflake Go driver's convention, and the
// connection string carries account/role alongside the usual DSN fields.
package snowflake

import (
	"fmt"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/query"
)

// Dialect is the Snowflake query.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "snowflake" }

func (Dialect) QuoteIdent(name string) string { return `"` + name + `"` }

func (Dialect) Placeholder(int) string { return "?" }

// QueryConfig builds statements for a dataset backed by Snowflake.
type QueryConfig struct {
	Account string
	Role    string
}

func (QueryConfig) GenerateQuery(node *model.TraversalNode, inputData map[string][]any, _ model.Policy) (*query.Statement, error) {
	return query.GenerateSelect(Dialect{}, node, inputData)
}

func (QueryConfig) GenerateUpdateStmt(node *model.TraversalNode, row model.Row, policy model.Policy, strict bool) (*query.Statement, error) {
	return query.GenerateUpdateStmt(Dialect{}, node, row, policy, strict)
}

// ConnectionString builds a Snowflake DSN of the form
// user:password@account/database/schema, appending ?role=<role> when role
// is non-empty, so callers never have to special-case Snowflake's
// connection string shape.
func ConnectionString(user, password, account, database, schema, role string) string {
	dsn := fmt.Sprintf("%s:%s@%s/%s/%s", user, password, account, database, schema)
	if role != "" {
		dsn += "?role=" + role
	}
	return dsn
}
