// Package postgres implements query.Dialect for generic PostgreSQL: double
// quoted identifiers, `$N` positional placeholders.
package postgres

import (
	"fmt"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/query"
)

// Dialect is the PostgreSQL query.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) QuoteIdent(name string) string {
	return `"` + name + `"`
}

func (Dialect) Placeholder(argIndex int) string {
	return fmt.Sprintf("$%d", argIndex)
}

// QueryConfig builds statements for a dataset backed by PostgreSQL.
type QueryConfig struct{}

// GenerateQuery builds a SELECT for the node using the union of input
// values across its incoming edges (keyed by destination field name).
func (QueryConfig) GenerateQuery(node *model.TraversalNode, inputData map[string][]any, _ model.Policy) (*query.Statement, error) {
	return query.GenerateSelect(Dialect{}, node, inputData)
}

// GenerateUpdateStmt builds an UPDATE masking the row's targeted fields.
func (QueryConfig) GenerateUpdateStmt(node *model.TraversalNode, row model.Row, policy model.Policy, strict bool) (*query.Statement, error) {
	return query.GenerateUpdateStmt(Dialect{}, node, row, policy, strict)
}
