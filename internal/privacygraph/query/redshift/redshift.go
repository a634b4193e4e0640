// Package redshift implements query.Dialect for Amazon Redshift: same
// quoting/placeholder conventions as Postgres, but every statement is
// preceded by a session-scoped `SET search_path` so the Statement can run
// against the configured schema without qualifying every table name.
package redshift

import (
	"fmt"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/query"
)

// Dialect is the Redshift query.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "redshift" }

func (Dialect) QuoteIdent(name string) string { return `"` + name + `"` }

func (Dialect) Placeholder(argIndex int) string { return fmt.Sprintf("$%d", argIndex) }

// QueryConfig builds statements for a dataset backed by Redshift, scoped
// to the given schema via `search_path`.
type QueryConfig struct {
	Schema string
}

func (c QueryConfig) GenerateQuery(node *model.TraversalNode, inputData map[string][]any, _ model.Policy) (*query.Statement, error) {
	stmt, err := query.GenerateSelect(Dialect{}, node, inputData)
	if err != nil || stmt == nil {
		return stmt, err
	}
	c.applySearchPath(stmt)
	return stmt, nil
}

func (c QueryConfig) GenerateUpdateStmt(node *model.TraversalNode, row model.Row, policy model.Policy, strict bool) (*query.Statement, error) {
	stmt, err := query.GenerateUpdateStmt(Dialect{}, node, row, policy, strict)
	if err != nil || stmt == nil {
		return stmt, err
	}
	c.applySearchPath(stmt)
	return stmt, nil
}

func (c QueryConfig) applySearchPath(stmt *query.Statement) {
	schema := c.Schema
	if schema == "" {
		schema = "public"
	}
	stmt.PreStatements = append(stmt.PreStatements, fmt.Sprintf("SET search_path TO %s", Dialect{}.QuoteIdent(schema)))
}
