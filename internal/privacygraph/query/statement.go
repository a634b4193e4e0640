// Package query turns an abstract traversal node plus input values into a
// concrete SELECT or UPDATE statement, and implements the masking rules
// applied to erased fields. Dialect-specific quoting/placeholder/session
// behavior lives in the sub-packages (postgres, redshift, snowflake,
// mongo); this package holds the dialect-independent algorithm each of
// them shares.
package query

import (
	"fmt"
	"sort"

	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// Statement is a fully built query ready to hand to a Connector. Values
// that came from untrusted input (seed values, row values) are carried in
// Args/Filter/Update and never interpolated into SQL Text. Mongo's Text is
// a description that renders the Filter/Update documents, values included,
// and is never executed.
type Statement struct {
	Dialect           string
	Action            model.Action
	CollectionAddress model.CollectionAddress
	// Text is the parameter-bound SQL text (SQL dialects) or a
	// human-readable description of the operation (Mongo).
	Text string
	// Args are positional bound parameters for SQL dialects, in the order
	// referenced by Text's placeholders.
	Args []any
	// Filter is the structured Mongo filter document, nil for SQL
	// dialects.
	Filter map[string]any
	// Update is the structured Mongo update document (erasure only), nil
	// otherwise.
	Update map[string]any
	// PreStatements are session-scoped statements to run before Text
	// (e.g. Redshift's `SET search_path`).
	PreStatements []string
}

// Dialect abstracts the identifier-quoting and placeholder conventions
// that differ between SQL stores.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	Placeholder(argIndex int) string // argIndex is 1-based
}

// Config is the per-dialect statement builder the engine calls: produce a
// SELECT from input values, or an UPDATE masking one row. Each dialect
// sub-package (postgres, redshift, snowflake, mongo) implements this.
type Config interface {
	GenerateQuery(node *model.TraversalNode, inputData map[string][]any, policy model.Policy) (*Statement, error)
	GenerateUpdateStmt(node *model.TraversalNode, row model.Row, policy model.Policy, strict bool) (*Statement, error)
}

// inputPair is one (destination field name, candidate values) entry,
// sorted for deterministic statement generation.
type inputPair struct {
	Field  string
	Values []any
}

func sortedInputs(inputData map[string][]any) []inputPair {
	pairs := make([]inputPair, 0, len(inputData))
	for field, values := range inputData {
		if len(values) == 0 {
			continue
		}
		pairs = append(pairs, inputPair{Field: field, Values: values})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Field < pairs[j].Field })
	return pairs
}

// GenerateSelect builds a SELECT statement over every column of the
// node's collection, filtering with `dest_field IN (values)` for each
// non-empty input field, combined with OR. A nil Statement (no error)
// means every input field was empty or absent — the caller should skip
// the node's retrieval entirely for this round.
func GenerateSelect(d Dialect, node *model.TraversalNode, inputData map[string][]any) (*Statement, error) {
	if node == nil || node.Collection == nil {
		return nil, fmt.Errorf("query: node has no collection")
	}
	pairs := sortedInputs(inputData)
	if len(pairs) == 0 {
		return nil, nil
	}

	columns := topLevelColumnNames(node.Collection)
	quotedColumns := make([]string, len(columns))
	for i, c := range columns {
		quotedColumns[i] = d.QuoteIdent(c)
	}

	table := d.QuoteIdent(node.Address.Collection)

	var args []any
	var clauses []string
	for _, p := range pairs {
		placeholders := make([]string, len(p.Values))
		for i, v := range p.Values {
			args = append(args, v)
			placeholders[i] = d.Placeholder(len(args))
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", d.QuoteIdent(p.Field), joinStrings(placeholders, ", ")))
	}

	text := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		joinStrings(quotedColumns, ", "), table, joinStrings(clauses, " OR "))

	return &Statement{
		Dialect:           d.Name(),
		Action:            model.ActionAccess,
		CollectionAddress: node.Address,
		Text:              text,
		Args:              args,
	}, nil
}

// GenerateUpdateStmt builds an UPDATE statement masking the fields of row
// that match any erasure rule target, keyed on the collection's primary
// key. A nil Statement (no error) means the row lacks a usable primary
// key value, or no field in the row matched any erasure target.
func GenerateUpdateStmt(d Dialect, node *model.TraversalNode, row model.Row, policy model.Policy, strict bool) (*Statement, error) {
	if node == nil || node.Collection == nil {
		return nil, fmt.Errorf("query: node has no collection")
	}

	pk := primaryKeyField(node.Collection)
	if pk == nil {
		return nil, nil
	}
	pkValue, ok := row[pk.Name]
	if !ok || pkValue == nil {
		return nil, nil
	}

	var args []any
	var setClauses []string
	for _, f := range node.Collection.Fields {
		rule, matched := policy.ErasureRuleFor(f.DataCategories)
		if !matched {
			continue
		}
		if rule.Strategy == nil {
			if strict {
				return nil, fmt.Errorf("query: field %q matched erasure rule %q with no masking strategy", f.Name, rule.Name)
			}
			continue // non-strict: skip this field
		}
		masked := ApplyMaskingStrategy(*rule.Strategy, row[f.Name])
		args = append(args, masked)
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", d.QuoteIdent(f.Name), d.Placeholder(len(args))))
	}

	if len(setClauses) == 0 {
		return nil, nil
	}

	args = append(args, pkValue)
	text := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		d.QuoteIdent(node.Address.Collection),
		joinStrings(setClauses, ", "),
		d.QuoteIdent(pk.Name),
		d.Placeholder(len(args)),
	)

	return &Statement{
		Dialect:           d.Name(),
		Action:            model.ActionErasure,
		CollectionAddress: node.Address,
		Text:              text,
		Args:              args,
	}, nil
}

func primaryKeyField(c *model.Collection) *model.Field {
	for _, f := range c.Fields {
		if f.PrimaryKey {
			return f
		}
	}
	return nil
}

func topLevelColumnNames(c *model.Collection) []string {
	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	return names
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// MatchesCategory reports whether a field's declared categories are
// matched by the given requested categories (dotted-segment prefix).
func MatchesCategory(requested []fieldpath.Category, declared []fieldpath.Category) bool {
	return fieldpath.MatchesAny(requested, declared)
}
