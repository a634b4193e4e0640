// Package mongo implements the QueryConfig contract for MongoDB. Mongo has
// no SQL text, so statements carry a structured Filter/Update document
// instead of Text/Args; Text is still populated with a human-readable
// description for logging and the dry-run endpoint.
package mongo

import (
	"fmt"
	"sort"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/query"
)

// QueryConfig builds statements for a dataset backed by MongoDB.
type QueryConfig struct{}

// GenerateQuery builds a find-filter document ORing `dest_field IN
// (values)` across every non-empty input field, mirroring the SQL
// dialects' semantics exactly.
func (QueryConfig) GenerateQuery(node *model.TraversalNode, inputData map[string][]any, _ model.Policy) (*query.Statement, error) {
	if node == nil || node.Collection == nil {
		return nil, fmt.Errorf("mongo: node has no collection")
	}

	fields := make([]string, 0, len(inputData))
	for field, values := range inputData {
		if len(values) > 0 {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return nil, nil
	}
	sort.Strings(fields)

	var or []map[string]any
	for _, field := range fields {
		or = append(or, map[string]any{field: map[string]any{"$in": inputData[field]}})
	}

	filter := map[string]any{"$or": or}

	return &query.Statement{
		Dialect:           "mongo",
		Action:            model.ActionAccess,
		CollectionAddress: node.Address,
		Text:              fmt.Sprintf("db.%s.find(%s)", node.Address.Collection, describeFilter(filter)),
		Filter:            filter,
	}, nil
}

// GenerateUpdateStmt builds a `$set`/`$unset` update document masking the
// row's targeted fields, scoped to the row's primary key value.
func (QueryConfig) GenerateUpdateStmt(node *model.TraversalNode, row model.Row, policy model.Policy, strict bool) (*query.Statement, error) {
	if node == nil || node.Collection == nil {
		return nil, fmt.Errorf("mongo: node has no collection")
	}

	pk := primaryKeyField(node.Collection)
	if pk == nil {
		return nil, nil
	}
	pkValue, ok := row[pk.Name]
	if !ok || pkValue == nil {
		return nil, nil
	}

	set := map[string]any{}
	unset := map[string]any{}
	for _, f := range node.Collection.Fields {
		rule, matched := policy.ErasureRuleFor(f.DataCategories)
		if !matched {
			continue
		}
		if rule.Strategy == nil {
			if strict {
				return nil, fmt.Errorf("mongo: field %q matched erasure rule %q with no masking strategy", f.Name, rule.Name)
			}
			continue
		}
		masked := query.ApplyMaskingStrategy(*rule.Strategy, row[f.Name])
		if masked == nil {
			unset[f.Name] = ""
		} else {
			set[f.Name] = masked
		}
	}

	if len(set) == 0 && len(unset) == 0 {
		return nil, nil
	}

	update := map[string]any{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	filter := map[string]any{pk.Name: pkValue}

	return &query.Statement{
		Dialect:           "mongo",
		Action:            model.ActionErasure,
		CollectionAddress: node.Address,
		Text:              fmt.Sprintf("db.%s.updateOne(%s, %s)", node.Address.Collection, describeFilter(filter), describeFilter(update)),
		Filter:            filter,
		Update:            update,
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

// describeFilter renders a filter/update document for logging purposes
// only; it is never parsed back and never used to build an executable
// query, so it carries no injection risk.
func describeFilter(doc map[string]any) string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %v", k, doc[k])
	}
	return out + "}"
}
