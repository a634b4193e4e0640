// Package filter projects retrieved rows onto a requested set of data
// categories, walking nested field paths and pruning empty containers.
package filter

import (
	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// Results applies the filter to every collection in access results,
// dropping any collection whose filtered rows collapse to empty.
func Results(results map[string][]model.Row, graph *model.DatasetGraph, requested []fieldpath.Category) map[string][]model.Row {
	out := make(map[string][]model.Row, len(results))
	for key, rows := range results {
		addr, ok := graph.CollectionAddresses[key]
		if !ok {
			continue
		}
		col, ok := graph.Collection(addr)
		if !ok {
			continue
		}

		var filteredRows []model.Row
		for _, row := range rows {
			filtered := filterRow(row, col.Fields, requested)
			if len(filtered) > 0 {
				filteredRows = append(filteredRows, filtered)
			}
		}
		if len(filteredRows) > 0 {
			out[key] = filteredRows
		}
	}
	return out
}

// filterRow walks fields alongside row's values, copying a value into the
// output only if the field (or, for object/array fields, at least one
// descendant field) matches a requested category.
func filterRow(row model.Row, fields []*model.Field, requested []fieldpath.Category) model.Row {
	out := make(model.Row)
	for _, f := range fields {
		val, present := row[f.Name]
		if !present {
			continue
		}

		switch f.Type {
		case model.FieldTypeObject:
			nested, ok := val.(model.Row)
			if !ok {
				if fieldpath.MatchesAny(requested, f.DataCategories) {
					out[f.Name] = val
				}
				continue
			}
			filteredNested := filterRow(nested, f.Fields, requested)
			if len(filteredNested) > 0 {
				out[f.Name] = filteredNested
			}
		case model.FieldTypeArray:
			items, ok := val.([]model.Row)
			if !ok {
				if fieldpath.MatchesAny(requested, f.DataCategories) {
					out[f.Name] = val
				}
				continue
			}
			var filteredItems []model.Row
			for _, item := range items {
				filteredItem := filterRow(item, f.Fields, requested)
				if len(filteredItem) > 0 {
					filteredItems = append(filteredItems, filteredItem)
				}
			}
			if len(filteredItems) > 0 {
				out[f.Name] = filteredItems
			}
		default:
			if fieldpath.MatchesAny(requested, f.DataCategories) {
				out[f.Name] = val
			}
		}
	}
	return out
}
