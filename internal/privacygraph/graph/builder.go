// Package graph builds a DatasetGraph from one or more Dataset
// declarations: it flattens nested fields to addresses, resolves
// references into directed edges, and records identity seed keys.
package graph

import (
	"fmt"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// ConfigError is returned for malformed dataset declarations discovered
// while building the graph. It is fatal at construction and is never
// retried.
type ConfigError struct {
	Kind   string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("privacygraph: config error (%s): %s", e.Kind, e.Detail)
}

const (
	KindUnknownFieldReference = "unknown_field_reference"
	KindDuplicateCollection   = "duplicate_collection"
)

// Build merges the given datasets into a single DatasetGraph.
func Build(datasets []*model.Dataset) (*model.DatasetGraph, error) {
	g := model.NewDatasetGraph()

	addrToField := make(map[string]*model.Field)
	addrToAddress := make(map[string]model.FieldAddress)

	for _, ds := range datasets {
		for _, col := range ds.Collections {
			addr := model.CollectionAddress{Dataset: ds.Name, Collection: col.Name}
			if _, exists := g.Collections[addr.Key()]; exists {
				return nil, &ConfigError{Kind: KindDuplicateCollection, Detail: addr.Key()}
			}
			g.Collections[addr.Key()] = col
			g.CollectionAddresses[addr.Key()] = addr

			flattenFields(ds.Name, col.Name, nil, col.Fields, addrToField, addrToAddress)
		}
	}

	// Second pass: resolve references now that every field is known.
	for key, field := range addrToField {
		fieldAddr := addrToAddress[key]
		for _, ref := range field.References {
			if _, ok := addrToField[ref.Target.Key()]; !ok {
				return nil, &ConfigError{Kind: KindUnknownFieldReference, Detail: ref.Target.Key()}
			}
			switch ref.Direction {
			case model.DirectionFrom:
				g.Edges = append(g.Edges, model.Edge{Source: ref.Target, Destination: fieldAddr})
			case model.DirectionTo:
				g.Edges = append(g.Edges, model.Edge{Source: fieldAddr, Destination: ref.Target})
			case model.DirectionBoth:
				g.Edges = append(g.Edges, model.Edge{Source: ref.Target, Destination: fieldAddr})
				g.Edges = append(g.Edges, model.Edge{Source: fieldAddr, Destination: ref.Target})
			}
		}

		if field.Identity != "" {
			root := model.RootAddress(field.Identity)
			g.Edges = append(g.Edges, model.Edge{Source: root, Destination: fieldAddr})
			g.IdentityKeys[fieldAddr.Key()] = field.Identity
		}
	}

	g.Edges = dedupeEdges(g.Edges)

	return g, nil
}

// flattenFields records every field (recursively, including nested
// object/array children) into addrToField and addrToAddress, keyed by
// each field's own resolved address.
func flattenFields(dataset, collection string, prefix []string, fields []*model.Field, addrToField map[string]*model.Field, addrToAddress map[string]model.FieldAddress) {
	for _, f := range fields {
		path := append(append([]string{}, prefix...), f.Name)
		addr := model.FieldAddress{Dataset: dataset, Collection: collection, Path: path}
		addrToField[addr.Key()] = f
		addrToAddress[addr.Key()] = addr
		if len(f.Fields) > 0 {
			flattenFields(dataset, collection, path, f.Fields, addrToField, addrToAddress)
		}
	}
}

func dedupeEdges(edges []model.Edge) []model.Edge {
	seen := make(map[string]bool, len(edges))
	out := make([]model.Edge, 0, len(edges))
	for _, e := range edges {
		k := e.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
