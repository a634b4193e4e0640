package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// datasetDecl is the on-disk JSON shape of a dataset_config.declaration
// column. It mirrors model.Dataset but uses plain strings/tags so the
// wire format stays stable even if the in-memory model's field order or
// unexported bookkeeping changes.
type datasetDecl struct {
	Name          string           `json:"name"`
	Dialect       string           `json:"dialect"`
	ConnectionURI string           `json:"connection_uri"`
	Schema        string           `json:"schema,omitempty"`
	Collections   []collectionDecl `json:"collections"`
	After         []addressDecl    `json:"after"`
}

type collectionDecl struct {
	Name   string        `json:"name"`
	Fields []fieldDecl   `json:"fields"`
	After  []addressDecl `json:"after"`
}

type fieldDecl struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Fields         []fieldDecl     `json:"fields,omitempty"`
	PrimaryKey     bool            `json:"primary_key,omitempty"`
	DataCategories []string        `json:"data_categories,omitempty"`
	Identity       string          `json:"identity,omitempty"`
	References     []referenceDecl `json:"references,omitempty"`
}

type referenceDecl struct {
	Dataset    string `json:"dataset"`
	Collection string `json:"collection"`
	Path       string `json:"path"`
	Direction  string `json:"direction"`
}

type addressDecl struct {
	Dataset    string `json:"dataset"`
	Collection string `json:"collection"`
}

func (a addressDecl) toModel() model.CollectionAddress {
	return model.CollectionAddress{Dataset: a.Dataset, Collection: a.Collection}
}

func (f fieldDecl) toModel() *model.Field {
	field := &model.Field{
		Name:       f.Name,
		Type:       model.FieldType(f.Type),
		PrimaryKey: f.PrimaryKey,
		Identity:   f.Identity,
	}
	for _, c := range f.DataCategories {
		field.DataCategories = append(field.DataCategories, fieldpath.Category(c))
	}
	for _, child := range f.Fields {
		field.Fields = append(field.Fields, child.toModel())
	}
	for _, r := range f.References {
		field.References = append(field.References, model.Reference{
			Target:    model.NewFieldAddress(r.Dataset, r.Collection, r.Path),
			Direction: model.ReferenceDirection(r.Direction),
		})
	}
	return field
}

func (d datasetDecl) toModel() *model.Dataset {
	dataset := &model.Dataset{Name: d.Name, Dialect: d.Dialect, ConnectionURI: d.ConnectionURI, Schema: d.Schema}
	for _, a := range d.After {
		dataset.After = append(dataset.After, a.toModel())
	}
	for _, c := range d.Collections {
		collection := &model.Collection{Name: c.Name}
		for _, a := range c.After {
			collection.After = append(collection.After, a.toModel())
		}
		for _, f := range c.Fields {
			collection.Fields = append(collection.Fields, f.toModel())
		}
		dataset.Collections = append(dataset.Collections, collection)
	}
	return dataset
}

// LoadDatasets loads and deserializes dataset declarations for the given
// keys, ready to hand to graph.Build.
func (s *Store) LoadDatasets(ctx context.Context, keys []string) ([]*model.Dataset, error) {
	rows, err := s.LoadDatasetConfigs(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Dataset, 0, len(rows))
	for _, row := range rows {
		var decl datasetDecl
		if err := json.Unmarshal(row.Declaration, &decl); err != nil {
			return nil, fmt.Errorf("store: failed to unmarshal dataset declaration %q: %w", row.Key, err)
		}
		out = append(out, decl.toModel())
	}
	return out, nil
}
