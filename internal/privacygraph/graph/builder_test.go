package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisync/privacygraph/internal/privacygraph/graph"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

func customerDataset() *model.Dataset {
	return &model.Dataset{
		Name:    "crm",
		Dialect: "postgres",
		Collections: []*model.Collection{
			{
				Name: "customer",
				Fields: []*model.Field{
					{Name: "id", Type: model.FieldTypeScalar, PrimaryKey: true},
					{Name: "email", Type: model.FieldTypeScalar, Identity: "email"},
				},
			},
			{
				Name: "order",
				Fields: []*model.Field{
					{Name: "id", Type: model.FieldTypeScalar, PrimaryKey: true},
					{
						Name: "customer_id",
						Type: model.FieldTypeScalar,
						References: []model.Reference{
							{
								Target:    model.NewFieldAddress("crm", "customer", "id"),
								Direction: model.DirectionFrom,
							},
						},
					},
				},
			},
		},
	}
}

func TestBuild_ResolvesIdentityAndReferenceEdges(t *testing.T) {
	g, err := graph.Build([]*model.Dataset{customerDataset()})
	require.NoError(t, err)

	require.Contains(t, g.IdentityKeys, model.NewFieldAddress("crm", "customer", "email").Key())
	assert.Equal(t, "email", g.IdentityKeys[model.NewFieldAddress("crm", "customer", "email").Key()])

	foundRootEdge := false
	foundReferenceEdge := false
	for _, e := range g.Edges {
		if e.Source.IsRoot() && e.Destination.Equal(model.NewFieldAddress("crm", "customer", "email")) {
			foundRootEdge = true
		}
		if e.Source.Equal(model.NewFieldAddress("crm", "customer", "id")) &&
			e.Destination.Equal(model.NewFieldAddress("crm", "order", "customer_id")) {
			foundReferenceEdge = true
		}
	}
	assert.True(t, foundRootEdge, "expected a ROOT->identity edge")
	assert.True(t, foundReferenceEdge, "expected a customer.id->order.customer_id edge")
}

func TestBuild_DuplicateCollectionIsConfigError(t *testing.T) {
	ds := customerDataset()
	dup := []*model.Dataset{ds, ds}

	_, err := graph.Build(dup)
	require.Error(t, err)

	cfgErr, ok := err.(*graph.ConfigError)
	require.True(t, ok, "expected *graph.ConfigError, got %T", err)
	assert.Equal(t, graph.KindDuplicateCollection, cfgErr.Kind)
}

func TestBuild_UnknownFieldReferenceIsConfigError(t *testing.T) {
	ds := &model.Dataset{
		Name: "crm",
		Collections: []*model.Collection{
			{
				Name: "order",
				Fields: []*model.Field{
					{
						Name: "customer_id",
						Type: model.FieldTypeScalar,
						References: []model.Reference{
							{Target: model.NewFieldAddress("crm", "customer", "id"), Direction: model.DirectionFrom},
						},
					},
				},
			},
		},
	}

	_, err := graph.Build([]*model.Dataset{ds})
	require.Error(t, err)

	cfgErr, ok := err.(*graph.ConfigError)
	require.True(t, ok)
	assert.Equal(t, graph.KindUnknownFieldReference, cfgErr.Kind)
}

func TestBuild_BidirectionalReferenceProducesBothEdges(t *testing.T) {
	ds := &model.Dataset{
		Name: "crm",
		Collections: []*model.Collection{
			{Name: "a", Fields: []*model.Field{{Name: "x", Type: model.FieldTypeScalar}}},
			{
				Name: "b",
				Fields: []*model.Field{
					{
						Name: "y",
						Type: model.FieldTypeScalar,
						References: []model.Reference{
							{Target: model.NewFieldAddress("crm", "a", "x"), Direction: model.DirectionBoth},
						},
					},
				},
			},
		},
	}

	g, err := graph.Build([]*model.Dataset{ds})
	require.NoError(t, err)

	aToB, bToA := false, false
	for _, e := range g.Edges {
		if e.Source.Equal(model.NewFieldAddress("crm", "a", "x")) && e.Destination.Equal(model.NewFieldAddress("crm", "b", "y")) {
			aToB = true
		}
		if e.Source.Equal(model.NewFieldAddress("crm", "b", "y")) && e.Destination.Equal(model.NewFieldAddress("crm", "a", "x")) {
			bToA = true
		}
	}
	assert.True(t, aToB)
	assert.True(t, bToA)
}

func TestBuild_DedupesEdges(t *testing.T) {
	ds := &model.Dataset{
		Name: "crm",
		Collections: []*model.Collection{
			{Name: "a", Fields: []*model.Field{{Name: "x", Type: model.FieldTypeScalar}}},
			{
				Name: "b",
				Fields: []*model.Field{
					{
						Name: "y",
						Type: model.FieldTypeScalar,
						References: []model.Reference{
							{Target: model.NewFieldAddress("crm", "a", "x"), Direction: model.DirectionFrom},
							{Target: model.NewFieldAddress("crm", "a", "x"), Direction: model.DirectionFrom},
						},
					},
				},
			},
		},
	}

	g, err := graph.Build([]*model.Dataset{ds})
	require.NoError(t, err)

	count := 0
	for _, e := range g.Edges {
		if e.Source.Equal(model.NewFieldAddress("crm", "a", "x")) && e.Destination.Equal(model.NewFieldAddress("crm", "b", "y")) {
			count++
		}
	}
	assert.Equal(t, 1, count, "duplicate references should collapse to one edge")
}
