package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisync/privacygraph/internal/privacygraph/fieldpath"
	"github.com/medisync/privacygraph/internal/privacygraph/filter"
	"github.com/medisync/privacygraph/internal/privacygraph/graph"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

func buildCustomerGraph(t *testing.T) (*model.DatasetGraph, model.CollectionAddress) {
	t.Helper()
	ds := &model.Dataset{
		Name: "crm",
		Collections: []*model.Collection{
			{
				Name: "customer",
				Fields: []*model.Field{
					{Name: "id", Type: model.FieldTypeScalar, PrimaryKey: true, DataCategories: []fieldpath.Category{"system.operations"}},
					{Name: "email", Type: model.FieldTypeScalar, DataCategories: []fieldpath.Category{"user.provided.identifiable.contact.email"}},
					{
						Name: "address",
						Type: model.FieldTypeObject,
						Fields: []*model.Field{
							{Name: "city", Type: model.FieldTypeScalar, DataCategories: []fieldpath.Category{"user.provided.identifiable.contact.address"}},
						},
					},
				},
			},
		},
	}
	g, err := graph.Build([]*model.Dataset{ds})
	require.NoError(t, err)
	return g, model.CollectionAddress{Dataset: "crm", Collection: "customer"}
}

func TestResults_FiltersByRequestedCategory(t *testing.T) {
	g, addr := buildCustomerGraph(t)

	results := map[string][]model.Row{
		addr.Key(): {
			{"id": "1", "email": "alice@example.com", "address": model.Row{"city": "Springfield"}},
		},
	}

	out := filter.Results(results, g, []fieldpath.Category{"user.provided.identifiable.contact.email"})

	require.Contains(t, out, addr.Key())
	rows := out[addr.Key()]
	require.Len(t, rows, 1)
	assert.Equal(t, "alice@example.com", rows[0]["email"])
	assert.NotContains(t, rows[0], "id", "id is not in the requested category")
	assert.NotContains(t, rows[0], "address", "nested address has no matching descendant field")
}

func TestResults_PrunesEmptyRows(t *testing.T) {
	g, addr := buildCustomerGraph(t)

	results := map[string][]model.Row{
		addr.Key(): {
			{"id": "1", "email": "alice@example.com"},
		},
	}

	out := filter.Results(results, g, []fieldpath.Category{"system.operations.billing"})
	assert.NotContains(t, out, addr.Key(), "collection whose rows all filter to empty must be dropped")
}

func TestResults_NestedObjectFieldsSurviveWhenMatched(t *testing.T) {
	g, addr := buildCustomerGraph(t)

	results := map[string][]model.Row{
		addr.Key(): {
			{"id": "1", "address": model.Row{"city": "Springfield"}},
		},
	}

	out := filter.Results(results, g, []fieldpath.Category{"user.provided.identifiable.contact.address"})
	require.Contains(t, out, addr.Key())
	rows := out[addr.Key()]
	require.Len(t, rows, 1)
	nested, ok := rows[0]["address"].(model.Row)
	require.True(t, ok)
	assert.Equal(t, "Springfield", nested["city"])
}

func TestResults_UnknownCollectionKeyIsIgnored(t *testing.T) {
	g, _ := buildCustomerGraph(t)
	results := map[string][]model.Row{
		"nonexistent.collection": {{"a": 1}},
	}
	out := filter.Results(results, g, []fieldpath.Category{"anything"})
	assert.Empty(t, out)
}
