package traversal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medisync/privacygraph/internal/privacygraph/graph"
	"github.com/medisync/privacygraph/internal/privacygraph/model"
	"github.com/medisync/privacygraph/internal/privacygraph/traversal"
)

func buildGraph(t *testing.T) *model.DatasetGraph {
	t.Helper()
	ds := &model.Dataset{
		Name: "crm",
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
							{Target: model.NewFieldAddress("crm", "customer", "id"), Direction: model.DirectionFrom},
						},
					},
				},
			},
			{
				Name: "orphan",
				Fields: []*model.Field{
					{Name: "id", Type: model.FieldTypeScalar, PrimaryKey: true},
				},
			},
		},
	}
	g, err := graph.Build([]*model.Dataset{ds})
	require.NoError(t, err)
	return g
}

func TestPlan_OrdersByDependency(t *testing.T) {
	g := buildGraph(t)
	tr, err := traversal.Plan(g, map[string]string{"email": "alice@example.com"})

	plannerErr, ok := err.(*traversal.Error)
	require.True(t, ok, "expected *traversal.Error for the unreachable orphan collection")
	assert.Len(t, plannerErr.Unreachable, 1)
	assert.Equal(t, "orphan", plannerErr.Unreachable[0].Collection)

	positions := make(map[string]int, len(tr.Order))
	for i, n := range tr.Order {
		positions[n.Address.Key()] = i
	}

	customerKey := model.CollectionAddress{Dataset: "crm", Collection: "customer"}.Key()
	orderKey := model.CollectionAddress{Dataset: "crm", Collection: "order"}.Key()

	require.Contains(t, positions, customerKey)
	require.Contains(t, positions, orderKey)
	assert.Less(t, positions[customerKey], positions[orderKey], "customer must be scheduled before order")
}

func TestPlan_DeterministicTieBreaking(t *testing.T) {
	g := buildGraph(t)

	var orders [][]string
	for i := 0; i < 5; i++ {
		tr, _ := traversal.Plan(g, map[string]string{"email": "alice@example.com"})
		var keys []string
		for _, n := range tr.Order {
			keys = append(keys, n.Address.Key())
		}
		orders = append(orders, keys)
	}

	for i := 1; i < len(orders); i++ {
		assert.Equal(t, orders[0], orders[i], "repeated planning over the same graph must produce the same order")
	}
}

func TestPlan_FullyReachableGraphHasNoUnreachable(t *testing.T) {
	ds := &model.Dataset{
		Name: "crm",
		Collections: []*model.Collection{
			{
				Name: "customer",
				Fields: []*model.Field{
					{Name: "id", Type: model.FieldTypeScalar, PrimaryKey: true},
					{Name: "email", Type: model.FieldTypeScalar, Identity: "email"},
				},
			},
		},
	}
	g, err := graph.Build([]*model.Dataset{ds})
	require.NoError(t, err)

	tr, err := traversal.Plan(g, map[string]string{"email": "alice@example.com"})
	require.NoError(t, err)
	assert.Empty(t, tr.Unreachable)

	root := false
	for _, n := range tr.Order {
		if n.IsRoot() {
			root = true
		}
	}
	assert.True(t, root, "Order must include the synthetic ROOT node")
}
