package model

// DatasetGraph is the flattened, merged representation of one or more
// Dataset declarations: every field resolved to an address, every
// reference resolved to a directed Edge, and every identity field recorded
// as a seed key.
type DatasetGraph struct {
	// Collections is keyed by CollectionAddress.Key().
	Collections map[string]*Collection
	// CollectionAddresses maps a collection key back to its
	// CollectionAddress (and so its declaring dataset name), kept
	// alongside for convenience when only a *Collection is in hand.
	CollectionAddresses map[string]CollectionAddress
	// Edges is the full directed edge set, deduplicated.
	Edges []Edge
	// IdentityKeys maps a field address to the seed-key name it is seeded
	// from (e.g. "email").
	IdentityKeys map[string]string // keyed by FieldAddress.Key()
}

// NewDatasetGraph returns an empty, initialized graph.
func NewDatasetGraph() *DatasetGraph {
	return &DatasetGraph{
		Collections:         make(map[string]*Collection),
		CollectionAddresses: make(map[string]CollectionAddress),
		IdentityKeys:        make(map[string]string),
	}
}

// Collection looks up a collection by address.
func (g *DatasetGraph) Collection(addr CollectionAddress) (*Collection, bool) {
	c, ok := g.Collections[addr.Key()]
	return c, ok
}

// EdgesInto returns every edge whose Destination is within the given
// collection.
func (g *DatasetGraph) EdgesInto(addr CollectionAddress) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Destination.CollectionAddress() == addr {
			out = append(out, e)
		}
	}
	return out
}

// EdgesOutOf returns every edge whose Source is within the given
// collection.
func (g *DatasetGraph) EdgesOutOf(addr CollectionAddress) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source.CollectionAddress() == addr {
			out = append(out, e)
		}
	}
	return out
}

// RequiredSourceCollections returns the distinct source collection
// addresses (excluding ROOT) for every edge feeding the given collection,
// plus whether at least one of its inputs originates at ROOT.
func (g *DatasetGraph) RequiredSourceCollections(addr CollectionAddress) (sources []CollectionAddress, seeded bool) {
	seen := make(map[string]bool)
	for _, e := range g.EdgesInto(addr) {
		src := e.Source.CollectionAddress()
		if src.IsRoot() {
			seeded = true
			continue
		}
		key := src.Key()
		if !seen[key] {
			seen[key] = true
			sources = append(sources, src)
		}
	}
	return sources, seeded
}

// TraversalNode wraps a Collection with its resolved incoming and outgoing
// edges for one particular Traversal.
type TraversalNode struct {
	Address        CollectionAddress
	Collection     *Collection // nil for the synthetic ROOT/TERMINATOR nodes
	IncomingEdges  []Edge
	OutgoingEdges  []Edge
}

// IsRoot reports whether this node is the synthetic ROOT node.
func (n *TraversalNode) IsRoot() bool { return n.Address.IsRoot() }

// Traversal is a DatasetGraph plus a starting seed map plus the order the
// planner discovered.
type Traversal struct {
	Graph       *DatasetGraph
	Seeds       map[string]string
	Order       []*TraversalNode
	Unreachable []CollectionAddress
}

// NodeFor returns the TraversalNode for a collection address, if present
// in the order.
func (t *Traversal) NodeFor(addr CollectionAddress) (*TraversalNode, bool) {
	for _, n := range t.Order {
		if n.Address == addr {
			return n, true
		}
	}
	return nil, false
}
