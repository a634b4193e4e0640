// Package traversal computes, from a DatasetGraph and a seed map, a
// deterministic topological execution order together with each node's
// resolved incoming edges, and reports any collections that are
// unreachable given the seed.
package traversal

import (
	"fmt"
	"sort"

	"github.com/medisync/privacygraph/internal/privacygraph/model"
)

// Error is returned when the planner cannot reach every collection given
// the seed map. It is fatal: no tasks run.
type Error struct {
	Unreachable []model.CollectionAddress
}

func (e *Error) Error() string {
	return fmt.Sprintf("privacygraph: traversal error, %d unreachable collection(s)", len(e.Unreachable))
}

// Plan builds a Traversal from a graph and a seed map. It always returns a
// *model.Traversal (even when some collections are unreachable, so callers
// can inspect Unreachable); it returns a non-nil *Error as well in that
// case so a caller that wants spec's "abort before execution" semantics
// can do so by checking the error.
func Plan(g *model.DatasetGraph, seeds map[string]string) (*model.Traversal, error) {
	t := &model.Traversal{Graph: g, Seeds: seeds}

	root := &model.TraversalNode{Address: model.CollectionAddress{Dataset: model.RootCollection, Collection: model.RootCollection}}
	ready := map[string]bool{root.Address.Key(): true}
	order := []*model.TraversalNode{root}

	// Stable, sorted candidate list so readiness ties break on
	// (dataset, collection) lexical order regardless of map iteration
	// order.
	var candidates []model.CollectionAddress
	for key, addr := range g.CollectionAddresses {
		_ = key
		candidates = append(candidates, addr)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Dataset != candidates[j].Dataset {
			return candidates[i].Dataset < candidates[j].Dataset
		}
		return candidates[i].Collection < candidates[j].Collection
	})

	pending := make(map[string]model.CollectionAddress, len(candidates))
	for _, c := range candidates {
		pending[c.Key()] = c
	}

	for {
		progressed := false

		var readyNow []model.CollectionAddress
		for _, addr := range candidates {
			key := addr.Key()
			if ready[key] {
				continue
			}
			if _, stillPending := pending[key]; !stillPending {
				continue
			}
			if isReady(g, addr, ready, seeds) {
				readyNow = append(readyNow, addr)
			}
		}

		sort.Slice(readyNow, func(i, j int) bool {
			if readyNow[i].Dataset != readyNow[j].Dataset {
				return readyNow[i].Dataset < readyNow[j].Dataset
			}
			return readyNow[i].Collection < readyNow[j].Collection
		})

		for _, addr := range readyNow {
			col, _ := g.Collection(addr)
			node := &model.TraversalNode{
				Address:       addr,
				Collection:    col,
				IncomingEdges: resolvedIncomingEdges(g, addr, ready),
			}
			order = append(order, node)
			ready[addr.Key()] = true
			delete(pending, addr.Key())
			progressed = true
		}

		if !progressed {
			break
		}
	}

	wireOutgoingEdges(order, g)

	var unreachable []model.CollectionAddress
	for _, addr := range candidates {
		if !ready[addr.Key()] {
			unreachable = append(unreachable, addr)
		}
	}
	sort.Slice(unreachable, func(i, j int) bool {
		if unreachable[i].Dataset != unreachable[j].Dataset {
			return unreachable[i].Dataset < unreachable[j].Dataset
		}
		return unreachable[i].Collection < unreachable[j].Collection
	})

	t.Order = order
	t.Unreachable = unreachable

	if len(unreachable) > 0 {
		return t, &Error{Unreachable: unreachable}
	}
	return t, nil
}

// isReady reports whether addr can be scheduled: every non-ROOT required
// source collection is already ready, at least one required source exists
// (ROOT or otherwise — a collection with no dataflow input at all is
// unreachable regardless of `after` hints), and any declared `after`
// predecessors are also ready.
func isReady(g *model.DatasetGraph, addr model.CollectionAddress, ready map[string]bool, _ map[string]string) bool {
	sources, seededFromRoot := g.RequiredSourceCollections(addr)

	if len(sources) == 0 && !seededFromRoot {
		return false
	}

	for _, src := range sources {
		if !ready[src.Key()] {
			return false
		}
	}

	col, ok := g.Collection(addr)
	if ok {
		for _, after := range col.After {
			if !ready[after.Key()] {
				return false
			}
		}
	}

	return true
}

func resolvedIncomingEdges(g *model.DatasetGraph, addr model.CollectionAddress, ready map[string]bool) []model.Edge {
	var out []model.Edge
	for _, e := range g.EdgesInto(addr) {
		src := e.Source.CollectionAddress()
		if src.IsRoot() || ready[src.Key()] {
			out = append(out, e)
		}
	}
	return out
}

func wireOutgoingEdges(order []*model.TraversalNode, g *model.DatasetGraph) {
	for _, n := range order {
		if n.IsRoot() {
			n.OutgoingEdges = g.EdgesOutOf(n.Address)
			continue
		}
		n.OutgoingEdges = g.EdgesOutOf(n.Address)
	}
}
