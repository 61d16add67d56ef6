package source

import (
	"fmt"

	"github.com/born-ml/vpuc/internal/graph"
)

// Sorted returns the nodes in an order where every node follows the producers of all
// of its inputs. Nodes without producers keep their insertion order at the front.
//
// A graph whose tensors form a loop fails with an error wrapping graph.ErrStructural.
func (g *Graph) Sorted() ([]*Node, error) {
	root := &Node{Name: "<root>"}

	numEntries := func(n *Node) int {
		if producers := len(g.producers(n)); producers > 0 {
			return producers
		}
		return 1
	}

	order := make([]*Node, 0, len(g.nodes))
	visit := func(n *Node) bool {
		if n != root {
			order = append(order, n)
		}
		return true
	}

	moveForward := func(q *graph.Queue[*Node], n *Node) {
		if n == root {
			for _, candidate := range g.nodes {
				if len(g.producers(candidate)) == 0 {
					q.Push(candidate)
				}
			}
			return
		}
		seen := make(map[*Node]struct{})
		for _, out := range n.outputs {
			for _, c := range g.consumers[out.ID] {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				q.Push(c)
			}
		}
	}

	if err := graph.BFS(root, numEntries, visit, moveForward); err != nil {
		return nil, fmt.Errorf("graph %q: %w", g.name, err)
	}
	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("graph %q: %w: %d of %d nodes unreachable from the inputs",
			g.name, graph.ErrCycle, len(g.nodes)-len(order), len(g.nodes))
	}
	return order, nil
}

// producers returns the distinct nodes producing n's inputs.
func (g *Graph) producers(n *Node) []*Node {
	var out []*Node
	for _, t := range n.inputs {
		if t.producer == nil {
			continue
		}
		out = appendUnique(out, t.producer)
	}
	return out
}
