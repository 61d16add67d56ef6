// Package graph provides traversal primitives over directed graphs whose nodes are
// opaque comparable handles.
//
// The package knows nothing about operators, tensors or stages. Callers describe
// adjacency with closures and receive either the set of visited nodes (DFS) or an
// error when the graph breaks the dependency contract it declared (BFS).
package graph

import (
	"errors"
	"fmt"
)

// ErrStructural is wrapped by every error that reports a graph violating its own
// declared dependency structure. Such errors are never recoverable per node.
var ErrStructural = errors.New("structural inconsistency")

// Structural errors returned by BFS.
var (
	ErrCycle                  = fmt.Errorf("%w: encountered loop", ErrStructural)
	ErrUnsatisfiedPredecessor = fmt.Errorf("%w: node is not reachable through all of its predecessors", ErrStructural)
)

// DFS explores every node reachable from root and returns the visited set.
//
// Each node is visited at most once. When visit returns false the node's successors
// are not pushed. Successors are pushed in the order getNext yields them and popped
// last-in-first-out, so the order among siblings must not be relied upon.
func DFS[N comparable](root N, getNext func(N) []N, visit func(N) bool) map[N]struct{} {
	return DFSAll([]N{root}, getNext, visit)
}

// DFSAll is DFS seeded with several roots at once.
func DFSAll[N comparable](roots []N, getNext func(N) []N, visit func(N) bool) map[N]struct{} {
	visited := make(map[N]struct{})
	stack := append([]N(nil), roots...)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}

		if !visit(current) {
			continue
		}
		stack = append(stack, getNext(current)...)
	}
	return visited
}

// Queue is the work list handed to BFS's moveForward callback.
type Queue[N comparable] struct {
	items []N
	head  int
}

// Push enqueues n.
func (q *Queue[N]) Push(n N) {
	q.items = append(q.items, n)
}

// Len returns the number of pending nodes.
func (q *Queue[N]) Len() int {
	return len(q.items) - q.head
}

func (q *Queue[N]) pop() N {
	n := q.items[q.head]
	var zero N
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return n
}

// BFS walks the graph from root, processing a node only once it has been enqueued
// numEntries(node) times. The root is always treated as needing one arrival.
//
// When a node's arrival count reaches its requirement, visit is called; if it returns
// true, moveForward enqueues the node's dependents. numEntries must return at least 1
// for every node that can be enqueued.
//
// BFS returns ErrCycle when a node arrives more often than it declared and
// ErrUnsatisfiedPredecessor when traversal ends while a reached node is still waiting
// for some of its predecessors.
func BFS[N comparable](root N, numEntries func(N) int, visit func(N) bool, moveForward func(*Queue[N], N)) error {
	required := func(n N) int {
		if n == root {
			return 1
		}
		return numEntries(n)
	}

	queue := &Queue[N]{items: []N{root}}
	visits := make(map[N]int)
	var reached []N

	for queue.Len() > 0 {
		current := queue.pop()

		if visits[current] == 0 {
			reached = append(reached, current)
		}
		visits[current]++
		count, need := visits[current], required(current)

		if count > need {
			return fmt.Errorf("%w at %v", ErrCycle, current)
		}
		if count < need {
			if queue.Len() == 0 {
				return fmt.Errorf("%w: %v (%d of %d arrivals)", ErrUnsatisfiedPredecessor, current, count, need)
			}
			continue
		}

		if !visit(current) {
			continue
		}
		moveForward(queue, current)
	}

	for _, n := range reached {
		if count, need := visits[n], required(n); count < need {
			return fmt.Errorf("%w: %v (%d of %d arrivals)", ErrUnsatisfiedPredecessor, n, count, need)
		}
	}
	return nil
}
