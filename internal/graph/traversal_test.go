package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adjacency map[string][]string

func (a adjacency) next(n string) []string { return a[n] }

// numEntries counts distinct predecessors of every node.
func (a adjacency) numEntries() func(string) int {
	counts := make(map[string]int)
	for _, succ := range a {
		for _, s := range succ {
			counts[s]++
		}
	}
	return func(n string) int { return counts[n] }
}

func (a adjacency) forward(q *Queue[string], n string) {
	for _, s := range a[n] {
		q.Push(s)
	}
}

func TestDFSDiamond(t *testing.T) {
	g := adjacency{"A": {"B", "C"}, "B": {"D"}, "C": {"D"}}

	visits := make(map[string]int)
	visited := DFS("A", g.next, func(n string) bool {
		visits[n]++
		return true
	})

	assert.Len(t, visited, 4)
	for _, n := range []string{"A", "B", "C", "D"} {
		assert.Contains(t, visited, n)
		assert.Equal(t, 1, visits[n], "node %s", n)
	}
}

func TestDFSPrune(t *testing.T) {
	g := adjacency{"A": {"B", "C"}, "B": {"D"}, "C": {"E"}}

	visited := DFS("A", g.next, func(n string) bool { return n != "B" })

	assert.Contains(t, visited, "B")
	assert.NotContains(t, visited, "D")
	assert.Contains(t, visited, "E")
}

func TestDFSAllMergesRoots(t *testing.T) {
	g := adjacency{"A": {"C"}, "B": {"C"}, "C": {"D"}}

	visited := DFSAll([]string{"A", "B"}, g.next, func(string) bool { return true })

	assert.Len(t, visited, 4)
}

func TestBFSRespectsPredecessors(t *testing.T) {
	// D must wait for both B and C.
	g := adjacency{"A": {"B", "C"}, "B": {"D"}, "C": {"D"}}

	var order []string
	err := BFS("A", g.numEntries(), func(n string) bool {
		order = append(order, n)
		return true
	}, g.forward)
	require.NoError(t, err)

	require.Len(t, order, 4)
	assert.Equal(t, "A", order[0])
	assert.Equal(t, "D", order[3])
}

func TestBFSLongerBranch(t *testing.T) {
	// A -> B -> C -> E and A -> E: E is dequeued once early and must wait.
	g := adjacency{"A": {"B", "E"}, "B": {"C"}, "C": {"E"}}

	var order []string
	err := BFS("A", g.numEntries(), func(n string) bool {
		order = append(order, n)
		return true
	}, g.forward)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "E"}, order)
}

func TestBFSCycleFails(t *testing.T) {
	// B needs arrivals from A and C, but C is only reachable through B.
	g := adjacency{"A": {"B"}, "B": {"C"}, "C": {"B"}}

	err := BFS("A", g.numEntries(), func(string) bool { return true }, g.forward)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructural)
	assert.ErrorIs(t, err, ErrUnsatisfiedPredecessor)
}

func TestBFSCycleFailsWithPendingSiblings(t *testing.T) {
	// The starved node B is not the last one dequeued.
	g := adjacency{"A": {"B", "D"}, "B": {"C"}, "C": {"B"}, "D": {"E"}}

	err := BFS("A", g.numEntries(), func(string) bool { return true }, g.forward)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsatisfiedPredecessor)
}

func TestBFSOverArrivalIsCycle(t *testing.T) {
	g := adjacency{"A": {"B", "B"}}

	err := BFS("A", func(string) int { return 1 }, func(string) bool { return true }, g.forward)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestBFSPrune(t *testing.T) {
	g := adjacency{"A": {"B"}, "B": {"C"}}

	var order []string
	err := BFS("A", g.numEntries(), func(n string) bool {
		order = append(order, n)
		return n != "B"
	}, g.forward)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, order)
}

func TestQueue(t *testing.T) {
	q := &Queue[int]{}
	q.Push(1)
	q.Push(2)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 1, q.pop())
	assert.Equal(t, 2, q.pop())
	assert.Equal(t, 0, q.Len())
}
