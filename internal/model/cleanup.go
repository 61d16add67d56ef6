package model

import (
	"fmt"

	"github.com/born-ml/vpuc/internal/graph"
)

// CleanUp removes every stage that does not contribute to a network output, then
// every buffer no remaining stage touches. Input buffers are part of the network
// interface and always kept. Running CleanUp twice changes nothing the second time.
func (m *Model) CleanUp() {
	var roots []*Stage
	for _, d := range m.datas {
		if d.usage == Output && d.producer != nil {
			roots = append(roots, d.producer)
		}
	}

	live := graph.DFSAll(roots, func(s *Stage) []*Stage {
		var next []*Stage
		for _, in := range s.inputs {
			if in.producer != nil {
				next = append(next, in.producer)
			}
		}
		return next
	}, func(*Stage) bool { return true })

	for _, s := range append([]*Stage(nil), m.stages...) {
		if _, ok := live[s]; !ok {
			m.removeStage(s)
		}
	}

	used := make(map[*Data]struct{})
	for _, s := range m.stages {
		for _, d := range s.inputs {
			used[d] = struct{}{}
		}
		for _, d := range s.outputs {
			used[d] = struct{}{}
		}
	}
	for _, d := range append([]*Data(nil), m.datas...) {
		if _, ok := used[d]; ok || d.usage == Input || d.usage == Output {
			continue
		}
		m.removeData(d)
	}
}

// OrderedStages returns the stages so that every stage follows the producers of all
// of its inputs. A loop among stages yields an error wrapping graph.ErrStructural.
func (m *Model) OrderedStages() ([]*Stage, error) {
	root := &Stage{name: "<root>"}

	numEntries := func(s *Stage) int {
		if n := len(producersOf(s)); n > 0 {
			return n
		}
		return 1
	}

	order := make([]*Stage, 0, len(m.stages))
	visit := func(s *Stage) bool {
		if s != root {
			order = append(order, s)
		}
		return true
	}

	moveForward := func(q *graph.Queue[*Stage], s *Stage) {
		if s == root {
			for _, candidate := range m.stages {
				if len(producersOf(candidate)) == 0 {
					q.Push(candidate)
				}
			}
			return
		}
		seen := make(map[*Stage]struct{})
		for _, out := range s.outputs {
			for _, c := range out.consumers {
				if _, dup := seen[c]; dup {
					continue
				}
				seen[c] = struct{}{}
				q.Push(c)
			}
		}
	}

	if err := graph.BFS(root, numEntries, visit, moveForward); err != nil {
		return nil, fmt.Errorf("model %q: %w", m.name, err)
	}
	if len(order) != len(m.stages) {
		return nil, fmt.Errorf("model %q: %w: %d of %d stages never became ready",
			m.name, graph.ErrCycle, len(m.stages)-len(order), len(m.stages))
	}
	return order, nil
}

// CheckAcyclic reports whether the stage graph is free of loops.
func (m *Model) CheckAcyclic() error {
	_, err := m.OrderedStages()
	return err
}

func producersOf(s *Stage) []*Stage {
	var out []*Stage
	for _, in := range s.inputs {
		p := in.producer
		if p == nil {
			continue
		}
		dup := false
		for _, existing := range out {
			if existing == p {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, p)
		}
	}
	return out
}
