// Package source holds the device-independent input graph handed to the lowering
// pipeline: operator nodes connected by tensors.
//
// A Graph is built incrementally (NewTensor, AddNode and the placeholder helpers) and
// then frozen. Lowering only ever reads frozen graphs; prepare passes that need a
// different graph clone it, edit the clone and freeze the result.
package source

import (
	"errors"
	"fmt"

	"github.com/born-ml/vpuc/internal/tensor"
)

// Operator type tags that the lowering pipeline handles without the rule table.
const (
	TypeParameter = "Parameter"
	TypeResult    = "Result"
	TypeConstant  = "Constant"
)

// Graph construction errors.
var (
	ErrFrozen          = errors.New("source graph is frozen")
	ErrDuplicateName   = errors.New("duplicate name")
	ErrForeignTensor   = errors.New("tensor belongs to another graph")
	ErrAlreadyProduced = errors.New("tensor already has a producer")
	ErrNoProducer      = errors.New("tensor has no producer")
)

// TensorID identifies a tensor within its graph.
type TensorID int

// Tensor is one output slot of a producing node.
type Tensor struct {
	ID    TensorID
	Name  string
	Type  tensor.DataType
	Shape tensor.Shape

	// Content holds the raw little-endian bytes of Constant outputs.
	Content []byte

	graph    *Graph
	producer *Node
	slot     int
}

// Producer returns the node that produces t.
func (t *Tensor) Producer() *Node { return t.producer }

// Slot returns the output index of t on its producer.
func (t *Tensor) Slot() int { return t.slot }

func (t *Tensor) String() string {
	return fmt.Sprintf("%s:%s%s", t.Name, t.Type, t.Shape)
}

// Node is an operator instance.
type Node struct {
	Name   string
	Type   string
	Params Params

	inputs  []*Tensor
	outputs []*Tensor
}

// Inputs returns the ordered input tensors.
func (n *Node) Inputs() []*Tensor { return n.inputs }

// Outputs returns the ordered output tensors.
func (n *Node) Outputs() []*Tensor { return n.outputs }

func (n *Node) String() string {
	return n.Name + ":" + n.Type
}

// Graph is a computation graph of nodes and tensors.
type Graph struct {
	name          string
	nodes         []*Node
	tensors       []*Tensor
	consumers     map[TensorID][]*Node
	names         map[string]struct{}
	tensorsByName map[string]*Tensor
	frozen        bool
}

// NewGraph creates an empty, unfrozen graph.
func NewGraph(name string) *Graph {
	return &Graph{
		name:          name,
		consumers:     make(map[TensorID][]*Node),
		names:         make(map[string]struct{}),
		tensorsByName: make(map[string]*Tensor),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Tensors returns the tensors in creation order.
func (g *Graph) Tensors() []*Tensor { return g.tensors }

// Tensor looks a tensor up by name.
func (g *Graph) Tensor(name string) (*Tensor, bool) {
	t, ok := g.tensorsByName[name]
	return t, ok
}

// Consumers returns the nodes reading t, in insertion order.
func (g *Graph) Consumers(t *Tensor) []*Node { return g.consumers[t.ID] }

// Frozen reports whether the graph is read-only.
func (g *Graph) Frozen() bool { return g.frozen }

// NewTensor declares a tensor that a later AddNode call will produce.
func (g *Graph) NewTensor(name string, dt tensor.DataType, shape tensor.Shape) (*Tensor, error) {
	if g.frozen {
		return nil, ErrFrozen
	}
	if _, exists := g.tensorsByName[name]; exists {
		return nil, fmt.Errorf("%w: tensor %q", ErrDuplicateName, name)
	}
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	t := &Tensor{
		ID:    TensorID(len(g.tensors)),
		Name:  name,
		Type:  dt,
		Shape: shape.Clone(),
		graph: g,
		slot:  -1,
	}
	g.tensors = append(g.tensors, t)
	g.tensorsByName[name] = t
	return t, nil
}

// AddNode adds an operator reading inputs and producing outputs. Output tensors must
// have been declared with NewTensor and not be produced by any other node. Inputs may
// still be waiting for their producer; Freeze checks that every tensor got one.
func (g *Graph) AddNode(name, opType string, params Params, inputs, outputs []*Tensor) (*Node, error) {
	if g.frozen {
		return nil, ErrFrozen
	}
	if _, exists := g.names[name]; exists {
		return nil, fmt.Errorf("%w: node %q", ErrDuplicateName, name)
	}
	for _, t := range append(append([]*Tensor(nil), inputs...), outputs...) {
		if t == nil || t.graph != g {
			return nil, fmt.Errorf("node %q: %w", name, ErrForeignTensor)
		}
	}
	for _, t := range outputs {
		if t.producer != nil {
			return nil, fmt.Errorf("node %q: %w: %s (by %s)", name, ErrAlreadyProduced, t.Name, t.producer.Name)
		}
	}

	if params == nil {
		params = Params{}
	}
	n := &Node{
		Name:    name,
		Type:    opType,
		Params:  params,
		inputs:  append([]*Tensor(nil), inputs...),
		outputs: append([]*Tensor(nil), outputs...),
	}
	for i, t := range outputs {
		t.producer = n
		t.slot = i
	}
	for _, t := range inputs {
		g.consumers[t.ID] = appendUnique(g.consumers[t.ID], n)
	}

	g.names[name] = struct{}{}
	g.nodes = append(g.nodes, n)
	return n, nil
}

// AddParameter adds a network input placeholder producing a tensor named name.
func (g *Graph) AddParameter(name string, dt tensor.DataType, shape tensor.Shape) (*Tensor, error) {
	t, err := g.NewTensor(name, dt, shape)
	if err != nil {
		return nil, err
	}
	if _, err := g.AddNode(name, TypeParameter, nil, nil, []*Tensor{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// AddConstant adds a constant node producing a tensor with the given content.
func (g *Graph) AddConstant(name string, dt tensor.DataType, shape tensor.Shape, content []byte) (*Tensor, error) {
	t, err := g.NewTensor(name, dt, shape)
	if err != nil {
		return nil, err
	}
	t.Content = content
	if _, err := g.AddNode(name, TypeConstant, nil, nil, []*Tensor{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// MarkOutput declares t a network output by attaching a Result node to it.
func (g *Graph) MarkOutput(t *Tensor) (*Node, error) {
	return g.AddNode(t.Name+"/result", TypeResult, nil, []*Tensor{t}, nil)
}

// SetTensorType changes the element type of t. Only unfrozen graphs can be edited.
func (g *Graph) SetTensorType(t *Tensor, dt tensor.DataType) error {
	if g.frozen {
		return ErrFrozen
	}
	if t.graph != g {
		return ErrForeignTensor
	}
	t.Type = dt
	return nil
}

// Freeze makes the graph read-only after checking that every tensor is produced.
func (g *Graph) Freeze() error {
	if g.frozen {
		return nil
	}
	for _, t := range g.tensors {
		if t.producer == nil {
			return fmt.Errorf("%w: %s", ErrNoProducer, t.Name)
		}
	}
	g.frozen = true
	return nil
}

// Inputs returns the tensors produced by Parameter nodes, in insertion order.
func (g *Graph) Inputs() []*Tensor {
	var out []*Tensor
	for _, n := range g.nodes {
		if n.Type == TypeParameter {
			out = append(out, n.outputs...)
		}
	}
	return out
}

// Outputs returns the tensors consumed by Result nodes, in insertion order.
func (g *Graph) Outputs() []*Tensor {
	var out []*Tensor
	for _, n := range g.nodes {
		if n.Type == TypeResult {
			out = append(out, n.inputs...)
		}
	}
	return out
}

// IsOutput reports whether t feeds a Result node.
func (g *Graph) IsOutput(t *Tensor) bool {
	for _, c := range g.consumers[t.ID] {
		if c.Type == TypeResult {
			return true
		}
	}
	return false
}

// Clone returns an unfrozen deep copy of g. Node params are copied shallowly.
func (g *Graph) Clone() *Graph {
	out := NewGraph(g.name)
	mapped := make(map[*Tensor]*Tensor, len(g.tensors))
	for _, t := range g.tensors {
		c, _ := out.NewTensor(t.Name, t.Type, t.Shape)
		c.Content = t.Content
		mapped[t] = c
	}
	remap := func(ts []*Tensor) []*Tensor {
		res := make([]*Tensor, len(ts))
		for i, t := range ts {
			res[i] = mapped[t]
		}
		return res
	}
	for _, n := range g.nodes {
		params := make(Params, len(n.Params))
		for k, v := range n.Params {
			params[k] = v
		}
		_, _ = out.AddNode(n.Name, n.Type, params, remap(n.inputs), remap(n.outputs))
	}
	return out
}

func appendUnique(nodes []*Node, n *Node) []*Node {
	for _, existing := range nodes {
		if existing == n {
			return nodes
		}
	}
	return append(nodes, n)
}
