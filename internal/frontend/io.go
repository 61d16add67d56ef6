package frontend

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/born-ml/vpuc/internal/graph"
	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/tensor"
)

// network is a source graph split at its boundary.
type network struct {
	graph   *source.Graph
	inputs  []*source.Tensor
	outputs []*source.Tensor
	consts  []*source.Node
	ops     []*source.Node

	isOutput map[*source.Tensor]struct{}
}

// parseNetwork sorts g and partitions its nodes into input placeholders, output
// placeholders, constants and plain operators.
func parseNetwork(g *source.Graph) (*network, error) {
	sorted, err := g.Sorted()
	if err != nil {
		return nil, err
	}

	net := &network{graph: g, isOutput: make(map[*source.Tensor]struct{})}
	for _, n := range sorted {
		switch n.Type {
		case source.TypeParameter:
			net.inputs = append(net.inputs, n.Outputs()...)
		case source.TypeResult:
			for _, t := range n.Inputs() {
				if _, dup := net.isOutput[t]; !dup {
					net.isOutput[t] = struct{}{}
					net.outputs = append(net.outputs, t)
				}
			}
		case source.TypeConstant:
			if len(n.Outputs()) != 1 {
				return nil, configErrorf("Const layer %s has unsupported number of outputs %d", n.Name, len(n.Outputs()))
			}
			net.consts = append(net.consts, n)
		default:
			net.ops = append(net.ops, n)
		}
	}

	if len(net.inputs) == 0 {
		return nil, configErrorf("network %s has no inputs", g.Name())
	}
	if len(net.outputs) == 0 {
		return nil, configErrorf("network %s has no outputs", g.Name())
	}
	return net, nil
}

// parseInputAndOutputData creates the Input, Const and Output buffers of the network
// and binds them to their tensors.
func (f *FrontEnd) parseInputAndOutputData(m *model.Model, net *network) error {
	for _, t := range net.inputs {
		d := m.AddInputData(t.Name, f.boundaryDesc(t))
		if err := f.registry.bind(d, t); err != nil {
			return err
		}
		f.log.Tracef("input %s", d)
	}

	for _, n := range net.consts {
		t := n.Outputs()[0]
		desc, content, err := constContent(t)
		if err != nil {
			return err
		}
		d := m.AddConstData(t.Name, desc, content)
		if err := f.registry.bind(d, t); err != nil {
			return err
		}
	}

	for _, t := range net.outputs {
		name := t.Name
		if _, bound := f.registry.resolve(t); bound {
			name += "@output"
		}
		d := m.AddOutputData(name, f.boundaryDesc(t))
		if err := f.registry.bind(d, t); err != nil {
			return err
		}
		f.log.Tracef("output %s", d)
	}
	return nil
}

// boundaryDesc returns the buffer layout of a network input or output. Without
// conversion stages FP32 boundaries are exchanged with the device as FP16.
func (f *FrontEnd) boundaryDesc(t *source.Tensor) model.DataDesc {
	desc := model.NewDesc(t.Type, t.Shape)
	if f.cfg.DisableConvertStages && desc.Type == tensor.Float32 {
		f.log.WithField("tensor", t.Name).Debug("conversion stages disabled, FP32 boundary stored as FP16")
		desc.Type = tensor.Float16
	}
	return desc
}

// constContent checks the content of a constant tensor. FP32 constants are stored as
// FP16 like every other FP32 buffer the device computes with.
func constContent(t *source.Tensor) (model.DataDesc, []byte, error) {
	desc := model.NewDesc(t.Type, t.Shape)
	if !t.Shape.IsStatic() {
		return desc, nil, configErrorf("constant %s has dynamic shape %s", t.Name, t.Shape)
	}
	if want := t.Shape.NumElements() * t.Type.Size(); len(t.Content) != want {
		return desc, nil, configErrorf("constant %s: %v", t.Name, errSizeMismatch(len(t.Content), t.Type))
	}
	if t.Type != tensor.Float32 {
		return desc, t.Content, nil
	}

	out := make([]byte, len(t.Content)/2)
	for i := range len(t.Content) / 4 {
		v := math.Float32frombits(binary.LittleEndian.Uint32(t.Content[4*i:]))
		binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(v).Bits())
	}
	return desc.WithType(tensor.Float16), out, nil
}

func errSizeMismatch(n int, dt tensor.DataType) error {
	return fmt.Errorf("%d bytes do not hold whole %s values", n, dt)
}

// getInputAndOutputData resolves the operands of node. Outputs without a buffer get
// an intermediate one, FP16 for FP32 tensors; leaf tensors that are not network
// outputs get a Fake placeholder.
func (f *FrontEnd) getInputAndOutputData(m *model.Model, net *network, node *source.Node) (inputs, outputs []*model.Data, err error) {
	inputs = make([]*model.Data, len(node.Inputs()))
	for i, t := range node.Inputs() {
		d, ok := f.registry.resolve(t)
		if !ok {
			return nil, nil, fmt.Errorf("%w: input %d of layer %s reads tensor %s which has no buffer",
				graph.ErrStructural, i, node.Name, t.Name)
		}
		inputs[i] = d
	}

	outputs = make([]*model.Data, len(node.Outputs()))
	for i, t := range node.Outputs() {
		if d, ok := f.registry.resolve(t); ok {
			outputs[i] = d
			continue
		}

		desc := model.NewDesc(t.Type, t.Shape)
		if desc.Type == tensor.Float32 {
			desc.Type = tensor.Float16
		}

		_, isOutput := net.isOutput[t]
		if !isOutput && len(net.graph.Consumers(t)) == 0 {
			outputs[i] = m.AddFakeData()
			continue
		}

		d := m.AddNewData(t.Name, desc)
		if err := f.registry.bind(d, t); err != nil {
			return nil, nil, err
		}
		outputs[i] = d
	}
	return inputs, outputs, nil
}
