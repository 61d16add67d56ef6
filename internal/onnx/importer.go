package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/tensor"
)

// ImportFile decodes path and converts it with Import.
func ImportFile(path string) (*source.Graph, error) {
	m, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Import(m)
}

// Import converts a decoded model into a frozen source graph.
//
// Initializers and Constant operators become constant nodes, the remaining graph
// inputs become parameters and graph outputs get result nodes. Symbolic dimensions
// are imported as tensor.Dynamic. Omitted optional inputs are dropped, so operators
// see only the operands that are present.
func Import(m *ModelProto) (*source.Graph, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	gp := m.Graph
	name := gp.Name
	if name == "" {
		name = "model"
	}
	im := &importer{
		g:     source.NewGraph(name),
		infos: make(map[string]*ValueInfoProto),
	}
	for _, list := range [][]ValueInfoProto{gp.ValueInfo, gp.Outputs, gp.Inputs} {
		for i := range list {
			im.infos[list[i].Name] = &list[i]
		}
	}

	initialized := make(map[string]struct{}, len(gp.Initializers))
	for i := range gp.Initializers {
		t := &gp.Initializers[i]
		if err := im.addConstant(t.Name, t); err != nil {
			return nil, err
		}
		initialized[t.Name] = struct{}{}
	}

	for _, in := range gp.Inputs {
		if _, ok := initialized[in.Name]; ok {
			continue
		}
		dt, shape, err := valueType(&in)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		if _, err := im.g.AddParameter(in.Name, dt, shape); err != nil {
			return nil, err
		}
	}

	if err := im.addNodes(gp.Nodes); err != nil {
		return nil, err
	}

	for _, out := range gp.Outputs {
		t, ok := im.g.Tensor(out.Name)
		if !ok {
			return nil, fmt.Errorf("graph output %s is not produced by any node", out.Name)
		}
		if _, err := im.g.MarkOutput(t); err != nil {
			return nil, err
		}
	}

	if err := im.g.Freeze(); err != nil {
		return nil, err
	}
	return im.g, nil
}

type importer struct {
	g     *source.Graph
	infos map[string]*ValueInfoProto
}

// addNodes adds nodes whose inputs are available, repeating until every node is
// placed. Files are usually topologically sorted and take a single round.
func (im *importer) addNodes(nodes []NodeProto) error {
	pending := make([]*NodeProto, len(nodes))
	for i := range nodes {
		pending[i] = &nodes[i]
	}
	for len(pending) > 0 {
		var blocked []*NodeProto
		for _, n := range pending {
			if !im.ready(n) {
				blocked = append(blocked, n)
				continue
			}
			if err := im.addNode(n); err != nil {
				return err
			}
		}
		if len(blocked) == len(pending) {
			n := blocked[0]
			return fmt.Errorf("node %s (%s) reads a tensor no node produces", nodeName(n), n.OpType)
		}
		pending = blocked
	}
	return nil
}

func (im *importer) ready(n *NodeProto) bool {
	for _, in := range n.Inputs {
		if in == "" {
			continue
		}
		if _, ok := im.g.Tensor(in); !ok {
			return false
		}
	}
	return true
}

func nodeName(n *NodeProto) string {
	if n.Name != "" {
		return n.Name
	}
	if len(n.Outputs) > 0 {
		return n.Outputs[0]
	}
	return n.OpType
}

func (im *importer) addNode(n *NodeProto) error {
	name := nodeName(n)
	if n.OpType == "Constant" && (n.Domain == "" || n.Domain == "ai.onnx") {
		return im.addConstantNode(name, n)
	}

	params, err := attributeParams(n.Attributes)
	if err != nil {
		return fmt.Errorf("node %s: %w", name, err)
	}

	var inputs []*source.Tensor
	for _, in := range n.Inputs {
		if in == "" {
			continue
		}
		t, _ := im.g.Tensor(in)
		inputs = append(inputs, t)
	}

	outputs := make([]*source.Tensor, 0, len(n.Outputs))
	for _, out := range n.Outputs {
		dt, shape, err := im.outputType(out, inputs)
		if err != nil {
			return fmt.Errorf("node %s: %w", name, err)
		}
		t, err := im.g.NewTensor(out, dt, shape)
		if err != nil {
			return fmt.Errorf("node %s: %w", name, err)
		}
		outputs = append(outputs, t)
	}

	_, err = im.g.AddNode(name, n.OpType, params, inputs, outputs)
	return err
}

// outputType takes the type of an operator output from value_info when the file has
// it. Otherwise the output is assumed to look like the first input.
func (im *importer) outputType(name string, inputs []*source.Tensor) (tensor.DataType, tensor.Shape, error) {
	if info, ok := im.infos[name]; ok && info.Type != nil && info.Type.TensorType != nil {
		return valueType(info)
	}
	if len(inputs) == 0 {
		return tensor.Undefined, nil, fmt.Errorf("no type information for %s", name)
	}
	return inputs[0].Type, inputs[0].Shape.Clone(), nil
}

func (im *importer) addConstant(name string, t *TensorProto) error {
	dt, err := dataType(t.DataType)
	if err != nil {
		return fmt.Errorf("initializer %s: %w", name, err)
	}
	shape := make(tensor.Shape, len(t.Dims))
	for i, d := range t.Dims {
		shape[i] = int(d)
	}
	content, err := tensorContent(t, dt, shape.NumElements())
	if err != nil {
		return fmt.Errorf("initializer %s: %w", name, err)
	}
	_, err = im.g.AddConstant(name, dt, shape, content)
	return err
}

func (im *importer) addConstantNode(name string, n *NodeProto) error {
	if len(n.Outputs) != 1 {
		return fmt.Errorf("constant node %s has %d outputs", name, len(n.Outputs))
	}
	for _, a := range n.Attributes {
		var t *TensorProto
		switch a.Name {
		case "value":
			t = a.T
		case "value_float":
			t = &TensorProto{DataType: TensorProtoFloat, FloatData: []float32{a.F}}
		case "value_floats":
			t = &TensorProto{DataType: TensorProtoFloat, Dims: []int64{int64(len(a.Floats))}, FloatData: a.Floats}
		case "value_int":
			t = &TensorProto{DataType: TensorProtoInt64, Int64Data: []int64{a.I}}
		case "value_ints":
			t = &TensorProto{DataType: TensorProtoInt64, Dims: []int64{int64(len(a.Ints))}, Int64Data: a.Ints}
		default:
			continue
		}
		if t == nil {
			break
		}
		return im.addConstant(n.Outputs[0], t)
	}
	return fmt.Errorf("constant node %s has no supported value attribute", name)
}

func valueType(vi *ValueInfoProto) (tensor.DataType, tensor.Shape, error) {
	if vi.Type == nil || vi.Type.TensorType == nil {
		return tensor.Undefined, nil, fmt.Errorf("%s is not a tensor", vi.Name)
	}
	tt := vi.Type.TensorType
	dt, err := dataType(tt.ElemType)
	if err != nil {
		return tensor.Undefined, nil, err
	}
	var shape tensor.Shape
	if tt.Shape != nil {
		shape = make(tensor.Shape, len(tt.Shape.Dims))
		for i, d := range tt.Shape.Dims {
			if d.HasValue && d.DimValue > 0 {
				shape[i] = int(d.DimValue)
			} else {
				shape[i] = tensor.Dynamic
			}
		}
	}
	return dt, shape, nil
}

var dataTypes = map[int32]tensor.DataType{
	TensorProtoFloat:   tensor.Float32,
	TensorProtoFloat16: tensor.Float16,
	TensorProtoDouble:  tensor.Float64,
	TensorProtoUint8:   tensor.Uint8,
	TensorProtoInt8:    tensor.Int8,
	TensorProtoInt32:   tensor.Int32,
	TensorProtoInt64:   tensor.Int64,
	TensorProtoUint32:  tensor.Uint32,
	TensorProtoUint64:  tensor.Uint64,
	TensorProtoBool:    tensor.Bool,
}

func dataType(onnxType int32) (tensor.DataType, error) {
	dt, ok := dataTypes[onnxType]
	if !ok {
		return tensor.Undefined, fmt.Errorf("unsupported ONNX data type %d", onnxType)
	}
	return dt, nil
}

// tensorContent returns the little-endian content of t, converting the typed
// repeated fields when raw_data is absent.
func tensorContent(t *TensorProto, dt tensor.DataType, count int) ([]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("dynamic shape")
	}
	size := dt.Size()
	if len(t.RawData) > 0 {
		if len(t.RawData) != count*size {
			return nil, fmt.Errorf("raw data has %d bytes, want %d", len(t.RawData), count*size)
		}
		return t.RawData, nil
	}

	out := make([]byte, count*size)
	var n int
	switch {
	case dt == tensor.Float32:
		n = len(t.FloatData)
		for i := range min(n, count) {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(t.FloatData[i]))
		}
	case dt == tensor.Int64:
		n = len(t.Int64Data)
		for i := range min(n, count) {
			binary.LittleEndian.PutUint64(out[8*i:], uint64(t.Int64Data[i]))
		}
	case dt == tensor.Float16:
		// FLOAT16 values travel as their bit patterns in int32_data.
		n = len(t.Int32Data)
		for i := range min(n, count) {
			binary.LittleEndian.PutUint16(out[2*i:], uint16(t.Int32Data[i]))
		}
	case dt == tensor.Int32:
		n = len(t.Int32Data)
		for i := range min(n, count) {
			binary.LittleEndian.PutUint32(out[4*i:], uint32(t.Int32Data[i]))
		}
	case size == 1:
		n = len(t.Int32Data)
		for i := range min(n, count) {
			out[i] = byte(t.Int32Data[i])
		}
	default:
		return nil, fmt.Errorf("%s initializers must use raw_data", dt)
	}
	if n != count {
		return nil, fmt.Errorf("has %d values, want %d", n, count)
	}
	return out, nil
}

// attributeParams converts operator attributes to source parameters. Numbers are
// widened to int64 and float64; strings and string lists become Go strings.
func attributeParams(attrs []AttributeProto) (source.Params, error) {
	params := make(source.Params, len(attrs))
	for _, a := range attrs {
		switch a.Type {
		case AttributeProtoFloat:
			params[a.Name] = float64(a.F)
		case AttributeProtoInt:
			params[a.Name] = a.I
		case AttributeProtoString:
			params[a.Name] = string(a.S)
		case AttributeProtoFloats:
			fs := make([]float64, len(a.Floats))
			for i, f := range a.Floats {
				fs[i] = float64(f)
			}
			params[a.Name] = fs
		case AttributeProtoInts:
			params[a.Name] = append([]int64(nil), a.Ints...)
		case AttributeProtoStrings:
			ss := make([]string, len(a.Strings))
			for i, s := range a.Strings {
				ss[i] = string(s)
			}
			params[a.Name] = ss
		case AttributeProtoTensor, AttributeProtoGraph, AttributeProtoTensors, AttributeProtoGraphs:
			return nil, fmt.Errorf("attribute %s: tensor and graph attributes are not supported", a.Name)
		default:
			return nil, fmt.Errorf("attribute %s: unknown type %d", a.Name, a.Type)
		}
	}
	return params, nil
}
