// Package onnx inspects and imports ONNX models for the VPU compiler.
//
// # Example Usage
//
//	info, err := onnx.GetModelInfo("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%s %s, opset %d\n", info.ProducerName, info.ProducerVersion, info.OpsetVersion)
//
//	g, err := onnx.Import("model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m, report, err := compiler.CompileGraph(g, compiler.DefaultConfig(), nil, nil)
package onnx

import (
	"sort"

	internalonnx "github.com/born-ml/vpuc/internal/onnx"
	"github.com/born-ml/vpuc/internal/source"
)

// ModelInfo summarizes an ONNX file without building a graph.
type ModelInfo struct {
	ProducerName    string
	ProducerVersion string
	IRVersion       int64
	OpsetVersion    int64
	GraphName       string
	InputNames      []string       // graph inputs that are not initializers
	OutputNames     []string       // graph outputs
	Initializers    int            // number of weight tensors
	Operators       map[string]int // operator type -> node count
	Metadata        map[string]string
}

// OperatorTypes returns the operator types used by the model in sorted order.
func (i *ModelInfo) OperatorTypes() []string {
	types := make([]string, 0, len(i.Operators))
	for op := range i.Operators {
		types = append(types, op)
	}
	sort.Strings(types)
	return types
}

// GetModelInfo decodes the file at path and summarizes it.
func GetModelInfo(path string) (*ModelInfo, error) {
	m, err := internalonnx.ParseFile(path)
	if err != nil {
		return nil, err
	}

	info := &ModelInfo{
		ProducerName:    m.ProducerName,
		ProducerVersion: m.ProducerVersion,
		IRVersion:       m.IRVersion,
		OpsetVersion:    m.Opset(),
		Operators:       make(map[string]int),
		Metadata:        make(map[string]string, len(m.MetadataProps)),
	}
	for _, e := range m.MetadataProps {
		info.Metadata[e.Key] = e.Value
	}
	if m.Graph == nil {
		return info, nil
	}

	g := m.Graph
	info.GraphName = g.Name
	info.Initializers = len(g.Initializers)
	initialized := make(map[string]struct{}, len(g.Initializers))
	for _, t := range g.Initializers {
		initialized[t.Name] = struct{}{}
	}
	for _, in := range g.Inputs {
		if _, ok := initialized[in.Name]; !ok {
			info.InputNames = append(info.InputNames, in.Name)
		}
	}
	for _, out := range g.Outputs {
		info.OutputNames = append(info.OutputNames, out.Name)
	}
	for _, n := range g.Nodes {
		info.Operators[n.OpType]++
	}
	return info, nil
}

// Import reads the file at path as a frozen source graph ready for compilation.
func Import(path string) (*source.Graph, error) {
	return internalonnx.ImportFile(path)
}
