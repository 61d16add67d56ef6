// Package onnx imports ONNX models as source graphs.
//
// The protobuf wire format is decoded with google.golang.org/protobuf/encoding/protowire
// into a small set of message structs covering what the compiler reads: the graph,
// its nodes, initializers, value infos and attributes. Unknown fields are skipped.
//
// Import then maps the decoded graph onto package source:
//   - initializers and Constant operators become constant nodes
//   - graph inputs that are not initializers become parameters
//   - graph outputs get result nodes
//   - attributes become source.Params with int64, float64 and string values
//
// Example:
//
//	g, err := onnx.ImportFile("mobilenet.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%s: %d nodes\n", g.Name(), len(g.Nodes()))
package onnx
