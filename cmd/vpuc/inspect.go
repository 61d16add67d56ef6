package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/born-ml/vpuc/onnx"
)

type inspectCmd struct{}

func (*inspectCmd) Name() string             { return "inspect" }
func (*inspectCmd) Synopsis() string         { return "summarize an ONNX model" }
func (*inspectCmd) Usage() string            { return "inspect model.onnx:\n  Print producer, inputs, outputs and operator counts.\n" }
func (*inspectCmd) SetFlags(_ *flag.FlagSet) {}

func (*inspectCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	info, err := onnx.GetModelInfo(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vpuc: %v\n", err)
		return subcommands.ExitFailure
	}
	writeModelInfo(os.Stdout, info)
	return subcommands.ExitSuccess
}

func writeModelInfo(w io.Writer, info *onnx.ModelInfo) {
	fmt.Fprintf(w, "graph:    %s\n", info.GraphName)
	fmt.Fprintf(w, "producer: %s %s (IR %d, opset %d)\n", info.ProducerName, info.ProducerVersion, info.IRVersion, info.OpsetVersion)
	fmt.Fprintf(w, "inputs:   %s\n", strings.Join(info.InputNames, ", "))
	fmt.Fprintf(w, "outputs:  %s\n", strings.Join(info.OutputNames, ", "))
	fmt.Fprintf(w, "weights:  %d\n", info.Initializers)

	table := newTable(w, "Operator", "Count")
	for _, op := range info.OperatorTypes() {
		table.Append([]string{op, strconv.Itoa(info.Operators[op])})
	}
	table.Render()
}
