package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/born-ml/vpuc/compiler"
)

type supportedCmd struct {
	options
}

func (*supportedCmd) Name() string     { return "supported" }
func (*supportedCmd) Synopsis() string { return "list which layers of a model can be lowered" }
func (*supportedCmd) Usage() string {
	return `supported [flags] model.onnx:
  Run the compiler without failing on unsupported layers and print one row per layer.
`
}

func (c *supportedCmd) SetFlags(f *flag.FlagSet) {
	c.options.setFlags(f)
}

func (c *supportedCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, log, err := c.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vpuc: %v\n", err)
		return subcommands.ExitUsageError
	}

	_, report, err := compiler.CheckSupported(f.Arg(0), cfg, log)
	if err != nil {
		log.WithField("file", f.Arg(0)).Error(err)
		return subcommands.ExitFailure
	}
	writeLayerTable(os.Stdout, report)
	return subcommands.ExitSuccess
}

type versionCmd struct{}

func (*versionCmd) Name() string             { return "version" }
func (*versionCmd) Synopsis() string         { return "print the compiler version" }
func (*versionCmd) Usage() string            { return "version:\n  Print the compiler version.\n" }
func (*versionCmd) SetFlags(_ *flag.FlagSet) {}

func (*versionCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	fmt.Printf("vpuc %s\n", version)
	return subcommands.ExitSuccess
}
