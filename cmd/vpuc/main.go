// Command vpuc lowers ONNX networks into VPU stage graphs.
//
// Usage:
//
//	vpuc compile [flags] model.onnx...
//	vpuc supported [flags] model.onnx
//	vpuc inspect model.onnx
//	vpuc version
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/google/subcommands"
)

const version = "v0.1.0-dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&compileCmd{}, "")
	subcommands.Register(&supportedCmd{}, "")
	subcommands.Register(&inspectCmd{}, "")
	subcommands.Register(&versionCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(ctx)))
}
