package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/subcommands"

	"github.com/born-ml/vpuc/compiler"
	"github.com/born-ml/vpuc/internal/serialization"
)

type compileCmd struct {
	options
	jobs       int
	showStages bool
	dumpDir    string
}

func (*compileCmd) Name() string     { return "compile" }
func (*compileCmd) Synopsis() string { return "lower ONNX models to stage graphs" }
func (*compileCmd) Usage() string {
	return `compile [flags] model.onnx...:
  Lower every model and print a summary per model. Models compile concurrently.
`
}

func (c *compileCmd) SetFlags(f *flag.FlagSet) {
	c.options.setFlags(f)
	f.IntVar(&c.jobs, "jobs", runtime.NumCPU(), "number of models compiled at once")
	f.BoolVar(&c.showStages, "stages", false, "print the stage table of every model")
	f.StringVar(&c.dumpDir, "dump", "", "directory receiving a JSON stage graph dump per model")
}

func (c *compileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	cfg, log, err := c.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vpuc: %v\n", err)
		return subcommands.ExitUsageError
	}

	results, err := compiler.CompileAll(ctx, f.Args(), cfg, c.jobs, log)
	if err != nil {
		log.WithError(err).Error("compilation interrupted")
		return subcommands.ExitFailure
	}

	status := subcommands.ExitSuccess
	for _, r := range results {
		if r.Err != nil {
			log.WithField("file", r.Path).Error(r.Err)
			status = subcommands.ExitFailure
			continue
		}
		fmt.Printf("%s: %d stages, %d datas, %d layers not lowered\n",
			r.Path, len(r.Model.Stages()), len(r.Model.Datas()), len(r.Report.Unsupported))
		if c.showStages {
			writeStageTable(os.Stdout, r.Model)
		}
		if c.dumpDir != "" {
			if err := dumpModel(c.dumpDir, r.Path, r.Model); err != nil {
				log.WithField("file", r.Path).Error(err)
				status = subcommands.ExitFailure
			}
		}
	}
	return status
}

// dumpModel writes the stage graph of m to dir as <model file base>.stages.json.
func dumpModel(dir, path string, m *compiler.Model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".stages.json"
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if err := serialization.Write(f, m, version); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
