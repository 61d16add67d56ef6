// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package compiler lowers neural network graphs into VPU stage models.
//
// A compilation reads a frozen source graph (usually imported from an ONNX file),
// applies the network-level passes and lowers every operator through the rule table
// or a matching custom layer rule. The result is a Model: an acyclic graph of stages
// connected by data buffers.
//
// Example:
//
//	cfg := compiler.DefaultConfig()
//	cfg.IgnoreUnknownLayers = true
//
//	m, report, err := compiler.Compile("mobilenet.onnx", cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, s := range m.Stages() {
//	    fmt.Println(s)
//	}
//	fmt.Printf("%d layers not lowered\n", len(report.Unsupported))
package compiler

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/vpuc/internal/config"
	"github.com/born-ml/vpuc/internal/customlayer"
	"github.com/born-ml/vpuc/internal/frontend"
	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/onnx"
	"github.com/born-ml/vpuc/internal/parallel"
	"github.com/born-ml/vpuc/internal/source"
)

// Type aliases for public API

// Config holds the options of one compilation.
type Config = config.Config

// Graph is a source network. Build one with NewGraph or import it with the onnx
// package, then freeze it before compiling.
type Graph = source.Graph

// Tensor is a value flowing between source nodes.
type Tensor = source.Tensor

// Params holds the attributes of a source node.
type Params = source.Params

// Model is the lowered stage graph.
type Model = model.Model

// Stage is one device kernel invocation.
type Stage = model.Stage

// Data is a buffer read or written by stages.
type Data = model.Data

// CustomRule describes a user supplied kernel for matching layers.
type CustomRule = customlayer.Rule

// FrontEnd lowers graphs with one configuration. See NewFrontEnd.
type FrontEnd = frontend.FrontEnd

// Report lists the layers that were and were not lowered.
type Report = frontend.Report

// Diagnostic describes one layer that was not lowered.
type Diagnostic = frontend.Diagnostic

// ConfigError reports an invalid network or invalid options.
type ConfigError = frontend.ConfigError

// UnsupportedLayerError aborts a compilation on a layer that could not be lowered.
type UnsupportedLayerError = frontend.UnsupportedLayerError

// ErrConfiguration is wrapped by every ConfigError.
var ErrConfiguration = frontend.ErrConfiguration

// DefaultConfig returns the options used when nothing is specified.
func DefaultConfig() Config {
	return config.Default()
}

// NewGraph returns an empty graph.
func NewGraph(name string) *Graph {
	return source.NewGraph(name)
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// LoadCustomRules reads a custom layer YAML file.
func LoadCustomRules(path string) ([]*CustomRule, error) {
	return customlayer.Load(path)
}

// NewFrontEnd returns a FrontEnd using the built-in rule table. A nil log uses the
// standard logrus logger.
func NewFrontEnd(cfg Config, log *logrus.Entry) (*FrontEnd, error) {
	return frontend.New(cfg, nil, log)
}

// Compile imports the ONNX file at path and lowers it.
func Compile(path string, cfg Config, log *logrus.Entry) (*Model, *Report, error) {
	g, err := onnx.ImportFile(path)
	if err != nil {
		return nil, nil, err
	}
	return CompileGraph(g, cfg, nil, log)
}

// CompileGraph lowers g with the given custom rules.
func CompileGraph(g *Graph, cfg Config, rules []*CustomRule, log *logrus.Entry) (*Model, *Report, error) {
	fe, err := NewFrontEnd(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return fe.Lower(g, rules)
}

// CheckSupported imports the ONNX file at path and returns the names of the layers
// that can be lowered. Unsupported layers do not fail the call.
func CheckSupported(path string, cfg Config, log *logrus.Entry) (map[string]struct{}, *Report, error) {
	g, err := onnx.ImportFile(path)
	if err != nil {
		return nil, nil, err
	}
	fe, err := NewFrontEnd(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return fe.CheckSupportedLayers(g, nil)
}

// Result is the outcome of compiling one file with CompileAll.
type Result struct {
	Path   string
	Model  *Model
	Report *Report
	Err    error
}

// CompileAll compiles every file with at most jobs compilations running at once.
// A failing file does not stop the others; its error is kept in its Result.
func CompileAll(ctx context.Context, paths []string, cfg Config, jobs int, log *logrus.Entry) ([]Result, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	results := make([]Result, len(paths))
	err := parallel.ForEach(ctx, len(paths), parallel.Config{Jobs: jobs}, func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := paths[i]
		m, report, err := Compile(path, cfg, log.WithField("file", path))
		results[i] = Result{Path: path, Model: m, Report: report, Err: err}
		return nil
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
