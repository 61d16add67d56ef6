// Package frontend lowers a frozen source graph into a model.
//
// One compilation runs these steps in order: reset, custom layer loading, prepare
// passes, network boundary parsing, input/output materialization, the trivial case
// and conversion passes, the per-node lowering loop, cleanup and validation. Nodes
// that cannot be lowered are reported through a callback so that one bad operator
// does not have to fail the whole network.
//
// A FrontEnd keeps per-compilation state and must not be shared between goroutines.
// Run one FrontEnd per concurrent compilation.
package frontend

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/vpuc/internal/config"
	"github.com/born-ml/vpuc/internal/customlayer"
	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/rules"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/stages"
)

// Reason classifies why a layer was not lowered by its rule.
type Reason int

// Unsupported layer reasons.
const (
	// ReasonNoRule means no rule is registered for the layer type.
	ReasonNoRule Reason = iota + 1
	// ReasonRuleFailed means the rule ran and returned an error or panicked.
	ReasonRuleFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonNoRule:
		return "no rule"
	case ReasonRuleFailed:
		return "rule failed"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Diagnostic describes one layer that was not lowered by its rule.
type Diagnostic struct {
	Layer   string
	Type    string
	Reason  Reason
	Message string
}

// Report summarizes one compilation.
type Report struct {
	// Supported lists layers lowered by a rule or skipped on request, in lowering order.
	Supported   []string
	Unsupported []Diagnostic
}

// UnsupportedFunc handles a layer that was not lowered. inputs and outputs are the
// resolved operands of node. A returned error aborts the compilation.
type UnsupportedFunc func(m *model.Model, node *source.Node, inputs, outputs []*model.Data, d Diagnostic) error

// SupportedFunc is told about every layer that was lowered.
type SupportedFunc func(node *source.Node)

// FrontEnd lowers source graphs with one configuration and rule table.
type FrontEnd struct {
	cfg    config.Config
	table  *rules.Table
	passes []Pass
	base   *logrus.Entry

	// Per-compilation state.
	log              *logrus.Entry
	registry         *registry
	input, lowered   *source.Graph
	custom           *customlayer.Set
	unbatchedOutputs map[string]struct{}
}

// New returns a FrontEnd. A nil table uses rules.NewTable() and a nil log the standard
// logrus logger.
func New(cfg config.Config, table *rules.Table, log *logrus.Entry) (*FrontEnd, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Details: "invalid front end configuration", Err: err}
	}
	if table == nil {
		table = rules.NewTable()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FrontEnd{
		cfg:      cfg,
		table:    table,
		passes:   DefaultPasses(),
		base:     log,
		log:      log,
		registry: newRegistry(),
	}, nil
}

// SetPasses replaces the prepare pipeline.
func (f *FrontEnd) SetPasses(passes ...Pass) {
	f.passes = passes
}

// Lower compiles g. Layers that cannot be lowered fail the compilation unless the
// configuration ignores unknown layers, in which case they become None stages.
func (f *FrontEnd) Lower(g *source.Graph, customRules []*customlayer.Rule) (*model.Model, *Report, error) {
	return f.run(g, customRules, f.defaultUnsupported, nil)
}

// LowerWithCallbacks compiles g, handing every layer that was not lowered to
// onUnsupported and every lowered layer to onSupported. onSupported may be nil.
func (f *FrontEnd) LowerWithCallbacks(g *source.Graph, customRules []*customlayer.Rule,
	onUnsupported UnsupportedFunc, onSupported SupportedFunc) (*model.Model, *Report, error) {
	if onUnsupported == nil {
		onUnsupported = f.defaultUnsupported
	}
	return f.run(g, customRules, onUnsupported, onSupported)
}

// CheckSupportedLayers runs the full pipeline without failing on unsupported layers
// and returns the names of the layers that were lowered.
func (f *FrontEnd) CheckSupportedLayers(g *source.Graph, customRules []*customlayer.Rule) (map[string]struct{}, *Report, error) {
	supported := make(map[string]struct{})
	_, report, err := f.run(g, customRules,
		func(m *model.Model, node *source.Node, inputs, outputs []*model.Data, _ Diagnostic) error {
			_, err := stages.New(m).AddNoneStage(node.Name, node.Name, inputs, outputs)
			return err
		},
		func(node *source.Node) {
			supported[node.Name] = struct{}{}
		})
	if err != nil {
		return nil, nil, err
	}
	return supported, report, nil
}

// DataFor returns the buffer the last compilation resolved t to. t may belong to the
// graph passed to Lower or to the graph the prepare passes produced from it.
func (f *FrontEnd) DataFor(t *source.Tensor) (*model.Data, bool) {
	if f.input != nil && f.lowered != f.input {
		if it, ok := f.input.Tensor(t.Name); ok && it == t {
			if lt, ok := f.lowered.Tensor(t.Name); ok {
				t = lt
			}
		}
	}
	return f.registry.resolve(t)
}

// OriginOf returns the source tensor d was bound to in the last compilation.
func (f *FrontEnd) OriginOf(d *model.Data) (*source.Tensor, bool) {
	return f.registry.originOf(d)
}

func (f *FrontEnd) defaultUnsupported(m *model.Model, node *source.Node, inputs, outputs []*model.Data, d Diagnostic) error {
	if !f.cfg.IgnoreUnknownLayers {
		return &UnsupportedLayerError{Layer: node.Name, Type: node.Type, Message: d.Message}
	}
	_, err := stages.New(m).AddNoneStage(node.Name, node.Name, inputs, outputs)
	return err
}

func (f *FrontEnd) reset() {
	f.log = f.base
	f.registry.reset()
	f.input, f.lowered = nil, nil
	f.custom = nil
	f.unbatchedOutputs = make(map[string]struct{})
}

func (f *FrontEnd) run(g *source.Graph, customRules []*customlayer.Rule,
	onUnsupported UnsupportedFunc, onSupported SupportedFunc) (*model.Model, *Report, error) {
	if !g.Frozen() {
		return nil, nil, configErrorf("source graph %s is not frozen", g.Name())
	}

	f.reset()
	if err := f.loadCustomLayers(customRules); err != nil {
		return nil, nil, err
	}

	m := model.New(g.Name(), model.NextIndex())
	m.Attrs().Set(AttrIndex, m.Index())
	f.log = f.base.WithFields(logrus.Fields{"model": g.Name(), "index": m.Index()})

	pc := &PrepareContext{Graph: g, Model: m, Log: f.log, UnbatchedOutputs: f.unbatchedOutputs}
	for _, p := range f.passes {
		f.log.WithField("pass", p.Name()).Debug("run prepare pass")
		if err := p.Run(pc); err != nil {
			return nil, nil, fmt.Errorf("prepare pass %s: %w", p.Name(), err)
		}
	}

	net, err := parseNetwork(pc.Graph)
	if err != nil {
		return nil, nil, err
	}
	f.input, f.lowered = g, pc.Graph
	f.log.Debugf("network has %d inputs, %d outputs, %d constants and %d layers",
		len(net.inputs), len(net.outputs), len(net.consts), len(net.ops))

	sb := stages.New(m)
	if err := f.parseInputAndOutputData(m, net); err != nil {
		return nil, nil, err
	}
	if err := f.processTrivialCases(m, sb); err != nil {
		return nil, nil, err
	}
	if !f.cfg.DisableConvertStages {
		if err := f.addDataTypeConvertStages(m, sb); err != nil {
			return nil, nil, err
		}
	}

	report := &Report{}
	for _, node := range net.ops {
		if err := f.lowerNode(m, sb, net, node, report, onUnsupported, onSupported); err != nil {
			return nil, nil, err
		}
	}

	m.CleanUp()
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}

	f.log.WithFields(logrus.Fields{
		"stages":      len(m.Stages()),
		"datas":       len(m.Datas()),
		"unsupported": len(report.Unsupported),
	}).Info("network lowered")
	return m, report, nil
}

func (f *FrontEnd) loadCustomLayers(customRules []*customlayer.Rule) error {
	if path := f.cfg.CustomLayers; path != "" {
		if len(customRules) > 0 {
			return configErrorf("custom layers given both by file %s and by the caller", path)
		}
		f.log.WithField("path", path).Debug("parse custom layers")
		loaded, err := customlayer.Load(path)
		if err != nil {
			return &ConfigError{Details: "custom layers", Err: err}
		}
		customRules = loaded
	}
	if len(customRules) > 0 && f.cfg.Platform != config.PlatformMyriadX {
		return configErrorf("Custom layers are not supported for %s platforms", f.cfg.Platform)
	}

	set, err := customlayer.NewSet(customRules)
	if err != nil {
		return &ConfigError{Details: "custom layers", Err: err}
	}
	f.custom = set
	return nil
}

func (f *FrontEnd) lowerNode(m *model.Model, sb *stages.Builder, net *network, node *source.Node,
	report *Report, onUnsupported UnsupportedFunc, onSupported SupportedFunc) error {
	log := f.log.WithFields(logrus.Fields{"layer": node.Name, "type": node.Type})
	log.Trace("parse layer")

	inputs, outputs, err := f.getInputAndOutputData(m, net, node)
	if err != nil {
		return err
	}

	supported := func() {
		report.Supported = append(report.Supported, node.Name)
		if onSupported != nil {
			onSupported(node)
		}
	}

	if f.cfg.SkipAllLayers || f.cfg.SkipsLayer(node.Type) {
		if _, err := sb.AddNoneStage(node.Name, node.Name, inputs, outputs); err != nil {
			return err
		}
		supported()
		return nil
	}

	unsupported := func(reason Reason, msg string) error {
		d := Diagnostic{Layer: node.Name, Type: node.Type, Reason: reason, Message: msg}
		report.Unsupported = append(report.Unsupported, d)
		log.WithField("reason", reason).Warn(msg)
		return onUnsupported(m, node, inputs, outputs, d)
	}

	custom, err := f.custom.Match(node)
	if err != nil {
		return &ConfigError{Details: fmt.Sprintf("layer %s", node.Name), Err: err}
	}
	tag := node.Type
	if custom != nil {
		tag = rules.TagCustom
		log.WithField("custom", custom.Name).Debug("custom layer matched")
	}

	rule, ok := f.table.Get(tag)
	if !ok {
		return unsupported(ReasonNoRule, fmt.Sprintf("unsupported layer type %q", node.Type))
	}

	ctx := &rules.Context{Model: m, Stages: sb, Log: log, Custom: custom}
	cp := m.Checkpoint()
	if err := callRule(rule, ctx, node, inputs, outputs); err != nil {
		var ue *rules.UnsupportedError
		if errors.As(err, &ue) {
			return &UnsupportedLayerError{Layer: node.Name, Type: node.Type, Message: ue.Reason}
		}
		// Drop what the rule built before failing so the layer starts clean.
		m.Rollback(cp)
		return unsupported(ReasonRuleFailed, err.Error())
	}

	supported()
	return nil
}

// callRule runs rule, turning a panic into an error.
func callRule(rule rules.Rule, ctx *rules.Context, node *source.Node, inputs, outputs []*model.Data) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule for %s layer %s panicked: %v", node.Type, node.Name, r)
		}
	}()
	return rule(ctx, node, inputs, outputs)
}
