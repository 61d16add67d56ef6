package frontend

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/born-ml/vpuc/internal/config"
	"github.com/born-ml/vpuc/internal/customlayer"
	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/rules"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/stages"
	"github.com/born-ml/vpuc/internal/tensor"
)

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(log)
}

func newFrontEnd(t *testing.T, configure func(*config.Config), extra ...rules.Entry) *FrontEnd {
	t.Helper()
	cfg := config.Default()
	if configure != nil {
		configure(&cfg)
	}
	f, err := New(cfg, rules.NewTable(extra...), quietLog())
	require.NoError(t, err)
	return f
}

// netBuilder builds small source graphs for tests.
type netBuilder struct {
	t *testing.T
	g *source.Graph
}

func newNet(t *testing.T) *netBuilder {
	return &netBuilder{t: t, g: source.NewGraph("net")}
}

func (b *netBuilder) input(name string, dt tensor.DataType, dims ...int) *source.Tensor {
	b.t.Helper()
	x, err := b.g.AddParameter(name, dt, tensor.Shape(dims))
	require.NoError(b.t, err)
	return x
}

func (b *netBuilder) tensor(name string, dt tensor.DataType, dims ...int) *source.Tensor {
	b.t.Helper()
	x, err := b.g.NewTensor(name, dt, tensor.Shape(dims))
	require.NoError(b.t, err)
	return x
}

func (b *netBuilder) node(name, typ string, params source.Params, inputs []*source.Tensor, outputs ...*source.Tensor) {
	b.t.Helper()
	_, err := b.g.AddNode(name, typ, params, inputs, outputs)
	require.NoError(b.t, err)
}

func (b *netBuilder) output(ts ...*source.Tensor) {
	b.t.Helper()
	for _, x := range ts {
		_, err := b.g.MarkOutput(x)
		require.NoError(b.t, err)
	}
}

func (b *netBuilder) freeze() *source.Graph {
	b.t.Helper()
	require.NoError(b.t, b.g.Freeze())
	return b.g
}

func in(ts ...*source.Tensor) []*source.Tensor { return ts }

func stageNamed(t *testing.T, m *model.Model, name string) *model.Stage {
	t.Helper()
	for _, s := range m.Stages() {
		if s.Name() == name {
			return s
		}
	}
	require.Failf(t, "stage not found", "no stage %q in %v", name, m.Stages())
	return nil
}

func dataNamed(t *testing.T, m *model.Model, name string) *model.Data {
	t.Helper()
	d, ok := m.DataByName(name)
	require.True(t, ok, "no data %q", name)
	return d
}

// sigmoidNet is x -> Sigmoid -> Relu -> y.
func sigmoidNet(t *testing.T, dt tensor.DataType) (*source.Graph, *source.Tensor) {
	b := newNet(t)
	x := b.input("x", dt, 1, 8)
	h := b.tensor("h", dt, 1, 8)
	y := b.tensor("y", dt, 1, 8)
	b.node("sig", "Sigmoid", nil, in(x), h)
	b.node("relu", "Relu", nil, in(h), y)
	b.output(y)
	return b.freeze(), x
}

func TestLowerChain(t *testing.T) {
	g, _ := sigmoidNet(t, tensor.Float16)
	f := newFrontEnd(t, nil)

	m, report, err := f.Lower(g, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"sig", "relu"}, report.Supported)
	assert.Empty(t, report.Unsupported)
	require.Len(t, m.Stages(), 2)

	x, h, y := dataNamed(t, m, "x"), dataNamed(t, m, "h"), dataNamed(t, m, "y")
	assert.Equal(t, model.Input, x.Usage())
	assert.Equal(t, model.Intermediate, h.Usage())
	assert.Equal(t, model.Output, y.Usage())
	assert.Same(t, stageNamed(t, m, "relu"), y.Producer())
	assert.Same(t, stageNamed(t, m, "sig"), h.Producer())
	assert.Equal(t, m.Index(), model.GetOr(m.Attrs(), AttrIndex, -1))

	ordered, err := m.OrderedStages()
	require.NoError(t, err)
	assert.Equal(t, "sig", ordered[0].Name())
}

func TestLowerConvertsFP32Boundary(t *testing.T) {
	g, xTensor := sigmoidNet(t, tensor.Float32)
	f := newFrontEnd(t, nil)

	m, _, err := f.Lower(g, nil)
	require.NoError(t, err)

	x := dataNamed(t, m, "x")
	xFP16 := dataNamed(t, m, "x@FP16")
	yFP16 := dataNamed(t, m, "y@FP16")
	y := dataNamed(t, m, "y")

	assert.Equal(t, tensor.Float32, x.Type())
	assert.Equal(t, tensor.Float16, xFP16.Type())
	assert.Equal(t, tensor.Float32, y.Type())
	assert.Same(t, xFP16, model.GetOr[*model.Data](x.Attrs(), AttrFP16Copy, nil))
	assert.Same(t, yFP16, model.GetOr[*model.Data](y.Attrs(), AttrFP16Copy, nil))

	toFP16 := stageNamed(t, m, "x@FP16")
	assert.Equal(t, model.StageConvert, toFP16.Type())
	assert.Equal(t, []*model.Data{x}, toFP16.Inputs())
	assert.Same(t, xFP16, toFP16.Output(0))

	assert.Same(t, xFP16, stageNamed(t, m, "sig").Input(0))
	assert.Same(t, yFP16, stageNamed(t, m, "relu").Output(0))

	out := stageNamed(t, m, "y@FP16")
	assert.Equal(t, model.StageConvert, out.Type())
	assert.Same(t, yFP16, out.Input(0))
	assert.Same(t, out, y.Producer())
	assert.False(t, model.GetOr(out.Attrs(), AttrHaveBatch, true))
	assert.False(t, model.GetOr(out.Attrs(), AttrConvertFromDetOutput, true))

	resolved, ok := f.DataFor(xTensor)
	require.True(t, ok)
	assert.Same(t, xFP16, resolved)
	origin, ok := f.OriginOf(x)
	require.True(t, ok)
	assert.Same(t, xTensor, origin)
}

func TestLowerScaledFP16Input(t *testing.T) {
	g, _ := sigmoidNet(t, tensor.Float16)
	f := newFrontEnd(t, func(c *config.Config) {
		c.InputScale = 0.5
		c.InputBias = 1
	})

	m, _, err := f.Lower(g, nil)
	require.NoError(t, err)

	scaled := dataNamed(t, m, "x@SCALE=0.5@BIAS=1")
	power := stageNamed(t, m, scaled.Name())
	assert.Equal(t, model.StagePower, power.Type())
	assert.Same(t, dataNamed(t, m, "x"), power.Input(0))
	assert.Equal(t, float32(0.5), model.GetOr(power.Attrs(), stages.AttrScale, float32(0)))
	assert.Equal(t, float32(1), model.GetOr(power.Attrs(), stages.AttrPower, float32(0)))
	assert.Equal(t, float32(1), model.GetOr(power.Attrs(), stages.AttrBias, float32(0)))
	bits, ok := stages.HalfBits(power.Attrs(), stages.AttrScale)
	require.True(t, ok)
	assert.Equal(t, float16.Fromfloat32(0.5).Bits(), bits)

	assert.Same(t, scaled, stageNamed(t, m, "sig").Input(0))
}

func TestDisableConvertStages(t *testing.T) {
	g, _ := sigmoidNet(t, tensor.Float16)
	f := newFrontEnd(t, func(c *config.Config) {
		c.InputScale = 2
		c.DisableConvertStages = true
	})

	m, _, err := f.Lower(g, nil)
	require.NoError(t, err)
	assert.Len(t, m.Stages(), 2)
	assert.Same(t, dataNamed(t, m, "x"), stageNamed(t, m, "sig").Input(0))
}

func TestDisableConvertStagesStoresFP32BoundaryAsFP16(t *testing.T) {
	g, xTensor := sigmoidNet(t, tensor.Float32)
	f := newFrontEnd(t, func(c *config.Config) { c.DisableConvertStages = true })

	m, report, err := f.Lower(g, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Unsupported)
	assert.Equal(t, []string{"sig", "relu"}, report.Supported)
	require.Len(t, m.Stages(), 2)

	x, y := dataNamed(t, m, "x"), dataNamed(t, m, "y")
	assert.Equal(t, model.Input, x.Usage())
	assert.Equal(t, tensor.Float16, x.Type())
	assert.Equal(t, model.Output, y.Usage())
	assert.Equal(t, tensor.Float16, y.Type())
	assert.Same(t, x, stageNamed(t, m, "sig").Input(0))
	assert.Same(t, stageNamed(t, m, "relu"), y.Producer())

	resolved, ok := f.DataFor(xTensor)
	require.True(t, ok)
	assert.Same(t, x, resolved)
}

func TestTrivialCase(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 1, 4)
	b.output(x)
	f := newFrontEnd(t, nil)

	m, report, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Supported)

	require.Len(t, m.Stages(), 1)
	cp := m.Stages()[0]
	assert.Equal(t, model.StageCopy, cp.Type())
	assert.Equal(t, "x@copy", cp.Name())
	assert.Equal(t, trivialCopyReason, model.GetOr(cp.Attrs(), stages.AttrCopyReason, ""))
	assert.Same(t, dataNamed(t, m, "x"), cp.Input(0))
	assert.Equal(t, model.Output, cp.Output(0).Usage())
}

func TestTrivialCaseFP32(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float32, 1, 4)
	b.output(x)
	f := newFrontEnd(t, nil)

	m, _, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)

	cp := stageNamed(t, m, "x@copy")
	assert.Equal(t, tensor.Float16, cp.Input(0).Type())
	assert.Equal(t, tensor.Float16, cp.Output(0).Type())
	require.Len(t, m.Stages(), 3)
	require.NoError(t, m.Validate())
}

func TestTrivialCaseRejectsDuplicateUsage(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)

	f := newFrontEnd(t, nil)
	m := model.New("m", model.NextIndex())
	first := m.AddOutputData("a", model.NewDesc(tensor.Float16, tensor.Shape{4}))
	second := m.AddOutputData("b", model.NewDesc(tensor.Float16, tensor.Shape{4}))
	f.registry.rebind(first, x)
	f.registry.rebind(second, x)

	err := f.processTrivialCases(m, stages.New(m))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestUnsupportedLayerIsFatal(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 1, 4)
	y := b.tensor("y", tensor.Float16, 1, 4)
	b.node("mystery", "Mystery", nil, in(x), y)
	b.output(y)
	f := newFrontEnd(t, nil)

	m, report, err := f.Lower(b.freeze(), nil)
	require.Error(t, err)
	assert.Nil(t, m)
	assert.Nil(t, report)

	var ue *UnsupportedLayerError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "mystery", ue.Layer)
	assert.Equal(t, `Failed to compile layer "mystery": unsupported layer type "Mystery"`, err.Error())
}

func TestIgnoreUnknownLayers(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 1, 4)
	a := b.tensor("a", tensor.Float16, 1, 4)
	unused := b.tensor("unused", tensor.Float16, 1, 4)
	y := b.tensor("y", tensor.Float16, 1, 4)
	b.node("mystery", "Mystery", nil, in(x), a, unused)
	b.node("sig", "Sigmoid", nil, in(a), y)
	b.output(y)
	f := newFrontEnd(t, func(c *config.Config) { c.IgnoreUnknownLayers = true })

	m, report, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"sig"}, report.Supported)
	require.Len(t, report.Unsupported, 1)
	assert.Equal(t, Diagnostic{
		Layer:   "mystery",
		Type:    "Mystery",
		Reason:  ReasonNoRule,
		Message: `unsupported layer type "Mystery"`,
	}, report.Unsupported[0])

	none := stageNamed(t, m, "mystery")
	assert.Equal(t, model.StageNone, none.Type())
	assert.Equal(t, []*model.Data{dataNamed(t, m, "x")}, none.Inputs())
	require.Equal(t, 2, none.NumOutputs())
	assert.Same(t, dataNamed(t, m, "a"), none.Output(0))
	assert.Equal(t, model.Fake, none.Output(1).Usage())
}

func TestRuleErrorIsRecoverable(t *testing.T) {
	build := func() *source.Graph {
		b := newNet(t)
		x := b.input("x", tensor.Float16, 4, 4)
		y := b.tensor("y", tensor.Float16, 6, 6)
		b.node("pad", "Pad", source.Params{"pads": []int64{1, 1, 1, 1}}, in(x), y)
		b.output(y)
		return b.freeze()
	}

	_, _, err := newFrontEnd(t, nil).Lower(build(), nil)
	var ue *UnsupportedLayerError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Message, "support only 3D and 4D input")

	m, report, err := newFrontEnd(t, func(c *config.Config) { c.IgnoreUnknownLayers = true }).Lower(build(), nil)
	require.NoError(t, err)
	require.Len(t, report.Unsupported, 1)
	assert.Equal(t, ReasonRuleFailed, report.Unsupported[0].Reason)
	assert.Equal(t, model.StageNone, stageNamed(t, m, "pad").Type())
}

func TestRuleErrorRollsBackPartialStages(t *testing.T) {
	partial := rules.Entry{Tag: "Partial", Rule: func(ctx *rules.Context, node *source.Node, inputs, outputs []*model.Data) error {
		tmp, err := ctx.Model.DuplicateData(outputs[0], "@tmp", nil)
		if err != nil {
			return err
		}
		if _, err := ctx.Stages.AddCopyStage(node.Name+"@first", node.Name, inputs[0], tmp, ""); err != nil {
			return err
		}
		if _, err := ctx.Stages.AddCopyStage(node.Name, node.Name, tmp, outputs[0], ""); err != nil {
			return err
		}
		return errors.New("second stage failed")
	}}
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)
	y := b.tensor("y", tensor.Float16, 4)
	b.node("half", "Partial", nil, in(x), y)
	b.output(y)
	f := newFrontEnd(t, func(c *config.Config) { c.IgnoreUnknownLayers = true }, partial)

	m, report, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)
	require.Len(t, report.Unsupported, 1)
	assert.Equal(t, ReasonRuleFailed, report.Unsupported[0].Reason)
	assert.Equal(t, "second stage failed", report.Unsupported[0].Message)

	require.Len(t, m.Stages(), 1)
	none := stageNamed(t, m, "half")
	assert.Equal(t, model.StageNone, none.Type())
	assert.Same(t, none, dataNamed(t, m, "y").Producer())
	_, ok := m.DataByName("y@tmp")
	assert.False(t, ok)
	assert.Equal(t, []*model.Stage{none}, dataNamed(t, m, "x").Consumers())
}

func TestRuleUnsupportedErrorAbortsEvenWhenIgnoring(t *testing.T) {
	reject := rules.Entry{Tag: "Reject", Rule: func(_ *rules.Context, node *source.Node, _, _ []*model.Data) error {
		return rules.Unsupported(node, "mode %s is not implemented", "fancy")
	}}
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)
	y := b.tensor("y", tensor.Float16, 4)
	b.node("r", "Reject", nil, in(x), y)
	b.output(y)
	f := newFrontEnd(t, func(c *config.Config) { c.IgnoreUnknownLayers = true }, reject)

	_, _, err := f.Lower(b.freeze(), nil)
	var ue *UnsupportedLayerError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "mode fancy is not implemented", ue.Message)
}

func TestRulePanicIsRecovered(t *testing.T) {
	boom := rules.Entry{Tag: "Boom", Rule: func(*rules.Context, *source.Node, []*model.Data, []*model.Data) error {
		panic("index out of range")
	}}
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)
	y := b.tensor("y", tensor.Float16, 4)
	b.node("b", "Boom", nil, in(x), y)
	b.output(y)
	f := newFrontEnd(t, func(c *config.Config) { c.IgnoreUnknownLayers = true }, boom)

	_, report, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)
	require.Len(t, report.Unsupported, 1)
	assert.Equal(t, ReasonRuleFailed, report.Unsupported[0].Reason)
	assert.Contains(t, report.Unsupported[0].Message, "panicked: index out of range")
}

func TestLowerWithCallbacks(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)
	h := b.tensor("h", tensor.Float16, 4)
	y := b.tensor("y", tensor.Float16, 4)
	b.node("mystery", "Mystery", nil, in(x), h)
	b.node("sig", "Sigmoid", nil, in(h), y)
	b.output(y)
	f := newFrontEnd(t, nil)

	var seen []string
	var diags []Diagnostic
	_, _, err := f.LowerWithCallbacks(b.freeze(), nil,
		func(m *model.Model, node *source.Node, inputs, outputs []*model.Data, d Diagnostic) error {
			diags = append(diags, d)
			_, err := stages.New(m).AddNoneStage(node.Name, node.Name, inputs, outputs)
			return err
		},
		func(node *source.Node) { seen = append(seen, node.Name) })
	require.NoError(t, err)
	assert.Equal(t, []string{"sig"}, seen)
	require.Len(t, diags, 1)
	assert.Equal(t, "mystery", diags[0].Layer)
}

func TestCheckSupportedLayers(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)
	h := b.tensor("h", tensor.Float16, 4)
	y := b.tensor("y", tensor.Float16, 4)
	b.node("mystery", "Mystery", nil, in(x), h)
	b.node("sig", "Sigmoid", nil, in(h), y)
	b.output(y)
	f := newFrontEnd(t, nil)

	supported, report, err := f.CheckSupportedLayers(b.freeze(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"sig": {}}, supported)
	require.Len(t, report.Unsupported, 1)
}

func TestSkipLayerTypes(t *testing.T) {
	g, _ := sigmoidNet(t, tensor.Float16)
	f := newFrontEnd(t, func(c *config.Config) { c.SkipLayerTypes = []string{" sigmoid "} })

	m, report, err := f.Lower(g, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sig", "relu"}, report.Supported)
	assert.Equal(t, model.StageNone, stageNamed(t, m, "sig").Type())
	assert.Equal(t, model.StageRelu, stageNamed(t, m, "relu").Type())
}

func customSigmoid(name, axis string) *customlayer.Rule {
	return &customlayer.Rule{
		Name:    name,
		Type:    "Sigmoid",
		Where:   map[string]string{"axis": axis},
		Kernels: []customlayer.Kernel{{Entry: name + "_entry", Binary: name + ".elf"}},
	}
}

func axisNet(t *testing.T, axis int64) *source.Graph {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)
	y := b.tensor("y", tensor.Float16, 4)
	b.node("sig", "Sigmoid", source.Params{"axis": axis}, in(x), y)
	b.output(y)
	return b.freeze()
}

func TestCustomLayerOverridesRule(t *testing.T) {
	custom := []*customlayer.Rule{customSigmoid("fast", "1")}
	f := newFrontEnd(t, nil)

	m, report, err := f.Lower(axisNet(t, 1), custom)
	require.NoError(t, err)
	s := stageNamed(t, m, "sig")
	assert.Equal(t, model.StageCustom, s.Type())
	assert.Equal(t, "fast", model.GetOr(s.Attrs(), rules.AttrCustomLayer, ""))
	assert.Equal(t, []string{"sig"}, report.Supported)

	m, _, err = f.Lower(axisNet(t, 2), custom)
	require.NoError(t, err)
	assert.Equal(t, model.StageSigmoid, stageNamed(t, m, "sig").Type())
}

func TestCustomLayerTieIsConfigError(t *testing.T) {
	custom := []*customlayer.Rule{customSigmoid("a", "1"), customSigmoid("b", ">=1")}
	f := newFrontEnd(t, nil)

	_, _, err := f.Lower(axisNet(t, 1), custom)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, customlayer.ErrAmbiguousMatch)
}

func TestCustomLayersNeedMyriadX(t *testing.T) {
	f := newFrontEnd(t, func(c *config.Config) { c.Platform = config.PlatformMyriad2 })

	_, _, err := f.Lower(axisNet(t, 1), []*customlayer.Rule{customSigmoid("fast", "1")})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, _, err = f.Lower(axisNet(t, 1), nil)
	assert.NoError(t, err)
}

func TestCustomLayersFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
layers:
  - type: Sigmoid
    name: file_sigmoid
    kernels:
      - entry: sigmoid_fp16
        binary: sigmoid.elf
`), 0o600))
	f := newFrontEnd(t, func(c *config.Config) { c.CustomLayers = path })

	m, _, err := f.Lower(axisNet(t, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, "file_sigmoid", model.GetOr(stageNamed(t, m, "sig").Attrs(), rules.AttrCustomLayer, ""))

	_, _, err = f.Lower(axisNet(t, 3), []*customlayer.Rule{customSigmoid("inline", "3")})
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Error(), "both by file")
}

func TestFrontEndReuseStartsClean(t *testing.T) {
	f := newFrontEnd(t, nil)

	first := axisNet(t, 1)
	m1, _, err := f.Lower(first, []*customlayer.Rule{customSigmoid("fast", "1")})
	require.NoError(t, err)
	assert.Equal(t, model.StageCustom, stageNamed(t, m1, "sig").Type())
	firstX, ok := first.Tensor("x")
	require.True(t, ok)

	m2, report, err := f.Lower(axisNet(t, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sig"}, report.Supported)
	for _, s := range m2.Stages() {
		assert.NotEqual(t, model.StageCustom, s.Type(), "custom rules of the previous compilation leaked")
	}

	fresh, _, err := newFrontEnd(t, nil).Lower(axisNet(t, 1), nil)
	require.NoError(t, err)
	assert.Len(t, m2.Stages(), len(fresh.Stages()))
	assert.Len(t, m2.Datas(), len(fresh.Datas()))

	_, ok = f.DataFor(firstX)
	assert.False(t, ok, "bindings of the previous compilation leaked")
	_, ok = f.OriginOf(dataNamed(t, m1, "x"))
	assert.False(t, ok)
}

func TestCleanupRemovesDeadBranches(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)
	y := b.tensor("y", tensor.Float16, 4)
	z := b.tensor("z", tensor.Float16, 4)
	w := b.tensor("w", tensor.Float16, 4)
	b.node("sig", "Sigmoid", nil, in(x), y)
	b.node("relu", "Relu", nil, in(x), z)
	b.node("exp", "Exp", nil, in(z), w)
	b.output(y)
	f := newFrontEnd(t, nil)

	m, report, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sig", "relu", "exp"}, report.Supported)
	require.Len(t, m.Stages(), 1)
	assert.Equal(t, "sig", m.Stages()[0].Name())
	_, ok := m.DataByName("z")
	assert.False(t, ok)
}

func TestLowerIsDeterministic(t *testing.T) {
	type snapshot struct {
		stages []string
		datas  []string
	}
	take := func() snapshot {
		g, _ := sigmoidNet(t, tensor.Float32)
		m, _, err := newFrontEnd(t, func(c *config.Config) { c.InputScale = 0.25 }).Lower(g, nil)
		require.NoError(t, err)
		var s snapshot
		for _, st := range m.Stages() {
			s.stages = append(s.stages, st.String())
		}
		for _, d := range m.Datas() {
			s.datas = append(s.datas, d.String())
		}
		return s
	}
	assert.Equal(t, take(), take())
}

func TestNetworkBoundaryErrors(t *testing.T) {
	t.Run("no inputs", func(t *testing.T) {
		b := newNet(t)
		c, err := b.g.AddConstant("c", tensor.Float16, tensor.Shape{2}, make([]byte, 4))
		require.NoError(t, err)
		b.output(c)
		_, _, err = newFrontEnd(t, nil).Lower(b.freeze(), nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("no outputs", func(t *testing.T) {
		b := newNet(t)
		b.input("x", tensor.Float16, 2)
		_, _, err := newFrontEnd(t, nil).Lower(b.freeze(), nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("not frozen", func(t *testing.T) {
		b := newNet(t)
		x := b.input("x", tensor.Float16, 2)
		b.output(x)
		_, _, err := newFrontEnd(t, nil).Lower(b.g, nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
	t.Run("bad constant size", func(t *testing.T) {
		b := newNet(t)
		x := b.input("x", tensor.Float16, 2)
		_, err := b.g.AddConstant("c", tensor.Float16, tensor.Shape{2}, make([]byte, 3))
		require.NoError(t, err)
		b.output(x)
		_, _, err = newFrontEnd(t, nil).Lower(b.freeze(), nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestConstantOutput(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 2)
	content := make([]byte, 8)
	binary.LittleEndian.PutUint32(content, math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(content[4:], math.Float32bits(-2))
	c, err := b.g.AddConstant("c", tensor.Float32, tensor.Shape{2}, content)
	require.NoError(t, err)
	b.output(x, c)
	f := newFrontEnd(t, nil)

	m, _, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)

	cd := dataNamed(t, m, "c")
	assert.Equal(t, model.Const, cd.Usage())
	assert.Equal(t, tensor.Float16, cd.Type())
	assert.Equal(t, float16.Fromfloat32(1.5).Bits(), binary.LittleEndian.Uint16(cd.Content()))

	cp := stageNamed(t, m, "c@copy")
	assert.Same(t, cd, cp.Input(0))
	out := dataNamed(t, m, "c@output")
	assert.Equal(t, tensor.Float32, out.Type())
	assert.Same(t, cp, out.Producer())
	assert.Equal(t, model.StageConvert, cp.Type())

	// One Convert from the FP16 constant, no second FP16 hop.
	require.Len(t, m.Stages(), 2)
	_, ok := m.DataByName("c@output@FP16")
	assert.False(t, ok)
	require.NoError(t, m.Validate())
}

func TestPrecisionIsNarrowed(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Int64, 4)
	y := b.tensor("y", tensor.Int64, 4)
	b.node("id", "Identity", nil, in(x), y)
	b.output(y)
	f := newFrontEnd(t, nil)

	m, _, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)
	assert.Equal(t, tensor.Int32, dataNamed(t, m, "x").Type())
	assert.Equal(t, tensor.Int32, dataNamed(t, m, "y").Type())
	assert.Equal(t, model.StageCopy, stageNamed(t, m, "id").Type())

	d, ok := f.DataFor(x)
	require.True(t, ok, "tensors of the caller's graph resolve through the narrowed copy")
	assert.Same(t, dataNamed(t, m, "x"), d)
}

func TestConvertPrecisionContent(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 2)
	content := make([]byte, 24)
	binary.LittleEndian.PutUint64(content, 1)
	binary.LittleEndian.PutUint64(content[8:], uint64(1<<64-2)) // -2
	binary.LittleEndian.PutUint64(content[16:], 1<<40)
	c, err := b.g.AddConstant("c", tensor.Int64, tensor.Shape{3}, content)
	require.NoError(t, err)
	b.output(x, c)
	g := b.freeze()

	pc := &PrepareContext{Graph: g, Model: model.New("m", 0), Log: quietLog(), UnbatchedOutputs: map[string]struct{}{}}
	require.NoError(t, ConvertPrecision{}.Run(pc))
	require.NotSame(t, g, pc.Graph)
	assert.True(t, pc.Graph.Frozen())

	narrowed, ok := pc.Graph.Tensor("c")
	require.True(t, ok)
	assert.Equal(t, tensor.Int32, narrowed.Type)
	require.Len(t, narrowed.Content, 12)
	assert.Equal(t, int32(1), int32(binary.LittleEndian.Uint32(narrowed.Content)))
	assert.Equal(t, int32(-2), int32(binary.LittleEndian.Uint32(narrowed.Content[4:])))
	assert.Equal(t, int32(math.MaxInt32), int32(binary.LittleEndian.Uint32(narrowed.Content[8:])))
	assert.Equal(t, tensor.Int64, c.Type, "source graph untouched")

	before := pc.Graph
	require.NoError(t, ConvertPrecision{}.Run(pc))
	assert.Same(t, before, pc.Graph, "nothing left to narrow")
}

func TestDetectBatch(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4, 3)
	y := b.tensor("y", tensor.Float32, 4, 3)
	z := b.tensor("z", tensor.Float32, 1, 12)
	b.node("sig", "Sigmoid", nil, in(x), y)
	b.node("flat", "Reshape", nil, in(x), z)
	b.output(y, z)
	f := newFrontEnd(t, nil)

	m, _, err := f.Lower(b.freeze(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, model.GetOr(m.Attrs(), AttrBatch, 0))
	assert.False(t, model.GetOr(m.Attrs(), AttrWithDetectionOutput, true))

	assert.False(t, model.GetOr(stageNamed(t, m, "y@FP16").Attrs(), AttrHaveBatch, true))
	assert.True(t, model.GetOr(stageNamed(t, m, "z@FP16").Attrs(), AttrHaveBatch, false))
}

func TestDetectBatchMismatchedInputs(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4, 3)
	b.input("w", tensor.Float16, 2, 3)
	b.output(x)

	pc := &PrepareContext{Graph: b.freeze(), Model: model.New("m", 0), Log: quietLog(), UnbatchedOutputs: map[string]struct{}{}}
	require.NoError(t, DetectBatch{}.Run(pc))
	assert.Equal(t, 1, model.GetOr(pc.Model.Attrs(), AttrBatch, 0))
	assert.Empty(t, pc.UnbatchedOutputs)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.InputScale = float32(math.Inf(1))
	_, err := New(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRegistry(t *testing.T) {
	b := newNet(t)
	x := b.input("x", tensor.Float16, 4)
	y := b.input("y", tensor.Float16, 4)
	b.freeze()

	m := model.New("m", 0)
	desc := model.NewDesc(tensor.Float16, tensor.Shape{4})
	xin := m.AddInputData("x", desc)
	xout := m.AddOutputData("x@output", desc)
	other := m.AddNewData("other", desc)

	r := newRegistry()
	_, ok := r.resolve(x)
	assert.False(t, ok)

	require.NoError(t, r.bind(xin, x))
	require.NoError(t, r.bind(xin, x), "same pair is a no-op")
	require.NoError(t, r.bind(xout, x), "input and output may share a tensor")

	d, ok := r.resolve(x)
	require.True(t, ok)
	assert.Same(t, xout, d)
	assert.Equal(t, []*model.Data{xin, xout}, r.boundTo(x))

	err := r.bind(other, x)
	assert.True(t, errors.Is(err, ErrConfiguration), "third buffer: %v", err)
	err = r.bind(xin, y)
	assert.True(t, errors.Is(err, ErrConfiguration), "buffer on two tensors: %v", err)

	r.rebind(other, x)
	d, _ = r.resolve(x)
	assert.Same(t, other, d)
	origin, ok := r.originOf(xin)
	require.True(t, ok)
	assert.Same(t, x, origin)

	r.reset()
	_, ok = r.originOf(xin)
	assert.False(t, ok)
}
