// Package stages adds the stages that passes and several rules synthesize, with the
// attribute layout each stage type expects.
package stages

import (
	"github.com/x448/float16"

	"github.com/born-ml/vpuc/internal/model"
)

// Attribute keys shared by builders and their readers.
const (
	AttrCopyReason = "copyReason"
	AttrScale      = "scale"
	AttrPower      = "power"
	AttrBias       = "bias"
	AttrPadValue   = "pad_value"
	AttrPadMode    = "pad_mode"
	AttrPadsBegin  = "pads_begin"
	AttrPadsEnd    = "pads_end"
	AttrSpecialZ   = "specialZero"
	AttrMode       = "mode"
)

// FP16Suffix marks attributes holding the IEEE 754 half-precision bit pattern of the
// float32 attribute with the same base name.
const FP16Suffix = "_fp16"

// PadMode selects how padded elements are filled.
type PadMode int

// Pad modes.
const (
	PadConstant PadMode = iota
	PadEdge
	PadReflect
	PadSymmetric
)

// ParsePadMode maps the textual pad mode of an operator to a PadMode.
func ParsePadMode(s string) (PadMode, bool) {
	switch s {
	case "constant", "":
		return PadConstant, true
	case "edge":
		return PadEdge, true
	case "reflect":
		return PadReflect, true
	case "symmetric":
		return PadSymmetric, true
	}
	return 0, false
}

func (p PadMode) String() string {
	switch p {
	case PadEdge:
		return "edge"
	case PadReflect:
		return "reflect"
	case PadSymmetric:
		return "symmetric"
	default:
		return "constant"
	}
}

// Builder adds synthesized stages to one model.
type Builder struct {
	m *model.Model
}

// New returns a Builder for m.
func New(m *model.Model) *Builder {
	return &Builder{m: m}
}

// Model returns the model stages are added to.
func (b *Builder) Model() *model.Model { return b.m }

// AddCopyStage copies in to out. reason is kept for diagnostics.
func (b *Builder) AddCopyStage(name, origin string, in, out *model.Data, reason string) (*model.Stage, error) {
	return b.m.AddNewStage(model.StageSpec{
		Name:    name,
		Type:    model.StageCopy,
		Origin:  origin,
		Inputs:  []*model.Data{in},
		Outputs: []*model.Data{out},
		Attrs:   model.Attributes{AttrCopyReason: reason},
	})
}

// AddNoneStage adds a placeholder that keeps inputs and outputs wired without doing
// any work.
func (b *Builder) AddNoneStage(name, origin string, inputs, outputs []*model.Data) (*model.Stage, error) {
	return b.m.AddNewStage(model.StageSpec{
		Name:    name,
		Type:    model.StageNone,
		Origin:  origin,
		Inputs:  inputs,
		Outputs: outputs,
	})
}

// AddPowerStage computes (scale*x + bias)^power elementwise.
func (b *Builder) AddPowerStage(name, origin string, scale, power, bias float32, in, out *model.Data) (*model.Stage, error) {
	attrs := model.Attributes{}
	SetFloat(attrs, AttrScale, scale)
	SetFloat(attrs, AttrPower, power)
	SetFloat(attrs, AttrBias, bias)
	return b.m.AddNewStage(model.StageSpec{
		Name:    name,
		Type:    model.StagePower,
		Origin:  origin,
		Inputs:  []*model.Data{in},
		Outputs: []*model.Data{out},
		Attrs:   attrs,
	})
}

// CreateConvertStage converts in to the element type of out, applying scale and bias.
func (b *Builder) CreateConvertStage(name string, in, out *model.Data, scale, bias float32) (*model.Stage, error) {
	attrs := model.Attributes{}
	SetFloat(attrs, AttrScale, scale)
	SetFloat(attrs, AttrBias, bias)
	return b.m.AddNewStage(model.StageSpec{
		Name:    name,
		Type:    model.StageConvert,
		Inputs:  []*model.Data{in},
		Outputs: []*model.Data{out},
		Attrs:   attrs,
	})
}

// AddPadStage pads in by begin/end elements per dimension.
func (b *Builder) AddPadStage(name, origin string, mode PadMode, value float32, begin, end []int, in, out *model.Data) (*model.Stage, error) {
	attrs := model.Attributes{
		AttrPadMode:   mode,
		AttrPadsBegin: append([]int(nil), begin...),
		AttrPadsEnd:   append([]int(nil), end...),
	}
	SetFloat(attrs, AttrPadValue, value)
	return b.m.AddNewStage(model.StageSpec{
		Name:    name,
		Type:    model.StagePad,
		Origin:  origin,
		Inputs:  []*model.Data{in},
		Outputs: []*model.Data{out},
		Attrs:   attrs,
	})
}

// AddReshapeStage reinterprets in with the dimensions of out.
func (b *Builder) AddReshapeStage(name, origin string, in, out *model.Data) (*model.Stage, error) {
	return b.m.AddNewStage(model.StageSpec{
		Name:    name,
		Type:    model.StageReshape,
		Origin:  origin,
		Inputs:  []*model.Data{in},
		Outputs: []*model.Data{out},
	})
}

// InterpAttrs configures an Interp stage.
type InterpAttrs struct {
	AlignCorners   bool
	Mode           string
	CoordTransform string
}

// AddInterpStage resizes in to the spatial size of out.
func (b *Builder) AddInterpStage(name, origin string, attrs InterpAttrs, in, out *model.Data) (*model.Stage, error) {
	return b.m.AddNewStage(model.StageSpec{
		Name:    name,
		Type:    model.StageInterp,
		Origin:  origin,
		Inputs:  []*model.Data{in},
		Outputs: []*model.Data{out},
		Attrs: model.Attributes{
			"align_corners":                  attrs.AlignCorners,
			AttrMode:                         attrs.Mode,
			"coordinate_transformation_mode": attrs.CoordTransform,
		},
	})
}

// SetFloat stores v under key and its half-precision bit pattern under key+FP16Suffix.
func SetFloat(attrs model.Attributes, key string, v float32) {
	attrs.Set(key, v)
	attrs.Set(key+FP16Suffix, float16.Fromfloat32(v).Bits())
}

// HalfBits returns the half-precision bit pattern stored for key.
func HalfBits(attrs model.Attributes, key string) (uint16, bool) {
	return model.Get[uint16](attrs, key+FP16Suffix)
}
