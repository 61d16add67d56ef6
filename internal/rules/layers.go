package rules

import (
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/stages"
	"github.com/born-ml/vpuc/internal/tensor"
)

// registerLayers adds rules that configure a single stage from node parameters.
func (t *Table) registerLayers() {
	t.register("LRN", lowerNorm)
	t.register("Norm", lowerNorm)
	t.register("Pad", lowerPad)
	t.register("Interpolate", lowerInterp)
	t.register("Resize", lowerInterp)
	t.register("FullyConnected", lowerFullyConnected)
	t.register("Power", lowerPower)
	t.register("Pow", lowerPower)
	t.register("Convert", lowerConvert)
	t.register("Cast", lowerConvert)
	t.register("Copy", lowerCopy)
	t.register("Identity", lowerCopy)
}

func lowerNorm(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if err := expectOperands(node, inputs, outputs, 1, 1); err != nil {
		return err
	}

	size, err := node.Params.Int("size", 5)
	if err != nil {
		return err
	}
	bias, err := node.Params.Float("bias", 1)
	if err != nil {
		return err
	}
	alpha, err := node.Params.Float("alpha", 1e-4)
	if err != nil {
		return err
	}
	beta, err := node.Params.Float("beta", 0.75)
	if err != nil {
		return err
	}
	if size <= 0 {
		return errors.Errorf("LRN layer with name %s has non-positive size %d", node.Name, size)
	}

	// The kernel takes k as an integer and serializes it as half precision.
	k := int(bias)
	attrs := model.Attributes{
		"size":   int(size),
		"k":      k,
		"k_fp16": float16.Fromfloat32(float32(k)).Bits(),
	}
	stages.SetFloat(attrs, "alpha", float32(alpha))
	stages.SetFloat(attrs, "beta", float32(beta))

	_, err = ctx.Model.AddNewStage(model.StageSpec{
		Name:    node.Name,
		Type:    model.StageLRN,
		Origin:  node.Name,
		Inputs:  inputs,
		Outputs: outputs,
		Attrs:   attrs,
	})
	return err
}

func lowerPad(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if len(inputs) < 1 || len(inputs) > 3 {
		return errors.Errorf("Pad layer with name %s must have 1 to 3 inputs, actually provided %d", node.Name, len(inputs))
	}
	if err := expectOperands(node, inputs, outputs, anyCount, 1); err != nil {
		return err
	}

	ndims := inputs[0].Desc().NumDims()
	if ndims != 3 && ndims != 4 {
		return errors.Errorf("Layer %s support only 3D and 4D input, but %dD provided", node.Name, ndims)
	}

	begin, end, err := padAmounts(node, inputs, ndims)
	if err != nil {
		return err
	}
	if len(begin) > 4 || len(end) > 4 {
		return errors.Errorf("Layer %s support pads size less than or equal 4, but %d and %d provided",
			node.Name, len(begin), len(end))
	}
	for i := range begin {
		if begin[i] < 0 || end[i] < 0 {
			return errors.Errorf("Layer %s has negative padding on axis %d", node.Name, i)
		}
	}

	modeName, err := node.Params.Text("pad_mode", "")
	if err != nil {
		return err
	}
	if modeName == "" {
		if modeName, err = node.Params.Text("mode", "constant"); err != nil {
			return err
		}
	}
	mode, ok := stages.ParsePadMode(modeName)
	if !ok {
		return errors.Errorf("Layer %s has unsupported pad mode %q", node.Name, modeName)
	}

	value, err := unitFloat(node, inputs, 2, "pad_value", 0)
	if err != nil {
		return err
	}

	_, err = ctx.Stages.AddPadStage(node.Name, node.Name, mode, float32(value), toInts(begin), toInts(end), inputs[0], outputs[0])
	return err
}

// padAmounts reads begin/end pads from pads_begin/pads_end, from the combined pads
// list, or from a constant second input laid out as [begin..., end...].
func padAmounts(node *source.Node, inputs []*model.Data, ndims int) (begin, end []int64, err error) {
	if node.Params.Has("pads_begin") || node.Params.Has("pads_end") {
		if begin, err = node.Params.Ints("pads_begin"); err != nil {
			return nil, nil, err
		}
		if end, err = node.Params.Ints("pads_end"); err != nil {
			return nil, nil, err
		}
		if len(begin) != ndims || len(end) != ndims {
			return nil, nil, errors.Errorf("Layer %s pads_begin/pads_end must have %d values", node.Name, ndims)
		}
		return begin, end, nil
	}

	var pads []int64
	switch {
	case node.Params.Has("pads"):
		pads, err = node.Params.Ints("pads")
	case len(inputs) > 1:
		pads, err = constInts(inputs[1])
	default:
		return nil, nil, errors.Errorf("Layer %s has no pads", node.Name)
	}
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "pads of %s", node.Name)
	}
	if len(pads) != 2*ndims {
		return nil, nil, errors.Errorf("Layer %s pads must have %d values, got %d", node.Name, 2*ndims, len(pads))
	}
	return pads[:ndims], pads[ndims:], nil
}

func lowerInterp(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if len(inputs) < 1 {
		return errors.Errorf("Interp stage with name %s must have at least 1 input", node.Name)
	}
	if err := expectOperands(node, inputs, outputs, anyCount, 1); err != nil {
		return err
	}

	mode, err := node.Params.Text("mode", "linear")
	if err != nil {
		return err
	}
	if mode != "linear" && mode != "linear_onnx" {
		return errors.Errorf("Interp stage with name %s supports linear and linear_onnx modes, got %q", node.Name, mode)
	}
	coord, err := node.Params.Text("coordinate_transformation_mode", "half_pixel")
	if err != nil {
		return err
	}
	align, err := node.Params.Int("align_corners", 0)
	if err != nil {
		return err
	}
	if inputs[0].Desc().NumDims() != outputs[0].Desc().NumDims() {
		return errors.Errorf("Interp stage with name %s must keep the rank of its input", node.Name)
	}

	_, err = ctx.Stages.AddInterpStage(node.Name, node.Name, stages.InterpAttrs{
		AlignCorners:   align != 0 || coord == "align_corners",
		Mode:           mode,
		CoordTransform: coord,
	}, inputs[0], outputs[0])
	return err
}

func lowerFullyConnected(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if len(inputs) != 2 && len(inputs) != 3 {
		return errors.Errorf("FullyConnected layer with name %s must have 2 or 3 inputs, actually provided %d",
			node.Name, len(inputs))
	}
	if err := expectOperands(node, inputs, outputs, anyCount, 1); err != nil {
		return err
	}

	input, output := inputs[0], outputs[0]
	inDesc, outDesc := input.Desc(), output.Desc()
	if !inDesc.Dims.IsStatic() || !outDesc.Dims.IsStatic() || inDesc.NumDims() == 0 || outDesc.NumDims() == 0 {
		return errors.Errorf("FullyConnected layer with name %s needs static shapes", node.Name)
	}

	batch := inDesc.Dims[0]
	if batch == 0 || outDesc.TotalSize() == 0 {
		return errors.Errorf("FullyConnected layer with name %s has an empty operand", node.Name)
	}
	inFeatures := inDesc.TotalSize() / batch
	outNum, err := node.Params.Int("out-size", int64(outDesc.Dims[outDesc.NumDims()-1]))
	if err != nil {
		return err
	}
	if int(outNum)*outDesc.Dims[0] != outDesc.TotalSize() {
		return errors.Errorf("Layer Name: %s Layer type: %s has incorrect out-size param. Expected: %d Actual: %d",
			node.Name, node.Type, outDesc.TotalSize(), outNum)
	}

	weights := inputs[1]
	if weights.Usage() != model.Const {
		return errors.Errorf("Can't get weights. Node with name %s has no constant input", node.Name)
	}
	if weights.Desc().TotalSize() < inFeatures*int(outNum) {
		return errors.Errorf("FullyConnected layer with name %s has %d weights, needs %d",
			node.Name, weights.Desc().TotalSize(), inFeatures*int(outNum))
	}
	weightsDesc := model.NewDesc(weights.Type(), tensor.Shape{inFeatures, int(outNum)})
	if weights, err = ctx.Model.DuplicateData(weights, "@fc", &weightsDesc); err != nil {
		return err
	}

	biases := ctx.Model.AddFakeData()
	if len(inputs) == 3 {
		if inputs[2].Usage() != model.Const {
			return errors.Errorf("Can't get biases. Node with name %s has no constant input", node.Name)
		}
		if inputs[2].Desc().TotalSize() < int(outNum) {
			return errors.Errorf("FullyConnected layer with name %s has too few biases", node.Name)
		}
		biasDesc := model.NewDesc(inputs[2].Type(), tensor.Shape{int(outNum)})
		if biases, err = ctx.Model.DuplicateData(inputs[2], "@fc", &biasDesc); err != nil {
			return err
		}
	}

	_, err = ctx.Model.AddNewStage(model.StageSpec{
		Name:    node.Name,
		Type:    model.StageFullyConnected,
		Origin:  node.Name,
		Inputs:  []*model.Data{input, weights, biases, ctx.Model.AddFakeData()},
		Outputs: outputs,
		Attrs:   model.Attributes{"tryHW": outDesc.TotalSize() != 1},
	})
	return err
}

func lowerPower(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if len(inputs) != 1 && len(inputs) != 2 {
		return errors.Errorf("%s layer with name %s must have 1 or 2 inputs, actually provided %d",
			node.Type, node.Name, len(inputs))
	}
	if err := expectOperands(node, inputs, outputs, anyCount, 1); err != nil {
		return err
	}

	power, err := unitFloat(node, inputs, 1, "power", 1)
	if err != nil {
		return err
	}
	scale, err := node.Params.Float("scale", 1)
	if err != nil {
		return err
	}
	shift, err := node.Params.Float("shift", 0)
	if err != nil {
		return err
	}

	_, err = ctx.Stages.AddPowerStage(node.Name, node.Name, float32(scale), float32(power), float32(shift), inputs[0], outputs[0])
	return err
}

func lowerConvert(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if err := expectOperands(node, inputs, outputs, 1, 1); err != nil {
		return err
	}
	if inputs[0].Type() == outputs[0].Type() {
		_, err := ctx.Stages.AddCopyStage(node.Name, node.Name, inputs[0], outputs[0], "convert to the same type")
		return err
	}
	_, err := ctx.Model.AddNewStage(model.StageSpec{
		Name:    node.Name,
		Type:    model.StageConvert,
		Origin:  node.Name,
		Inputs:  inputs,
		Outputs: outputs,
		Attrs:   model.Attributes{"destination_type": outputs[0].Type().String()},
	})
	return err
}

func lowerCopy(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if err := expectOperands(node, inputs, outputs, 1, 1); err != nil {
		return err
	}
	_, err := ctx.Stages.AddCopyStage(node.Name, node.Name, inputs[0], outputs[0], node.Type)
	return err
}
