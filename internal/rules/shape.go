package rules

import (
	"github.com/pkg/errors"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/stages"
	"github.com/born-ml/vpuc/internal/tensor"
)

// registerShapeOps adds the rules that change how data is laid out.
func (t *Table) registerShapeOps() {
	for _, tag := range []string{"Reshape", "Flatten", "Squeeze", "Unsqueeze"} {
		t.register(tag, lowerReshape)
	}
	t.register("Broadcast", lowerBroadcast(""))
	t.register("Expand", lowerBroadcast(model.BroadcastBidirectional))
	t.register("OutShapeOfReshape", lowerOutShapeOfReshape)
}

// lowerReshape keeps the element count and only reinterprets dimensions. Shape and
// axes inputs past the first are consumed at compile time.
func lowerReshape(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if len(inputs) < 1 || len(inputs) > 2 {
		return errors.Errorf("%s layer with name %s must have 1 or 2 inputs, actually provided %d",
			node.Type, node.Name, len(inputs))
	}
	if err := expectOperands(node, inputs, outputs, anyCount, 1); err != nil {
		return err
	}

	in, out := inputs[0].Desc(), outputs[0].Desc()
	if in.Dims.IsStatic() && out.Dims.IsStatic() && in.TotalSize() != out.TotalSize() {
		return errors.Errorf("%s layer with name %s changes element count from %d to %d",
			node.Type, node.Name, in.TotalSize(), out.TotalSize())
	}

	_, err := ctx.Stages.AddReshapeStage(node.Name, node.Name, inputs[0], outputs[0])
	return err
}

// lowerBroadcast returns the Broadcast rule. A non-empty fixed mode overrides the
// node's mode parameter.
func lowerBroadcast(fixed string) Rule {
	return func(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
		mode := fixed
		if mode == "" {
			var err error
			if mode, err = node.Params.Text("mode", model.BroadcastNumpy); err != nil {
				return err
			}
		}

		want := 2
		switch mode {
		case model.BroadcastNumpy, model.BroadcastBidirectional:
		case model.BroadcastExplicit:
			want = 3
		default:
			return errors.Errorf("Broadcast layer with name %s has unsupported mode %q", node.Name, mode)
		}
		if err := expectOperands(node, inputs, outputs, want, 1); err != nil {
			return err
		}

		input, shape, output := inputs[0], inputs[1], outputs[0]
		if shape.Desc().NumDims() != 1 {
			return errors.Errorf("Broadcast layer with name %s: target shape must be 1D, got %dD",
				node.Name, shape.Desc().NumDims())
		}
		if shape.Type() != tensor.Int32 {
			return errors.Errorf("Broadcast layer with name %s: target shape must be %s, got %s",
				node.Name, tensor.Int32, shape.Type())
		}
		if shapeLen := shape.Desc().Dims[0]; shapeLen != tensor.Dynamic && shapeLen != output.Desc().NumDims() {
			return errors.Errorf("Broadcast layer with name %s: target shape has %d elements, output is %dD",
				node.Name, shapeLen, output.Desc().NumDims())
		}

		if mode == model.BroadcastExplicit {
			axes := inputs[2]
			if axes.Desc().NumDims() != 1 {
				return errors.Errorf("Broadcast layer with name %s: axes mapping must be 1D, got %dD",
					node.Name, axes.Desc().NumDims())
			}
			if n := axes.Desc().Dims[0]; n != tensor.Dynamic && n != input.Desc().NumDims() {
				return errors.Errorf("Broadcast layer with name %s: axes mapping has %d elements, input is %dD",
					node.Name, n, input.Desc().NumDims())
			}
		} else if input.Desc().NumDims() > output.Desc().NumDims() && mode == model.BroadcastNumpy {
			return errors.Errorf("Broadcast layer with name %s: input rank %d exceeds output rank %d",
				node.Name, input.Desc().NumDims(), output.Desc().NumDims())
		}

		_, err := ctx.Model.AddNewStage(model.StageSpec{
			Name:    node.Name,
			Type:    model.StageBroadcast,
			Origin:  node.Name,
			Inputs:  inputs,
			Outputs: outputs,
			Attrs:   model.Attributes{stages.AttrMode: mode},
		})
		return err
	}
}

func lowerOutShapeOfReshape(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	if err := expectOperands(node, inputs, outputs, 2, 1); err != nil {
		return err
	}

	inShape, pattern, outShape := inputs[0].Desc(), inputs[1].Desc(), outputs[0].Desc()
	for _, d := range []struct {
		what string
		desc model.DataDesc
	}{{"input shape", inShape}, {"target shape", pattern}, {"output shape", outShape}} {
		if d.desc.NumDims() != 1 {
			return errors.Errorf("OutShapeOfReshape stage with name %s: %s must be 1D, got %dD",
				node.Name, d.what, d.desc.NumDims())
		}
	}
	if pattern.Dims[0] != tensor.Dynamic && outShape.Dims[0] != tensor.Dynamic && pattern.Dims[0] != outShape.Dims[0] {
		return errors.Errorf("OutShapeOfReshape stage with name %s: target shape has %d elements, output has %d",
			node.Name, pattern.Dims[0], outShape.Dims[0])
	}

	specialZero, err := node.Params.Int("special_zero", 0)
	if err != nil {
		return err
	}

	_, err = ctx.Model.AddNewStage(model.StageSpec{
		Name:    node.Name,
		Type:    model.StageOutShapeOfReshape,
		Origin:  node.Name,
		Inputs:  inputs,
		Outputs: outputs,
		Attrs:   model.Attributes{stages.AttrSpecialZ: specialZero != 0},
	})
	return err
}
