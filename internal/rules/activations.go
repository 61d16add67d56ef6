package rules

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/stages"
)

// registerActivations adds the elementwise FP16 kernels.
func (t *Table) registerActivations() {
	t.register("Sigmoid", unary(model.StageSigmoid, 1, nil))
	t.register("Gelu", unary(model.StageGelu, 1, nil))
	t.register("Log", unary(model.StageLog, 1, nil))
	t.register("Exp", unary(model.StageExp, 1, nil))
	t.register("Floor", unary(model.StageFloor, 1, nil))
	t.register("Erf", unary(model.StageErf, 1, nil))
	t.register("Mish", unary(model.StageMish, 1, nil))
	t.register("Round", unary(model.StageRound, 1, roundAttrs))
	t.register("Swish", unary(model.StageSwish, 2, swishAttrs))

	softPlus := unary(model.StageSoftPlus, 1, nil)
	t.register("SoftPlus", softPlus)
	t.register("Softplus", softPlus)

	ceiling := unary(model.StageCeiling, 1, nil)
	t.register("Ceiling", ceiling)
	t.register("Ceil", ceiling)

	hswish := unary(model.StageHSwish, 1, nil)
	t.register("HSwish", hswish)
	t.register("HardSwish", hswish)

	relu := unary(model.StageRelu, 1, reluAttrs("negative_slope"))
	t.register("ReLU", relu)
	t.register("Relu", relu)
	t.register("LeakyRelu", unary(model.StageRelu, 1, reluAttrs("alpha")))

	tanh := unary(model.StageTanh, 1, nil)
	t.register("TanH", tanh)
	t.register("Tanh", tanh)

	clamp := unary(model.StageClamp, 3, clampAttrs)
	t.register("Clamp", clamp)
	t.register("Clip", clamp)
}

// attrFunc derives stage attributes from the node and its full input list.
type attrFunc func(node *source.Node, inputs []*model.Data) (model.Attributes, error)

// unary lowers a node to one stage reading inputs[0]. Inputs past the first carry
// parameters (constants) and are not wired to the stage.
func unary(typ model.StageType, maxInputs int, attrs attrFunc) Rule {
	return func(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
		if len(inputs) < 1 || len(inputs) > maxInputs {
			return errors.Errorf("%s layer with name %s must have 1 to %d inputs, actually provided %d",
				node.Type, node.Name, maxInputs, len(inputs))
		}
		if err := expectOperands(node, inputs, outputs, anyCount, 1); err != nil {
			return err
		}

		stageAttrs := model.Attributes{}
		if attrs != nil {
			var err error
			if stageAttrs, err = attrs(node, inputs); err != nil {
				return err
			}
		}

		_, err := ctx.Model.AddNewStage(model.StageSpec{
			Name:    node.Name,
			Type:    typ,
			Origin:  node.Name,
			Inputs:  inputs[:1],
			Outputs: outputs,
			Attrs:   stageAttrs,
		})
		return err
	}
}

func roundAttrs(node *source.Node, _ []*model.Data) (model.Attributes, error) {
	mode, err := node.Params.Text("mode", "half_to_even")
	if err != nil {
		return nil, err
	}
	if mode != "half_to_even" && mode != "half_away_from_zero" {
		return nil, errors.Errorf("Round layer with name %s has unsupported mode %q", node.Name, mode)
	}
	return model.Attributes{"mode": mode}, nil
}

func swishAttrs(node *source.Node, inputs []*model.Data) (model.Attributes, error) {
	beta, err := unitFloat(node, inputs, 1, "beta", 1)
	if err != nil {
		return nil, err
	}
	attrs := model.Attributes{}
	stages.SetFloat(attrs, "beta", float32(beta))
	return attrs, nil
}

func reluAttrs(key string) attrFunc {
	return func(node *source.Node, _ []*model.Data) (model.Attributes, error) {
		def := 0.0
		if key == "alpha" {
			def = 0.01
		}
		slope, err := node.Params.Float(key, def)
		if err != nil {
			return nil, err
		}
		attrs := model.Attributes{}
		stages.SetFloat(attrs, "negativeSlope", float32(slope))
		return attrs, nil
	}
}

func clampAttrs(node *source.Node, inputs []*model.Data) (model.Attributes, error) {
	lo, err := unitFloat(node, inputs, 1, "min", -math.MaxFloat32)
	if err != nil {
		return nil, err
	}
	hi, err := unitFloat(node, inputs, 2, "max", math.MaxFloat32)
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, errors.Errorf("Clamp layer with name %s has min %g above max %g", node.Name, lo, hi)
	}
	attrs := model.Attributes{}
	attrs.Set("min_value", float32(lo))
	attrs.Set("max_value", float32(hi))
	return attrs, nil
}
