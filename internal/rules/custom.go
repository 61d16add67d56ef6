package rules

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
)

// Custom stage attributes.
const (
	AttrKernelEntry  = "kernelEntry"
	AttrKernelBinary = "kernelBinary"
	AttrKernelIndex  = "kernelIndex"
	AttrCustomLayer  = "customLayer"
	AttrLayerParams  = "layerParams"
)

// lowerCustom chains one Custom stage per kernel of ctx.Custom. The first kernel
// reads every node input, the last writes every node output, and kernels in between
// pass an intermediate buffer named <node>@kernel<i>.
func lowerCustom(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
	rule := ctx.Custom
	if rule == nil {
		return errors.Errorf("layer %s was dispatched as %s without a matching custom layer", node.Name, TagCustom)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return errors.Errorf("custom layer %s (%s) needs at least one input and one output", node.Name, rule.Name)
	}

	params := node.Params.Strings()
	single := len(rule.Kernels) == 1
	in := inputs
	for i, k := range rule.Kernels {
		name := node.Name
		if !single {
			name = fmt.Sprintf("%s@kernel%d", node.Name, i)
		}

		out := outputs
		if i < len(rule.Kernels)-1 {
			out = []*model.Data{ctx.Model.AddNewData(name, outputs[0].Desc())}
		}

		if _, err := ctx.Model.AddNewStage(model.StageSpec{
			Name:    name,
			Type:    model.StageCustom,
			Origin:  node.Name,
			Inputs:  in,
			Outputs: out,
			Attrs: model.Attributes{
				AttrKernelEntry:  k.Entry,
				AttrKernelBinary: k.Binary,
				AttrKernelIndex:  i,
				AttrCustomLayer:  rule.Name,
				AttrLayerParams:  params,
			},
		}); err != nil {
			return errors.WithMessagef(err, "kernel %d of custom layer %s", i, rule.Name)
		}
		in = out
	}

	ctx.Log.WithField("kernels", len(rule.Kernels)).Debugf("layer %s lowered by custom layer %s", node.Name, rule.Name)
	return nil
}
