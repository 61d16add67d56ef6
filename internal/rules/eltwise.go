package rules

import (
	"github.com/pkg/errors"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/tensor"
)

// Eltwise operations stored under the "operation" attribute.
const (
	OpSum  = "sum"
	OpSub  = "sub"
	OpProd = "prod"
	OpDiv  = "div"
	OpMax  = "max"
	OpMin  = "min"
)

var eltwiseOps = map[string]string{
	"Add":     OpSum,
	"Sub":     OpSub,
	"Mul":     OpProd,
	"Div":     OpDiv,
	"Max":     OpMax,
	"Maximum": OpMax,
	"Min":     OpMin,
	"Minimum": OpMin,
}

func (t *Table) registerEltwise() {
	for tag, op := range eltwiseOps {
		t.register(tag, lowerEltwise(op))
	}
	t.register("Eltwise", lowerEltwise(""))
}

// lowerEltwise returns the rule for a binary elementwise op. An empty op is read from
// the node's operation parameter.
func lowerEltwise(fixed string) Rule {
	return func(ctx *Context, node *source.Node, inputs, outputs []*model.Data) error {
		op := fixed
		if op == "" {
			var err error
			if op, err = node.Params.Text("operation", OpSum); err != nil {
				return err
			}
			if !knownEltwiseOp(op) {
				return errors.Errorf("Eltwise layer with name %s has unsupported operation %q", node.Name, op)
			}
		}
		if err := expectOperands(node, inputs, outputs, 2, 1); err != nil {
			return err
		}

		a, b := inputs[0].Desc(), inputs[1].Desc()
		if a.Type != b.Type {
			return errors.Errorf("Eltwise layer with name %s mixes %s and %s inputs", node.Name, a.Type, b.Type)
		}
		if _, err := tensor.BroadcastShapes(a.Dims, b.Dims); err != nil {
			return errors.Wrapf(err, "Eltwise layer with name %s", node.Name)
		}

		_, err := ctx.Model.AddNewStage(model.StageSpec{
			Name:    node.Name,
			Type:    model.StageEltwise,
			Origin:  node.Name,
			Inputs:  inputs,
			Outputs: outputs,
			Attrs:   model.Attributes{"operation": op},
		})
		return err
	}
}

func knownEltwiseOp(op string) bool {
	for _, known := range eltwiseOps {
		if known == op {
			return true
		}
	}
	return false
}
