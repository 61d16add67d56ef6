package rules

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/tensor"
)

const anyCount = -1

// expectOperands checks operand counts; anyCount skips a side.
func expectOperands(node *source.Node, inputs, outputs []*model.Data, numInputs, numOutputs int) error {
	if numInputs != anyCount && len(inputs) != numInputs {
		return errors.Errorf("%s layer with name %s must have %d inputs, actually provided %d",
			node.Type, node.Name, numInputs, len(inputs))
	}
	if numOutputs != anyCount && len(outputs) != numOutputs {
		return errors.Errorf("%s layer with name %s must have %d outputs, actually provided %d",
			node.Type, node.Name, numOutputs, len(outputs))
	}
	return nil
}

// constFloats decodes the content of a Const buffer.
func constFloats(d *model.Data) ([]float64, error) {
	if d.Usage() != model.Const {
		return nil, errors.Errorf("%s is not a constant", d.Name())
	}
	buf := d.Content()
	size := d.Type().Size()
	if size == 0 || len(buf)%size != 0 {
		return nil, errors.Errorf("constant %s: %d bytes do not hold %s values", d.Name(), len(buf), d.Type())
	}

	out := make([]float64, len(buf)/size)
	for i := range out {
		b := buf[i*size:]
		switch d.Type() {
		case tensor.Float16:
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(b)).Float32())
		case tensor.Float32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case tensor.Int32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case tensor.Uint8:
			out[i] = float64(b[0])
		default:
			return nil, errors.Errorf("constant %s: unsupported type %s", d.Name(), d.Type())
		}
	}
	return out, nil
}

// constInts decodes an integer Const buffer.
func constInts(d *model.Data) ([]int64, error) {
	values, err := constFloats(d)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(values))
	for i, v := range values {
		if v != math.Trunc(v) {
			return nil, errors.Errorf("constant %s holds non-integer value %g", d.Name(), v)
		}
		out[i] = int64(v)
	}
	return out, nil
}

// unitFloat reads a scalar float either from param key or from the Const input at
// position idx, falling back to def.
func unitFloat(node *source.Node, inputs []*model.Data, idx int, key string, def float64) (float64, error) {
	if node.Params.Has(key) {
		return node.Params.Float(key, def)
	}
	if idx < len(inputs) && inputs[idx].Usage() != model.Fake {
		values, err := constFloats(inputs[idx])
		if err != nil {
			return 0, errors.WithMessagef(err, "%s of %s", key, node.Name)
		}
		if len(values) != 1 {
			return 0, errors.Errorf("%s of %s must be a scalar, got %d values", key, node.Name, len(values))
		}
		return values[0], nil
	}
	return def, nil
}

func toInts(values []int64) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = int(v)
	}
	return out
}
