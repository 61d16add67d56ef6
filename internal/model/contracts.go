package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/born-ml/vpuc/internal/tensor"
)

// ErrContract is wrapped by errors reporting a stage whose operands do not match the
// contract of its type.
var ErrContract = errors.New("stage contract violated")

// Broadcast modes stored under the "mode" attribute of Broadcast stages.
const (
	BroadcastNumpy         = "numpy"
	BroadcastBidirectional = "bidirectional"
	BroadcastExplicit      = "explicit"
)

type arity struct{ min, max int }

const unbounded = -1

func exactly(n int) arity { return arity{n, n} }
func atLeast(n int) arity { return arity{n, unbounded} }

func (a arity) allows(n int) bool {
	return n >= a.min && (a.max == unbounded || n <= a.max)
}

type contract struct {
	inputs  arity
	outputs arity
	check   func(s *Stage) error
}

var fp16Only = []tensor.DataType{tensor.Float16}

// unaryFP16 is the contract of the elementwise FP16 kernels.
var unaryFP16 = contract{
	inputs:  exactly(1),
	outputs: exactly(1),
	check:   assertTypes([][]tensor.DataType{fp16Only}, [][]tensor.DataType{fp16Only}),
}

var contracts = map[StageType]contract{
	StageNone: {inputs: atLeast(0), outputs: atLeast(0)},
	StageCopy: {inputs: exactly(1), outputs: exactly(1), check: sameTypeAsInput},
	StageConvert: {
		inputs:  exactly(1),
		outputs: exactly(1),
		check: assertTypes(
			[][]tensor.DataType{{tensor.Float16, tensor.Float32, tensor.Uint8, tensor.Int32}},
			[][]tensor.DataType{{tensor.Float16, tensor.Float32, tensor.Int32}},
		),
	},
	StageReshape:   {inputs: exactly(1), outputs: exactly(1), check: sameTypeAsInput},
	StageBroadcast: {inputs: arity{2, 3}, outputs: exactly(1), check: checkBroadcast},
	StageOutShapeOfReshape: {
		inputs:  exactly(2),
		outputs: exactly(1),
		check: assertTypes(
			[][]tensor.DataType{{tensor.Int32}, {tensor.Int32}},
			[][]tensor.DataType{{tensor.Int32}},
		),
	},
	StageEltwise: {inputs: arity{2, 3}, outputs: exactly(1), check: checkEltwise},
	StageFullyConnected: {
		inputs:  exactly(4),
		outputs: exactly(1),
		check: assertTypes(
			[][]tensor.DataType{fp16Only, fp16Only, fp16Only, nil},
			[][]tensor.DataType{fp16Only},
		),
	},
	StageCustom: {inputs: atLeast(1), outputs: atLeast(1)},

	StagePower:    unaryFP16,
	StagePad:      unaryFP16,
	StageLRN:      unaryFP16,
	StageInterp:   unaryFP16,
	StageClamp:    unaryFP16,
	StageSigmoid:  unaryFP16,
	StageGelu:     unaryFP16,
	StageLog:      unaryFP16,
	StageSoftPlus: unaryFP16,
	StageExp:      unaryFP16,
	StageFloor:    unaryFP16,
	StageCeiling:  unaryFP16,
	StageRound:    unaryFP16,
	StageErf:      unaryFP16,
	StageMish:     unaryFP16,
	StageSwish:    unaryFP16,
	StageHSwish:   unaryFP16,
	StageRelu:     unaryFP16,
	StageTanh:     unaryFP16,
}

// checkContract validates s against the contract of its type.
func checkContract(s *Stage) error {
	c, ok := contracts[s.typ]
	if !ok {
		return fmt.Errorf("%w: stage %q has unknown type %q", ErrContract, s.name, s.typ)
	}
	if !c.inputs.allows(len(s.inputs)) {
		return fmt.Errorf("%w: %s stage %q got %d inputs", ErrContract, s.typ, s.name, len(s.inputs))
	}
	if !c.outputs.allows(len(s.outputs)) {
		return fmt.Errorf("%w: %s stage %q got %d outputs", ErrContract, s.typ, s.name, len(s.outputs))
	}
	if c.check == nil {
		return nil
	}
	return c.check(s)
}

// assertTypes checks operand i against the allowed set at position i. A nil set
// accepts anything. Fake operands are never type checked.
func assertTypes(in, out [][]tensor.DataType) func(*Stage) error {
	return func(s *Stage) error {
		if err := matchTypes(s, "input", s.inputs, in); err != nil {
			return err
		}
		return matchTypes(s, "output", s.outputs, out)
	}
}

func matchTypes(s *Stage, kind string, operands []*Data, allowed [][]tensor.DataType) error {
	for i, d := range operands {
		if i >= len(allowed) || allowed[i] == nil || d.usage == Fake {
			continue
		}
		if !slices.Contains(allowed[i], d.desc.Type) {
			return fmt.Errorf("%w: %s stage %q %s %d (%s) has type %s, expected one of %v",
				ErrContract, s.typ, s.name, kind, i, d.name, d.desc.Type, allowed[i])
		}
	}
	return nil
}

func sameTypeAsInput(s *Stage) error {
	in, out := s.inputs[0].desc.Type, s.outputs[0].desc.Type
	if in != out {
		return fmt.Errorf("%w: %s stage %q changes type %s to %s", ErrContract, s.typ, s.name, in, out)
	}
	return nil
}

func checkBroadcast(s *Stage) error {
	mode := GetOr(s.attrs, "mode", BroadcastNumpy)
	want := 2
	switch mode {
	case BroadcastNumpy, BroadcastBidirectional:
	case BroadcastExplicit:
		want = 3
	default:
		return fmt.Errorf("%w: Broadcast stage %q has unsupported mode %q", ErrContract, s.name, mode)
	}
	if len(s.inputs) != want {
		return fmt.Errorf("%w: Broadcast stage %q in %s mode must have %d inputs, got %d",
			ErrContract, s.name, mode, want, len(s.inputs))
	}

	data := []tensor.DataType{s.inputs[0].desc.Type}
	shapes := []tensor.DataType{tensor.Int32}
	in := [][]tensor.DataType{data, shapes}
	if want == 3 {
		in = append(in, shapes)
	}
	return assertTypes(in, [][]tensor.DataType{data})(s)
}

func checkEltwise(s *Stage) error {
	dt := s.inputs[0].desc.Type
	if dt != tensor.Float16 && dt != tensor.Int32 {
		return fmt.Errorf("%w: Eltwise stage %q does not support %s", ErrContract, s.name, dt)
	}
	same := []tensor.DataType{dt}
	in := make([][]tensor.DataType, len(s.inputs))
	for i := range in {
		in[i] = same
	}
	return assertTypes(in, [][]tensor.DataType{same})(s)
}
