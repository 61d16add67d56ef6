package model

import (
	"fmt"
	"strings"
)

// StageType tags the kind of device work a stage performs.
type StageType string

// Stage types known to the model. Each has an operand contract in contracts.go.
const (
	StageNone              StageType = "None"
	StageCopy              StageType = "Copy"
	StagePower             StageType = "Power"
	StageConvert           StageType = "Convert"
	StagePad               StageType = "Pad"
	StageLRN               StageType = "LRN"
	StageBroadcast         StageType = "Broadcast"
	StageOutShapeOfReshape StageType = "OutShapeOfReshape"
	StageReshape           StageType = "Reshape"
	StageEltwise           StageType = "Eltwise"
	StageClamp             StageType = "Clamp"
	StageFullyConnected    StageType = "StubFullyConnected"
	StageInterp            StageType = "Interp"
	StageCustom            StageType = "Custom"

	StageSigmoid  StageType = "Sigmoid"
	StageGelu     StageType = "Gelu"
	StageLog      StageType = "Log"
	StageSoftPlus StageType = "SoftPlus"
	StageExp      StageType = "Exp"
	StageFloor    StageType = "Floor"
	StageCeiling  StageType = "Ceiling"
	StageRound    StageType = "Round"
	StageErf      StageType = "Erf"
	StageMish     StageType = "Mish"
	StageSwish    StageType = "Swish"
	StageHSwish   StageType = "HSwish"
	StageRelu     StageType = "Relu"
	StageTanh     StageType = "Tanh"
)

// StageSpec describes a stage to add with Model.AddNewStage.
type StageSpec struct {
	Name string
	Type StageType

	// Origin is the name of the source node the stage was lowered from; empty for
	// stages synthesized by passes.
	Origin string

	Inputs  []*Data
	Outputs []*Data
	Attrs   Attributes
}

// Stage is a unit of device work reading input buffers and writing output buffers.
type Stage struct {
	id      int
	name    string
	typ     StageType
	origin  string
	inputs  []*Data
	outputs []*Data
	attrs   Attributes
}

// ID returns the creation index of s within its model.
func (s *Stage) ID() int { return s.id }

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Type returns the stage type tag.
func (s *Stage) Type() StageType { return s.typ }

// Origin returns the originating source node name, empty for synthesized stages.
func (s *Stage) Origin() string { return s.origin }

// Inputs returns the ordered input buffers.
func (s *Stage) Inputs() []*Data { return s.inputs }

// Outputs returns the ordered output buffers.
func (s *Stage) Outputs() []*Data { return s.outputs }

// Input returns input i.
func (s *Stage) Input(i int) *Data { return s.inputs[i] }

// Output returns output i.
func (s *Stage) Output(i int) *Data { return s.outputs[i] }

// NumInputs returns the input count.
func (s *Stage) NumInputs() int { return len(s.inputs) }

// NumOutputs returns the output count.
func (s *Stage) NumOutputs() int { return len(s.outputs) }

// Attrs returns the stage's attribute bag.
func (s *Stage) Attrs() Attributes { return s.attrs }

func (s *Stage) String() string {
	names := func(ds []*Data) string {
		parts := make([]string, len(ds))
		for i, d := range ds {
			parts[i] = d.name
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("%s<%s>(%s) -> (%s)", s.name, s.typ, names(s.inputs), names(s.outputs))
}
