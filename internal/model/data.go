package model

import (
	"fmt"

	"github.com/born-ml/vpuc/internal/tensor"
)

// DataUsage describes the role a buffer plays in the model.
type DataUsage int

// Buffer roles.
const (
	Intermediate DataUsage = iota
	Input
	Output
	Const
	Fake
)

func (u DataUsage) String() string {
	switch u {
	case Input:
		return "Input"
	case Output:
		return "Output"
	case Const:
		return "Const"
	case Fake:
		return "Fake"
	default:
		return "Intermediate"
	}
}

// DataDesc is the element type and dimensions of a buffer.
type DataDesc struct {
	Type tensor.DataType
	Dims tensor.Shape
}

// NewDesc builds a descriptor with a private copy of dims.
func NewDesc(dt tensor.DataType, dims tensor.Shape) DataDesc {
	return DataDesc{Type: dt, Dims: dims.Clone()}
}

// NumDims returns the rank.
func (d DataDesc) NumDims() int { return len(d.Dims) }

// TotalSize returns the element count, or tensor.Dynamic for dynamic shapes.
func (d DataDesc) TotalSize() int { return d.Dims.NumElements() }

// Strides returns compact row-major strides in bytes.
func (d DataDesc) Strides() []int {
	strides := d.Dims.ComputeStrides()
	for i, s := range strides {
		if s != tensor.Dynamic {
			strides[i] = s * d.Type.Size()
		}
	}
	return strides
}

// WithType returns a copy of d with another element type.
func (d DataDesc) WithType(dt tensor.DataType) DataDesc {
	return DataDesc{Type: dt, Dims: d.Dims.Clone()}
}

func (d DataDesc) String() string {
	return d.Type.String() + d.Dims.String()
}

// Data is a typed, shaped buffer of the target program.
//
// Every non-Fake buffer has at most one producing stage. Fake buffers are placeholders
// for optional stage operands; they are never wired to producers or consumers.
type Data struct {
	id      int
	name    string
	usage   DataUsage
	desc    DataDesc
	content []byte
	attrs   Attributes

	producer  *Stage
	consumers []*Stage

	model *Model
}

// ID returns the creation index of d within its model.
func (d *Data) ID() int { return d.id }

// Name returns the buffer name.
func (d *Data) Name() string { return d.name }

// Usage returns the buffer role.
func (d *Data) Usage() DataUsage { return d.usage }

// Desc returns the element type and dimensions.
func (d *Data) Desc() DataDesc { return d.desc }

// Type is shorthand for Desc().Type.
func (d *Data) Type() tensor.DataType { return d.desc.Type }

// Content returns the constant payload of Const buffers.
func (d *Data) Content() []byte { return d.content }

// Attrs returns the buffer's attribute bag.
func (d *Data) Attrs() Attributes { return d.attrs }

// Producer returns the stage writing d, or nil.
func (d *Data) Producer() *Stage { return d.producer }

// Consumers returns the stages reading d in wiring order.
func (d *Data) Consumers() []*Stage { return d.consumers }

// NumConsumers returns the number of stages reading d.
func (d *Data) NumConsumers() int { return len(d.consumers) }

func (d *Data) String() string {
	return fmt.Sprintf("%s(%s %s)", d.name, d.usage, d.desc)
}

func (d *Data) addConsumer(s *Stage) {
	for _, c := range d.consumers {
		if c == s {
			return
		}
	}
	d.consumers = append(d.consumers, s)
}

// removeConsumer drops s unless it still reads d through another input slot.
func (d *Data) removeConsumer(s *Stage) {
	for _, in := range s.inputs {
		if in == d {
			return
		}
	}
	for i, c := range d.consumers {
		if c == s {
			d.consumers = append(d.consumers[:i], d.consumers[i+1:]...)
			return
		}
	}
}
