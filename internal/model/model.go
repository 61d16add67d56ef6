// Package model is the target program representation: stages of device work wired
// together by typed, shaped data buffers.
//
// A Model is created empty, grown by the lowering pipeline through the mutation
// primitives below, and pruned once by CleanUp. Rollback undoes the additions of a
// layer whose rule failed part way. Stage operands are checked
// against the contract of the stage type when the stage is added.
package model

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Wiring errors.
var (
	ErrForeignData    = errors.New("data belongs to another model")
	ErrProducerExists = errors.New("data already has a producer")
	ErrReadOnlyData   = errors.New("data cannot be written by a stage")
	ErrNoSuchOperand  = errors.New("stage operand index out of range")
)

var compilationCounter atomic.Int64

// NextIndex returns the next value of the process-wide compilation counter. It is
// safe for concurrent use.
func NextIndex() int {
	return int(compilationCounter.Add(1))
}

// Model owns every stage and data buffer of one compiled network.
type Model struct {
	name  string
	index int
	attrs Attributes

	stages []*Stage
	datas  []*Data
	byName map[string]*Data

	nextStageID int
	nextDataID  int
}

// New creates an empty model. index distinguishes concurrent compilations; callers
// normally pass NextIndex().
func New(name string, index int) *Model {
	return &Model{
		name:   name,
		index:  index,
		attrs:  Attributes{},
		byName: make(map[string]*Data),
	}
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Index returns the compilation index given at construction.
func (m *Model) Index() int { return m.index }

// Attrs returns the model-level attribute bag.
func (m *Model) Attrs() Attributes { return m.attrs }

// Stages returns the stages in creation order.
func (m *Model) Stages() []*Stage { return m.stages }

// Datas returns the buffers in creation order.
func (m *Model) Datas() []*Data { return m.datas }

// DataByName returns the buffer with the given name. Fake buffers are unnamed.
func (m *Model) DataByName(name string) (*Data, bool) {
	d, ok := m.byName[name]
	return d, ok
}

func (m *Model) addData(name string, usage DataUsage, desc DataDesc, content []byte) *Data {
	d := &Data{
		id:      m.nextDataID,
		name:    name,
		usage:   usage,
		desc:    NewDesc(desc.Type, desc.Dims),
		content: content,
		attrs:   Attributes{},
		model:   m,
	}
	m.nextDataID++
	m.datas = append(m.datas, d)
	if usage != Fake {
		m.byName[name] = d
	}
	return d
}

// AddNewData adds an intermediate buffer.
func (m *Model) AddNewData(name string, desc DataDesc) *Data {
	return m.addData(name, Intermediate, desc, nil)
}

// AddInputData adds a network input buffer.
func (m *Model) AddInputData(name string, desc DataDesc) *Data {
	return m.addData(name, Input, desc, nil)
}

// AddOutputData adds a network output buffer.
func (m *Model) AddOutputData(name string, desc DataDesc) *Data {
	return m.addData(name, Output, desc, nil)
}

// AddConstData adds a constant buffer holding content.
func (m *Model) AddConstData(name string, desc DataDesc, content []byte) *Data {
	return m.addData(name, Const, desc, content)
}

// AddFakeData adds a placeholder for an absent optional stage operand.
func (m *Model) AddFakeData() *Data {
	return m.addData(fmt.Sprintf("<fake#%d>", m.nextDataID), Fake, DataDesc{}, nil)
}

// DuplicateData adds a buffer named orig's name plus postfix. The copy of a Const
// buffer is Const with the same content; anything else yields an Intermediate buffer.
// A nil desc keeps orig's descriptor.
func (m *Model) DuplicateData(orig *Data, postfix string, desc *DataDesc) (*Data, error) {
	if orig.model != m {
		return nil, fmt.Errorf("%w: %s", ErrForeignData, orig.name)
	}
	d := orig.desc
	if desc != nil {
		d = *desc
	}
	if orig.usage == Const {
		return m.AddConstData(orig.name+postfix, d, orig.content), nil
	}
	return m.AddNewData(orig.name+postfix, d), nil
}

// AddNewStage wires a new stage into the model after checking its operands against
// the contract of spec.Type.
func (m *Model) AddNewStage(spec StageSpec) (*Stage, error) {
	for _, d := range append(append([]*Data(nil), spec.Inputs...), spec.Outputs...) {
		if d == nil || d.model != m {
			return nil, fmt.Errorf("stage %q: %w", spec.Name, ErrForeignData)
		}
	}
	for _, d := range spec.Outputs {
		if err := checkWritable(d); err != nil {
			return nil, fmt.Errorf("stage %q: %w", spec.Name, err)
		}
	}

	attrs := spec.Attrs
	if attrs == nil {
		attrs = Attributes{}
	}
	s := &Stage{
		id:      m.nextStageID,
		name:    spec.Name,
		typ:     spec.Type,
		origin:  spec.Origin,
		inputs:  append([]*Data(nil), spec.Inputs...),
		outputs: append([]*Data(nil), spec.Outputs...),
		attrs:   attrs,
	}
	if err := checkContract(s); err != nil {
		return nil, err
	}

	for _, d := range s.inputs {
		if d.usage != Fake {
			d.addConsumer(s)
		}
	}
	for _, d := range s.outputs {
		if d.usage != Fake {
			d.producer = s
		}
	}
	m.nextStageID++
	m.stages = append(m.stages, s)
	return s, nil
}

func checkWritable(d *Data) error {
	switch {
	case d.usage == Fake:
		return nil
	case d.usage == Input || d.usage == Const:
		return fmt.Errorf("%w: %s", ErrReadOnlyData, d)
	case d.producer != nil:
		return fmt.Errorf("%w: %s (by %s)", ErrProducerExists, d.name, d.producer.name)
	}
	return nil
}

// ReplaceStageInput rewires input slot idx of s to read d. Rewiring may pass through
// states that break the stage contract, for example while a pass retypes both ends
// of a Copy; Validate checks the final state.
func (m *Model) ReplaceStageInput(s *Stage, idx int, d *Data) error {
	if idx < 0 || idx >= len(s.inputs) {
		return fmt.Errorf("%w: input %d of %s", ErrNoSuchOperand, idx, s.name)
	}
	if d.model != m {
		return fmt.Errorf("%w: %s", ErrForeignData, d.name)
	}
	old := s.inputs[idx]
	s.inputs[idx] = d
	if old.usage != Fake {
		old.removeConsumer(s)
	}
	if d.usage != Fake {
		d.addConsumer(s)
	}
	return nil
}

// ReplaceStageOutput rewires output slot idx of s to write d. d must not have a
// producer yet.
func (m *Model) ReplaceStageOutput(s *Stage, idx int, d *Data) error {
	if idx < 0 || idx >= len(s.outputs) {
		return fmt.Errorf("%w: output %d of %s", ErrNoSuchOperand, idx, s.name)
	}
	if d.model != m {
		return fmt.Errorf("%w: %s", ErrForeignData, d.name)
	}
	if err := checkWritable(d); err != nil {
		return err
	}
	old := s.outputs[idx]
	s.outputs[idx] = d
	if old.usage != Fake && old.producer == s {
		old.producer = nil
	}
	if d.usage != Fake {
		d.producer = s
	}
	return nil
}

// Validate rechecks every stage against its contract and the stage graph for loops.
func (m *Model) Validate() error {
	for _, s := range m.stages {
		if err := checkContract(s); err != nil {
			return err
		}
	}
	return m.CheckAcyclic()
}

// Checkpoint marks the stages and buffers present at one point of the lowering.
type Checkpoint struct {
	stages, datas int
}

// Checkpoint returns a mark for Rollback.
func (m *Model) Checkpoint() Checkpoint {
	return Checkpoint{stages: len(m.stages), datas: len(m.datas)}
}

// Rollback removes the stages and buffers added after cp, newest first. Buffers the
// removed stages wrote lose their producer; rewiring of older stages is not undone.
func (m *Model) Rollback(cp Checkpoint) {
	for len(m.stages) > cp.stages {
		m.removeStage(m.stages[len(m.stages)-1])
	}
	for len(m.datas) > cp.datas {
		m.removeData(m.datas[len(m.datas)-1])
	}
}

// removeStage unlinks s from its operands and drops it from the model.
func (m *Model) removeStage(s *Stage) {
	inputs := s.inputs
	s.inputs = nil
	for _, d := range inputs {
		if d.usage != Fake {
			d.removeConsumer(s)
		}
	}
	for _, d := range s.outputs {
		if d.producer == s {
			d.producer = nil
		}
	}
	for i, existing := range m.stages {
		if existing == s {
			m.stages = append(m.stages[:i], m.stages[i+1:]...)
			return
		}
	}
}

func (m *Model) removeData(d *Data) {
	if m.byName[d.name] == d {
		delete(m.byName, d.name)
	}
	for i, existing := range m.datas {
		if existing == d {
			m.datas = append(m.datas[:i], m.datas[i+1:]...)
			return
		}
	}
}
