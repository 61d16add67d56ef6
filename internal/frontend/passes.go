package frontend

import (
	"encoding/binary"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/tensor"
)

// Model attributes set while preparing a compilation.
const (
	AttrIndex               = "index"
	AttrBatch               = "batch"
	AttrWithDetectionOutput = "withDetectionOutput"
)

// PrepareContext is the state prepare passes read and update before the network is
// parsed. A pass that changes the graph replaces Graph with a new frozen graph.
type PrepareContext struct {
	Graph *source.Graph
	Model *model.Model
	Log   *logrus.Entry

	// UnbatchedOutputs holds the names of network outputs that do not carry the
	// batch dimension of the inputs.
	UnbatchedOutputs map[string]struct{}
}

// Pass is one step of the prepare pipeline.
type Pass interface {
	// Name returns the pass name for logging.
	Name() string
	// Run executes the pass.
	Run(c *PrepareContext) error
}

// DefaultPasses returns the prepare pipeline in the order it must run.
func DefaultPasses() []Pass {
	return []Pass{DetectBatch{}, ConvertPrecision{}}
}

// DetectBatch records the batch size shared by the network inputs and the outputs
// that do not carry it.
type DetectBatch struct{}

// Name implements Pass.
func (DetectBatch) Name() string { return "detect-batch" }

// Run implements Pass.
func (DetectBatch) Run(c *PrepareContext) error {
	batch := 1
	for i, t := range c.Graph.Inputs() {
		if len(t.Shape) == 0 || t.Shape[0] == tensor.Dynamic {
			batch = 1
			break
		}
		if i == 0 {
			batch = t.Shape[0]
		} else if t.Shape[0] != batch {
			batch = 1
			break
		}
	}
	c.Model.Attrs().Set(AttrBatch, batch)

	if batch != 1 {
		for _, t := range c.Graph.Outputs() {
			if len(t.Shape) == 0 || t.Shape[0] != batch {
				c.UnbatchedOutputs[t.Name] = struct{}{}
			}
		}
	}

	withDetectionOutput := false
	for _, n := range c.Graph.Nodes() {
		if n.Type == "DetectionOutput" {
			withDetectionOutput = true
			break
		}
	}
	c.Model.Attrs().Set(AttrWithDetectionOutput, withDetectionOutput)

	c.Log.WithFields(logrus.Fields{
		"batch":     batch,
		"unbatched": len(c.UnbatchedOutputs),
	}).Debug("detected network batch")
	return nil
}

// narrowedTypes lists the element types the device lacks and what replaces them.
var narrowedTypes = map[tensor.DataType]tensor.DataType{
	tensor.Int64:  tensor.Int32,
	tensor.Uint64: tensor.Int32,
	tensor.Uint32: tensor.Int32,
	tensor.Bool:   tensor.Int32,
}

// ConvertPrecision retypes tensors of element types the device lacks, converting
// constant content along with them. Values outside the int32 range saturate.
type ConvertPrecision struct{}

// Name implements Pass.
func (ConvertPrecision) Name() string { return "convert-precision" }

// Run implements Pass.
func (ConvertPrecision) Run(c *PrepareContext) error {
	needed := false
	for _, t := range c.Graph.Tensors() {
		if _, ok := narrowedTypes[t.Type]; ok {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	g := c.Graph.Clone()
	converted := 0
	for _, t := range g.Tensors() {
		to, ok := narrowedTypes[t.Type]
		if !ok {
			continue
		}
		if t.Content != nil {
			content, err := narrowContent(t.Content, t.Type)
			if err != nil {
				return configErrorf("constant %s: %v", t.Name, err)
			}
			t.Content = content
		}
		if err := g.SetTensorType(t, to); err != nil {
			return err
		}
		converted++
	}
	if err := g.Freeze(); err != nil {
		return err
	}

	c.Log.WithField("tensors", converted).Debug("narrowed tensor precision")
	c.Graph = g
	return nil
}

func narrowContent(buf []byte, from tensor.DataType) ([]byte, error) {
	size := from.Size()
	if len(buf)%size != 0 {
		return nil, errSizeMismatch(len(buf), from)
	}
	n := len(buf) / size
	out := make([]byte, 4*n)
	for i := 0; i < n; i++ {
		b := buf[i*size:]
		var v int64
		switch from {
		case tensor.Int64:
			v = int64(binary.LittleEndian.Uint64(b))
		case tensor.Uint64:
			u := binary.LittleEndian.Uint64(b)
			if u > math.MaxInt32 {
				u = math.MaxInt32
			}
			v = int64(u)
		case tensor.Uint32:
			v = int64(binary.LittleEndian.Uint32(b))
		case tensor.Bool:
			if b[0] != 0 {
				v = 1
			}
		}
		v = max(math.MinInt32, min(math.MaxInt32, v))
		binary.LittleEndian.PutUint32(out[4*i:], uint32(int32(v)))
	}
	return out, nil
}
