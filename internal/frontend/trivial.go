package frontend

import (
	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/source"
	"github.com/born-ml/vpuc/internal/stages"
)

const trivialCopyReason = "processTrivialCase"

type trivialCase struct {
	input, output *model.Data
}

// processTrivialCases connects network inputs and constants that are also network
// outputs to their Output buffer with a Copy stage named <input>@copy.
func (f *FrontEnd) processTrivialCases(m *model.Model, sb *stages.Builder) error {
	var order []*source.Tensor
	cases := make(map[*source.Tensor]*trivialCase)

	for _, d := range m.Datas() {
		if d.Usage() != model.Input && d.Usage() != model.Const && d.Usage() != model.Output {
			continue
		}
		t, ok := f.registry.originOf(d)
		if !ok {
			continue
		}
		c, seen := cases[t]
		if !seen {
			c = &trivialCase{}
			cases[t] = c
			order = append(order, t)
		}

		dst := &c.input
		if d.Usage() == model.Output {
			dst = &c.output
		}
		if *dst != nil {
			return configErrorf("tensor %s has two buffers %s and %s of the same usage %s, only one is permitted",
				t.Name, (*dst).Name(), d.Name(), d.Usage())
		}
		*dst = d
	}

	for _, t := range order {
		c := cases[t]
		if c.input == nil || c.output == nil {
			continue
		}
		f.log.WithField("tensor", t.Name).Debug("network input is also a network output")
		name := c.input.Name() + "@copy"
		if c.input.Type() != c.output.Type() {
			// FP32 constants are stored as FP16.
			stage, err := sb.CreateConvertStage(name, c.input, c.output, 1, 0)
			if err != nil {
				return err
			}
			stage.Attrs().Set(stages.AttrCopyReason, trivialCopyReason)
			continue
		}
		if _, err := sb.AddCopyStage(name, "", c.input, c.output, trivialCopyReason); err != nil {
			return err
		}
	}
	return nil
}
