package frontend

import (
	"strconv"
	"strings"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/stages"
	"github.com/born-ml/vpuc/internal/tensor"
)

// Attributes set by the conversion pass.
const (
	AttrFP16Copy             = "fp16_copy"
	AttrConvertFromDetOutput = "convertFromDetOutput"
	AttrHaveBatch            = "haveBatch"
)

// addDataTypeConvertStages makes the device see FP16 everywhere. Scaled FP16 inputs
// get a Power stage, FP32 and U8 inputs a Convert stage to an @FP16 copy, and FP32
// outputs are computed in an @FP16 copy converted back at the end.
func (f *FrontEnd) addDataTypeConvertStages(m *model.Model, sb *stages.Builder) error {
	log := f.log.WithField("pass", "convert")
	scale, bias := f.cfg.InputScale, f.cfg.InputBias

	// Both loops add datas; iterate over a snapshot.
	datas := append([]*model.Data(nil), m.Datas()...)

	for _, input := range datas {
		if input.Usage() != model.Input {
			continue
		}
		log.Debugf("input %s [%s]", input.Name(), input.Type())

		switch input.Type() {
		case tensor.Float16:
			if !f.cfg.HasScaleOrBias() {
				continue
			}
			var postfix strings.Builder
			if scale != 1 {
				postfix.WriteString("@SCALE=" + formatFloat(scale))
			}
			if bias != 0 {
				postfix.WriteString("@BIAS=" + formatFloat(bias))
			}
			scaled, err := m.DuplicateData(input, postfix.String(), nil)
			if err != nil {
				return err
			}
			if err := f.redirectInput(m, input, scaled); err != nil {
				return err
			}
			if _, err := sb.AddPowerStage(scaled.Name(), "", scale, 1, bias, input, scaled); err != nil {
				return err
			}

		case tensor.Uint8, tensor.Float32:
			desc := input.Desc().WithType(tensor.Float16)
			fp16, err := m.DuplicateData(input, "@FP16", &desc)
			if err != nil {
				return err
			}
			input.Attrs().Set(AttrFP16Copy, fp16)
			if err := f.redirectInput(m, input, fp16); err != nil {
				return err
			}
			if _, err := sb.CreateConvertStage(fp16.Name(), input, fp16, scale, bias); err != nil {
				return err
			}
		}
	}

	withDetectionOutput := model.GetOr(m.Attrs(), AttrWithDetectionOutput, false)
	batch := model.GetOr(m.Attrs(), AttrBatch, 1)

	for _, output := range datas {
		if output.Usage() != model.Output || output.Type() != tensor.Float32 {
			continue
		}
		log.Debugf("output %s [%s]", output.Name(), output.Type())

		_, unbatched := f.unbatchedOutputs[output.Name()]
		haveBatch := batch != 1 && unbatched

		if p := output.Producer(); p != nil && p.Type() == model.StageConvert && p.Input(0).Type() == tensor.Float16 {
			// Already converted from FP16, as for an FP32 constant that is a network output.
			p.Attrs().Set(AttrConvertFromDetOutput, withDetectionOutput)
			p.Attrs().Set(AttrHaveBatch, haveBatch)
			continue
		}

		desc := output.Desc().WithType(tensor.Float16)
		fp16, err := m.DuplicateData(output, "@FP16", &desc)
		if err != nil {
			return err
		}
		output.Attrs().Set(AttrFP16Copy, fp16)

		if t, ok := f.registry.originOf(output); ok {
			f.registry.rebind(fp16, t)
		}
		if producer := output.Producer(); producer != nil {
			for i, out := range producer.Outputs() {
				if out == output {
					if err := m.ReplaceStageOutput(producer, i, fp16); err != nil {
						return err
					}
				}
			}
		}

		stage, err := sb.CreateConvertStage(fp16.Name(), fp16, output, 1, 0)
		if err != nil {
			return err
		}
		stage.Attrs().Set(AttrConvertFromDetOutput, withDetectionOutput)
		stage.Attrs().Set(AttrHaveBatch, haveBatch)
	}
	return nil
}

// redirectInput makes every current and future reader of input read dup instead.
func (f *FrontEnd) redirectInput(m *model.Model, input, dup *model.Data) error {
	if t, ok := f.registry.originOf(input); ok {
		f.registry.rebind(dup, t)
	}
	for _, consumer := range append([]*model.Stage(nil), input.Consumers()...) {
		for i, in := range consumer.Inputs() {
			if in == input {
				if err := m.ReplaceStageInput(consumer, i, dup); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}
