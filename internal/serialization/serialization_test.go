package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/vpuc/internal/model"
	"github.com/born-ml/vpuc/internal/tensor"
)

func sampleModel(t *testing.T) *model.Model {
	t.Helper()
	desc := model.NewDesc(tensor.Float16, tensor.Shape{1, 8})
	m := model.New("net", 3)
	m.Attrs().Set("batch", 1)

	in := m.AddInputData("in", desc)
	m.AddConstData("w", desc, bytes.Repeat([]byte{1, 2}, 8))
	mid := m.AddNewData("mid", desc)
	out := m.AddOutputData("out", desc)

	// Added out of order on purpose; the dump lists stages in execution order.
	_, err := m.AddNewStage(model.StageSpec{
		Name: "b", Type: model.StageSigmoid, Origin: "act2",
		Inputs: []*model.Data{mid}, Outputs: []*model.Data{out},
	})
	require.NoError(t, err)
	_, err = m.AddNewStage(model.StageSpec{
		Name: "a", Type: model.StageRelu, Origin: "act1",
		Inputs: []*model.Data{in}, Outputs: []*model.Data{mid},
		Attrs: model.Attributes{"negativeSlope": float32(0.5)},
	})
	require.NoError(t, err)
	return m
}

func TestWriteRead(t *testing.T) {
	m := sampleModel(t)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m, "v0.1.0"))

	doc, err := Read(&buf)
	require.NoError(t, err)

	assert.Equal(t, "net", doc.Model)
	assert.Equal(t, 3, doc.Index)
	assert.Equal(t, "v0.1.0", doc.CompilerVersion)
	assert.Equal(t, "1", doc.Attrs["batch"])

	require.Len(t, doc.Datas, 4)
	ids := make(map[string]int)
	for _, d := range doc.Datas {
		ids[d.Name] = d.ID
	}

	w := doc.Datas[1]
	assert.Equal(t, "w", w.Name)
	assert.Equal(t, "Const", w.Usage)
	assert.Equal(t, "FP16", w.DType)
	assert.Equal(t, []int{1, 8}, w.Shape)
	assert.Equal(t, 16, w.Size)
	assert.NoError(t, ValidateChecksum(bytes.Repeat([]byte{1, 2}, 8), w.Checksum))
	assert.Empty(t, doc.Datas[0].Checksum)

	require.Len(t, doc.Stages, 2)
	assert.Equal(t, "a", doc.Stages[0].Name)
	assert.Equal(t, "Relu", doc.Stages[0].Type)
	assert.Equal(t, "act1", doc.Stages[0].Origin)
	assert.Equal(t, []int{ids["in"]}, doc.Stages[0].Inputs)
	assert.Equal(t, []int{ids["mid"]}, doc.Stages[0].Outputs)
	assert.Equal(t, "0.5", doc.Stages[0].Attrs["negativeSlope"])
	assert.Equal(t, "b", doc.Stages[1].Name)
}

func TestValidateChecksumMismatch(t *testing.T) {
	err := ValidateChecksum([]byte("abc"), ComputeChecksum([]byte("abd")))
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func encodeDoc(t *testing.T, doc *Document) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(doc))
	return buf
}

func TestReadRejects(t *testing.T) {
	valid := func() *Document {
		return &Document{
			Format:        FormatName,
			FormatVersion: FormatVersion,
			Datas:         []DataMeta{{ID: 0, Name: "in"}, {ID: 1, Name: "out"}},
			Stages:        []StageMeta{{ID: 0, Name: "s", Inputs: []int{0}, Outputs: []int{1}}},
		}
	}

	tests := []struct {
		name    string
		edit    func(*Document)
		wantErr error
		wantVal string
	}{
		{name: "format", edit: func(d *Document) { d.Format = "BORN" }, wantErr: ErrInvalidFormat},
		{name: "version", edit: func(d *Document) { d.FormatVersion = 9 }, wantErr: ErrUnsupportedVersion},
		{name: "unknown input", edit: func(d *Document) { d.Stages[0].Inputs = []int{7} }, wantVal: "unknown_data"},
		{name: "duplicate id", edit: func(d *Document) { d.Datas[1].ID = 0 }, wantVal: "duplicate_id"},
		{
			name: "two producers",
			edit: func(d *Document) {
				d.Stages = append(d.Stages, StageMeta{ID: 1, Name: "t", Inputs: []int{0}, Outputs: []int{1}})
			},
			wantVal: "multiple_producers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := valid()
			tt.edit(doc)
			_, err := Read(encodeDoc(t, doc))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantVal != "" {
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, tt.wantVal, ve.Type)
			}
		})
	}

	_, err := Read(encodeDoc(t, valid()))
	assert.NoError(t, err)
}

func TestReadGarbage(t *testing.T) {
	_, err := Read(bytes.NewBufferString("{not json"))
	assert.Error(t, err)
}
