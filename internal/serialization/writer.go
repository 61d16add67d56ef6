package serialization

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/born-ml/vpuc/internal/model"
)

// Encode builds the dump of m. Stages are listed in execution order.
func Encode(m *model.Model, compilerVersion string) (*Document, error) {
	ordered, err := m.OrderedStages()
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Format:          FormatName,
		FormatVersion:   FormatVersion,
		CompilerVersion: compilerVersion,
		Model:           m.Name(),
		Index:           m.Index(),
		Attrs:           attrText(m.Attrs()),
		Datas:           make([]DataMeta, 0, len(m.Datas())),
		Stages:          make([]StageMeta, 0, len(ordered)),
	}
	for _, d := range m.Datas() {
		meta := DataMeta{
			ID:    d.ID(),
			Name:  d.Name(),
			Usage: d.Usage().String(),
			DType: d.Type().String(),
			Shape: append([]int{}, d.Desc().Dims...),
			Attrs: attrText(d.Attrs()),
		}
		if content := d.Content(); content != nil {
			meta.Size = len(content)
			meta.Checksum = ComputeChecksum(content)
		}
		doc.Datas = append(doc.Datas, meta)
	}
	for _, s := range ordered {
		doc.Stages = append(doc.Stages, StageMeta{
			ID:      s.ID(),
			Name:    s.Name(),
			Type:    string(s.Type()),
			Origin:  s.Origin(),
			Inputs:  dataIDs(s.Inputs()),
			Outputs: dataIDs(s.Outputs()),
			Attrs:   attrText(s.Attrs()),
		})
	}
	return doc, nil
}

// Write encodes m as indented JSON.
func Write(w io.Writer, m *model.Model, compilerVersion string) error {
	doc, err := Encode(m, compilerVersion)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write dump of %s: %w", m.Name(), err)
	}
	return nil
}

func dataIDs(ds []*model.Data) []int {
	ids := make([]int, len(ds))
	for i, d := range ds {
		ids[i] = d.ID()
	}
	return ids
}

// attrText renders attribute values with %v so that every value, including
// non-finite floats, has a JSON form.
func attrText(a model.Attributes) map[string]string {
	if len(a) == 0 {
		return nil
	}
	out := make(map[string]string, len(a))
	for k, v := range a {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
