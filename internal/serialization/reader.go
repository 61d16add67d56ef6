package serialization

import (
	"encoding/json"
	"fmt"
	"io"
)

// Read decodes and validates a dump.
func Read(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	if doc.Format != FormatName {
		return nil, fmt.Errorf("%w: format %q", ErrInvalidFormat, doc.Format)
	}
	if doc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.FormatVersion)
	}
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks that data IDs are unique, that stages reference known buffers and
// that no buffer has two producers.
func Validate(doc *Document) error {
	datas := make(map[int]string, len(doc.Datas))
	for _, d := range doc.Datas {
		if prev, dup := datas[d.ID]; dup {
			return &ValidationError{
				Type:    "duplicate_id",
				Details: fmt.Sprintf("data %q and %q share id %d", prev, d.Name, d.ID),
			}
		}
		datas[d.ID] = d.Name
	}

	producers := make(map[int]string)
	for _, s := range doc.Stages {
		for _, id := range s.Inputs {
			if _, ok := datas[id]; !ok {
				return &ValidationError{Type: "unknown_data", Stage: s.Name, Details: fmt.Sprintf("input id %d", id)}
			}
		}
		for _, id := range s.Outputs {
			if _, ok := datas[id]; !ok {
				return &ValidationError{Type: "unknown_data", Stage: s.Name, Details: fmt.Sprintf("output id %d", id)}
			}
			if prev, dup := producers[id]; dup {
				return &ValidationError{
					Type:    "multiple_producers",
					Stage:   s.Name,
					Details: fmt.Sprintf("data %q is also produced by %q", datas[id], prev),
				}
			}
			producers[id] = s.Name
		}
	}
	return nil
}
