package onnx

import (
	"errors"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrWireType is returned when a known field is encoded with an unexpected wire type.
var ErrWireType = errors.New("unexpected wire type")

// ParseFile decodes an ONNX model file.
//
//nolint:gosec // G304: model path comes from the caller
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes an ONNX model from its protobuf encoding.
func Parse(data []byte) (*ModelProto, error) {
	if len(data) == 0 {
		return nil, errors.New("failed to parse model: empty input")
	}
	m := &ModelProto{}
	if err := readModel(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

// fieldFunc decodes the value of one field starting at b. It returns the number of
// bytes consumed, or 0 to have the field skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func readFields(msg string, b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%s: %w", msg, protowire.ParseError(n))
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("%s field %d: %w", msg, num, err)
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%s field %d: %w", msg, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func readBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, ErrWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func readString(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := readBytes(typ, b)
	*dst = string(v)
	return n, err
}

func readVarint(typ protowire.Type, b []byte, dst *int64) (int, error) {
	if typ != protowire.VarintType {
		return 0, ErrWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = int64(v)
	return n, nil
}

func readFloat(typ protowire.Type, b []byte, dst *float32) (int, error) {
	if typ != protowire.Fixed32Type {
		return 0, ErrWireType
	}
	v, n := protowire.ConsumeFixed32(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = math.Float32frombits(v)
	return n, nil
}

// readMessage decodes an embedded message with read.
func readMessage[T any](typ protowire.Type, b []byte, read func([]byte, *T) error) (*T, int, error) {
	v, n, err := readBytes(typ, b)
	if err != nil {
		return nil, 0, err
	}
	m := new(T)
	if err := read(v, m); err != nil {
		return nil, 0, err
	}
	return m, n, nil
}

// readVarints appends one element of a repeated varint field, packed or not.
func readVarints(typ protowire.Type, b []byte, dst *[]int64) (int, error) {
	if typ == protowire.VarintType {
		var v int64
		n, err := readVarint(typ, b, &v)
		*dst = append(*dst, v)
		return n, err
	}
	packed, n, err := readBytes(typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		*dst = append(*dst, int64(v))
		packed = packed[m:]
	}
	return n, nil
}

// readFloats appends one element of a repeated float field, packed or not.
func readFloats(typ protowire.Type, b []byte, dst *[]float32) (int, error) {
	if typ == protowire.Fixed32Type {
		var v float32
		n, err := readFloat(typ, b, &v)
		*dst = append(*dst, v)
		return n, err
	}
	packed, n, err := readBytes(typ, b)
	if err != nil {
		return 0, err
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeFixed32(packed)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		*dst = append(*dst, math.Float32frombits(v))
		packed = packed[m:]
	}
	return n, nil
}

func readModel(b []byte, m *ModelProto) error {
	return readFields("ModelProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // ir_version
			return readVarint(typ, b, &m.IRVersion)
		case 2: // producer_name
			return readString(typ, b, &m.ProducerName)
		case 3: // producer_version
			return readString(typ, b, &m.ProducerVersion)
		case 4: // domain
			return readString(typ, b, &m.Domain)
		case 5: // model_version
			return readVarint(typ, b, &m.ModelVersion)
		case 6: // doc_string
			return readString(typ, b, &m.DocString)
		case 7: // graph
			g, n, err := readMessage(typ, b, readGraph)
			m.Graph = g
			return n, err
		case 8: // opset_import
			o, n, err := readMessage(typ, b, readOperatorSetID)
			if err == nil {
				m.OpsetImport = append(m.OpsetImport, *o)
			}
			return n, err
		case 14: // metadata_props
			e, n, err := readMessage(typ, b, readStringStringEntry)
			if err == nil {
				m.MetadataProps = append(m.MetadataProps, *e)
			}
			return n, err
		}
		return 0, nil
	})
}

func readGraph(b []byte, g *GraphProto) error {
	return readFields("GraphProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // node
			node, n, err := readMessage(typ, b, readNode)
			if err == nil {
				g.Nodes = append(g.Nodes, *node)
			}
			return n, err
		case 2: // name
			return readString(typ, b, &g.Name)
		case 5: // initializer
			t, n, err := readMessage(typ, b, readTensor)
			if err == nil {
				g.Initializers = append(g.Initializers, *t)
			}
			return n, err
		case 10: // doc_string
			return readString(typ, b, &g.DocString)
		case 11, 12, 13: // input, output, value_info
			vi, n, err := readMessage(typ, b, readValueInfo)
			if err != nil {
				return 0, err
			}
			switch num {
			case 11:
				g.Inputs = append(g.Inputs, *vi)
			case 12:
				g.Outputs = append(g.Outputs, *vi)
			default:
				g.ValueInfo = append(g.ValueInfo, *vi)
			}
			return n, nil
		}
		return 0, nil
	})
}

func readNode(b []byte, m *NodeProto) error {
	return readFields("NodeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 2: // input, output
			var s string
			n, err := readString(typ, b, &s)
			if err != nil {
				return 0, err
			}
			if num == 1 {
				m.Inputs = append(m.Inputs, s)
			} else {
				m.Outputs = append(m.Outputs, s)
			}
			return n, nil
		case 3: // name
			return readString(typ, b, &m.Name)
		case 4: // op_type
			return readString(typ, b, &m.OpType)
		case 5: // attribute
			a, n, err := readMessage(typ, b, readAttribute)
			if err == nil {
				m.Attributes = append(m.Attributes, *a)
			}
			return n, err
		case 6: // doc_string
			return readString(typ, b, &m.DocString)
		case 7: // domain
			return readString(typ, b, &m.Domain)
		}
		return 0, nil
	})
}

func readTensor(b []byte, m *TensorProto) error {
	return readFields("TensorProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // dims
			return readVarints(typ, b, &m.Dims)
		case 2: // data_type
			var v int64
			n, err := readVarint(typ, b, &v)
			m.DataType = int32(v)
			return n, err
		case 4: // float_data
			return readFloats(typ, b, &m.FloatData)
		case 5: // int32_data
			var vs []int64
			n, err := readVarints(typ, b, &vs)
			for _, v := range vs {
				m.Int32Data = append(m.Int32Data, int32(v))
			}
			return n, err
		case 7: // int64_data
			return readVarints(typ, b, &m.Int64Data)
		case 8: // name
			return readString(typ, b, &m.Name)
		case 9: // raw_data
			v, n, err := readBytes(typ, b)
			m.RawData = append([]byte(nil), v...)
			return n, err
		case 12: // doc_string
			return readString(typ, b, &m.DocString)
		}
		return 0, nil
	})
}

func readValueInfo(b []byte, m *ValueInfoProto) error {
	return readFields("ValueInfoProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // name
			return readString(typ, b, &m.Name)
		case 2: // type
			t, n, err := readMessage(typ, b, readType)
			m.Type = t
			return n, err
		case 3: // doc_string
			return readString(typ, b, &m.DocString)
		}
		return 0, nil
	})
}

func readType(b []byte, m *TypeProto) error {
	return readFields("TypeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 { // tensor_type
			return 0, nil
		}
		t, n, err := readMessage(typ, b, readTensorType)
		m.TensorType = t
		return n, err
	})
}

func readTensorType(b []byte, m *TensorTypeProto) error {
	return readFields("TensorTypeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // elem_type
			var v int64
			n, err := readVarint(typ, b, &v)
			m.ElemType = int32(v)
			return n, err
		case 2: // shape
			s, n, err := readMessage(typ, b, readShape)
			m.Shape = s
			return n, err
		}
		return 0, nil
	})
}

func readShape(b []byte, m *TensorShapeProto) error {
	return readFields("TensorShapeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 { // dim
			return 0, nil
		}
		d, n, err := readMessage(typ, b, readDimension)
		if err == nil {
			m.Dims = append(m.Dims, *d)
		}
		return n, err
	})
}

func readDimension(b []byte, m *DimensionProto) error {
	return readFields("DimensionProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // dim_value
			m.HasValue = true
			return readVarint(typ, b, &m.DimValue)
		case 2: // dim_param
			return readString(typ, b, &m.DimParam)
		}
		return 0, nil
	})
}

func readAttribute(b []byte, m *AttributeProto) error {
	return readFields("AttributeProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // name
			return readString(typ, b, &m.Name)
		case 2: // f
			return readFloat(typ, b, &m.F)
		case 3: // i
			return readVarint(typ, b, &m.I)
		case 4: // s
			v, n, err := readBytes(typ, b)
			m.S = append([]byte(nil), v...)
			return n, err
		case 5: // t
			t, n, err := readMessage(typ, b, readTensor)
			m.T = t
			return n, err
		case 7: // floats
			return readFloats(typ, b, &m.Floats)
		case 8: // ints
			return readVarints(typ, b, &m.Ints)
		case 9: // strings
			v, n, err := readBytes(typ, b)
			if err == nil {
				m.Strings = append(m.Strings, append([]byte(nil), v...))
			}
			return n, err
		case 13: // doc_string
			return readString(typ, b, &m.DocString)
		case 20: // type
			var v int64
			n, err := readVarint(typ, b, &v)
			m.Type = int32(v)
			return n, err
		}
		return 0, nil
	})
}

func readOperatorSetID(b []byte, m *OperatorSetID) error {
	return readFields("OperatorSetIdProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // domain
			return readString(typ, b, &m.Domain)
		case 2: // version
			return readVarint(typ, b, &m.Version)
		}
		return 0, nil
	})
}

func readStringStringEntry(b []byte, m *StringStringEntry) error {
	return readFields("StringStringEntryProto", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1: // key
			return readString(typ, b, &m.Key)
		case 2: // value
			return readString(typ, b, &m.Value)
		}
		return 0, nil
	})
}
