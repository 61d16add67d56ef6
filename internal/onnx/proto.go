package onnx

// Decoded ONNX messages. Only the fields the importer reads are kept; unknown
// fields are skipped by the decoder.

// ModelProto is the top-level message of an .onnx file.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
}

// Opset returns the version imported for the default domain, or 0.
func (m *ModelProto) Opset() int64 {
	for _, o := range m.OpsetImport {
		if o.Domain == "" || o.Domain == "ai.onnx" {
			return o.Version
		}
	}
	return 0
}

// GraphProto is a computation graph.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	Initializers []TensorProto
	DocString    string
	ValueInfo    []ValueInfoProto // intermediate tensors
}

// NodeProto is one operator application.
type NodeProto struct {
	Name       string
	OpType     string
	Inputs     []string // empty names mark omitted optional inputs
	Outputs    []string
	Attributes []AttributeProto
	Domain     string
	DocString  string
}

// TensorProto is an initializer or a tensor-valued attribute.
type TensorProto struct {
	Name      string
	DataType  int32
	Dims      []int64
	RawData   []byte
	FloatData []float32
	Int32Data []int32 // also carries FLOAT16, INT8, UINT8 and BOOL values
	Int64Data []int64
	DocString string
}

// ValueInfoProto names a tensor and its type.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto wraps the tensor type; sequence and map types are not decoded.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto is an element type with an optional shape.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto lists dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is either a static value or a symbolic name.
type DimensionProto struct {
	DimValue int64
	DimParam string
	HasValue bool
}

// AttributeProto is a named operator attribute.
type AttributeProto struct {
	Name      string
	Type      int32
	F         float32
	I         int64
	S         []byte
	T         *TensorProto
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	DocString string
}

// OperatorSetID is an imported opset.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is a metadata key-value pair.
type StringStringEntry struct {
	Key   string
	Value string
}

// TensorProto.DataType values.
const (
	TensorProtoUndefined  = 0
	TensorProtoFloat      = 1
	TensorProtoUint8      = 2
	TensorProtoInt8       = 3
	TensorProtoUint16     = 4
	TensorProtoInt16      = 5
	TensorProtoInt32      = 6
	TensorProtoInt64      = 7
	TensorProtoString     = 8
	TensorProtoBool       = 9
	TensorProtoFloat16    = 10
	TensorProtoDouble     = 11
	TensorProtoUint32     = 12
	TensorProtoUint64     = 13
	TensorProtoComplex64  = 14
	TensorProtoComplex128 = 15
	TensorProtoBfloat16   = 16
)

// AttributeProto.Type values.
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoTensor    = 4
	AttributeProtoGraph     = 5
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
	AttributeProtoTensors   = 9
	AttributeProtoGraphs    = 10
)
