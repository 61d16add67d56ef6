// Package tensor describes element types and shapes shared by source tensors and
// lowered data buffers.
package tensor

import "fmt"

// DataType represents the element type of a tensor or buffer.
type DataType int

// Supported element types.
const (
	Undefined DataType = iota
	Float16
	Float32
	Float64
	Uint8
	Int8
	Int32
	Int64
	Uint32
	Uint64
	Bool
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float16:
		return 2
	case Float32, Int32, Uint32:
		return 4
	case Float64, Int64, Uint64:
		return 8
	case Uint8, Int8, Bool:
		return 1
	default:
		return 0
	}
}

// IsFloat reports whether dt is a floating-point type.
func (dt DataType) IsFloat() bool {
	return dt == Float16 || dt == Float32 || dt == Float64
}

// String returns the short name used in logs and stage tables.
func (dt DataType) String() string {
	switch dt {
	case Float16:
		return "FP16"
	case Float32:
		return "FP32"
	case Float64:
		return "FP64"
	case Uint8:
		return "U8"
	case Int8:
		return "I8"
	case Int32:
		return "S32"
	case Int64:
		return "I64"
	case Uint32:
		return "U32"
	case Uint64:
		return "U64"
	case Bool:
		return "BOOL"
	default:
		return "UNDEFINED"
	}
}

// ParseDataType converts a name produced by String (case-sensitive) or a lower-case
// Go-style alias such as "float32" back to a DataType.
func ParseDataType(name string) (DataType, error) {
	switch name {
	case "FP16", "float16":
		return Float16, nil
	case "FP32", "float32":
		return Float32, nil
	case "FP64", "float64":
		return Float64, nil
	case "U8", "uint8":
		return Uint8, nil
	case "I8", "int8":
		return Int8, nil
	case "S32", "int32":
		return Int32, nil
	case "I64", "int64":
		return Int64, nil
	case "U32", "uint32":
		return Uint32, nil
	case "U64", "uint64":
		return Uint64, nil
	case "BOOL", "bool":
		return Bool, nil
	}
	return Undefined, fmt.Errorf("unknown data type %q", name)
}
