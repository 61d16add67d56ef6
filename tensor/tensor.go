// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/vpuc/internal/tensor"
)

// Type aliases for public API

// DataType is the element type of a tensor or buffer.
type DataType = tensor.DataType

// Shape lists tensor dimensions.
type Shape = tensor.Shape

// Dynamic marks a dimension whose size is not known at compile time.
const Dynamic = tensor.Dynamic

// Element types.
const (
	Undefined = tensor.Undefined
	Float16   = tensor.Float16
	Float32   = tensor.Float32
	Float64   = tensor.Float64
	Uint8     = tensor.Uint8
	Int8      = tensor.Int8
	Int32     = tensor.Int32
	Int64     = tensor.Int64
	Uint32    = tensor.Uint32
	Uint64    = tensor.Uint64
	Bool      = tensor.Bool
)

// ParseDataType converts a name such as "FP16" or "float32" to a DataType.
func ParseDataType(name string) (DataType, error) {
	return tensor.ParseDataType(name)
}

// BroadcastShapes returns the numpy broadcast of a and b.
func BroadcastShapes(a, b Shape) (Shape, error) {
	return tensor.BroadcastShapes(a, b)
}
