package tensor

import (
	"fmt"
	"strconv"
	"strings"
)

// Dynamic marks a dimension whose size is not known at compile time.
const Dynamic = -1

// Shape represents the dimensions of a tensor, outermost first.
type Shape []int

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// IsStatic reports whether every dimension is known.
func (s Shape) IsStatic() bool {
	for _, dim := range s {
		if dim == Dynamic {
			return false
		}
	}
	return true
}

// NumElements returns the total number of elements, or Dynamic when any dimension
// is unknown.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		if dim == Dynamic {
			return Dynamic
		}
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive or Dynamic.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 && dim != Dynamic {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides in elements.
// Strides are only meaningful for static shapes; a dynamic dimension yields Dynamic
// strides for every outer dimension.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		if strides[i+1] == Dynamic || s[i+1] == Dynamic {
			strides[i] = Dynamic
			continue
		}
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String formats the shape as [d0 x d1 x ...] with "?" for dynamic dimensions.
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		if dim == Dynamic {
			parts[i] = "?"
			continue
		}
		parts[i] = strconv.Itoa(dim)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Dimensions are compared right to left; they are compatible when equal or when one
// of them is 1. Missing dimensions are treated as 1. A dynamic dimension broadcasts
// against anything and stays dynamic unless the other side is a known size > 1.
//
//	(3, 1) + (3, 5) → (3, 5)
//	(?, 4) + (1, 4) → (?, 4)
func BroadcastShapes(a, b Shape) (Shape, error) {
	rank := max(len(a), len(b))
	result := make(Shape, rank)

	for i := 1; i <= rank; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}

		switch {
		case da == db:
			result[rank-i] = da
		case da == 1:
			result[rank-i] = db
		case db == 1:
			result[rank-i] = da
		case da == Dynamic:
			result[rank-i] = db
		case db == Dynamic:
			result[rank-i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v are not broadcastable", a, b)
		}
	}
	return result, nil
}
