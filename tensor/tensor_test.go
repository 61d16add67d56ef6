// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/born-ml/vpuc/tensor"
)

func TestParseDataType(t *testing.T) {
	for name, want := range map[string]tensor.DataType{
		"FP16":    tensor.Float16,
		"float32": tensor.Float32,
		"S32":     tensor.Int32,
	} {
		got, err := tensor.ParseDataType(name)
		if err != nil {
			t.Fatalf("ParseDataType(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParseDataType(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := tensor.ParseDataType("complex64"); err == nil {
		t.Error("Expected error for unknown type")
	}
}

func TestBroadcastShapes(t *testing.T) {
	got, err := tensor.BroadcastShapes(tensor.Shape{2, 1, 4}, tensor.Shape{3, 1})
	if err != nil {
		t.Fatalf("BroadcastShapes: %v", err)
	}
	if !got.Equal(tensor.Shape{2, 3, 4}) {
		t.Errorf("Expected [2 3 4], got %v", got)
	}
	if _, err := tensor.BroadcastShapes(tensor.Shape{2}, tensor.Shape{3}); err == nil {
		t.Error("Expected error for incompatible shapes")
	}
}
