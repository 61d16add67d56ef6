// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the element types and shapes of compiler graphs.
//
// Shapes may contain Dynamic dimensions; buffers created for them are sized at run
// time. Element types print with the short names used in stage tables (FP16, S32).
//
// # Basic Usage
//
//	g := compiler.NewGraph("net")
//	x, _ := g.AddParameter("x", tensor.Float32, tensor.Shape{1, 3, 224, 224})
package tensor
