// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package bench

import (
	"unsafe"

	"github.com/creachadair/smpi"
)

// XItemCount is the number of float32 values in each benchmark record.
const XItemCount = 16

// NoncompoundRecord is the element of the complex-noncompound datatype.
// It has a fixed size and is sent as its in-memory representation.
type NoncompoundRecord struct {
	I int32
	D float64
	X [XItemCount]float32
}

// CompoundHead is the fixed-size head of a [CompoundRecord].
type CompoundHead struct {
	I int32
	D float64
}

// CompoundRecord is the element of the complex-compound datatype. Its tail
// is a separate allocation, so each record is sent as several segments.
type CompoundRecord struct {
	CompoundHead
	X []float32
}

// Element types for the benchmark datatypes.
var (
	SimpleType      = smpi.Int32
	NoncompoundType = smpi.Fixed[NoncompoundRecord]()
	CompoundType    = smpi.Trailing(func(r *CompoundRecord) (*CompoundHead, *[]float32) {
		return &r.CompoundHead, &r.X
	})
)

// compoundSize is the nominal size of one CompoundRecord, counting the
// length of its tail.
const compoundSize = 4 + 8 + 8 + 4*XItemCount

// SimpleData returns a slice of consecutive int32 values occupying about
// size bytes.
func SimpleData(size int) []int32 {
	out := make([]int32, size/4)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

// xValues fills x with a repeating pattern derived from i.
func xValues(x []float32, i int) {
	f := float32(i)
	pattern := [4]float32{0.01 * f, 0.06 * f, f, 0.1 * f}
	for j := range x {
		x[j] = pattern[j%len(pattern)]
	}
}

// NoncompoundData returns a slice of records occupying about size bytes.
func NoncompoundData(size int) []NoncompoundRecord {
	out := make([]NoncompoundRecord, size/int(unsafe.Sizeof(NoncompoundRecord{})))
	for i := range out {
		out[i].I = int32(i)
		out[i].D = float64(i)
		xValues(out[i].X[:], i)
	}
	return out
}

// CompoundData returns a slice of records occupying about size bytes.
func CompoundData(size int) []CompoundRecord {
	out := make([]CompoundRecord, size/compoundSize)
	for i := range out {
		out[i].I = int32(i)
		out[i].D = float64(i)
		out[i].X = make([]float32, XItemCount)
		xValues(out[i].X, i)
	}
	return out
}
