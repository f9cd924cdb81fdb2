package model

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"
)

// DType identifies the element encoding of a tensor.
// Keep these stable; add new values only.
type DType uint8

const (
	F32 DType = iota
	F16
	Q8_0
)

// Q8BlockSize is the number of values sharing one scale in a Q8_0 block.
const Q8BlockSize = 32

// q8BlockBytes is the encoded size of one Q8_0 block: f16 scale + 32 int8.
const q8BlockBytes = 2 + Q8BlockSize

func (d DType) String() string {
	switch d {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case Q8_0:
		return "Q8_0"
	default:
		return fmt.Sprintf("DType(%d)", uint8(d))
	}
}

// ParseDType is the inverse of String.
func ParseDType(s string) (DType, error) {
	switch s {
	case "F32", "f32":
		return F32, nil
	case "F16", "f16":
		return F16, nil
	case "Q8_0", "q8_0":
		return Q8_0, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

// Valid reports whether d is a known dtype.
func (d DType) Valid() bool {
	return d <= Q8_0
}

// ByteSize returns the encoded size of a tensor with the given shape, or
// false when the shape cannot be encoded with d.
func (d DType) ByteSize(shape []int) (int, bool) {
	n := 1
	for _, dim := range shape {
		if dim <= 0 || n > maxElements/dim {
			return 0, false
		}
		n *= dim
	}
	switch d {
	case F32:
		return n * 4, true
	case F16:
		return n * 2, true
	case Q8_0:
		if len(shape) == 0 || shape[len(shape)-1]%Q8BlockSize != 0 {
			return 0, false
		}
		return n / Q8BlockSize * q8BlockBytes, true
	}
	return 0, false
}

// maxElements bounds element counts so byte sizes fit a 32-bit length.
const maxElements = 1 << 30

// quantizeQ8 encodes vals (len a multiple of 32) as Q8_0 blocks.
func quantizeQ8(dst []byte, vals []float32) {
	for b := 0; b < len(vals)/Q8BlockSize; b++ {
		block := vals[b*Q8BlockSize : (b+1)*Q8BlockSize]
		var amax float32
		for _, v := range block {
			if v < 0 {
				v = -v
			}
			if v > amax {
				amax = v
			}
		}
		scale := amax / 127
		out := dst[b*q8BlockBytes:]
		h := float16.Fromfloat32(scale)
		binary.LittleEndian.PutUint16(out, h.Bits())
		// Round-trip the scale through f16 so dequantization uses the
		// stored value.
		scale = h.Float32()
		for i, v := range block {
			var q int32
			if scale != 0 {
				x := v / scale
				if x >= 0 {
					q = int32(x + 0.5)
				} else {
					q = int32(x - 0.5)
				}
			}
			if q > 127 {
				q = 127
			} else if q < -127 {
				q = -127
			}
			out[2+i] = byte(int8(q))
		}
	}
}
