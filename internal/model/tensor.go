package model

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Tensor is a named, shaped parameter buffer. Data is owned by the tensor
// and encoded according to DType.
type Tensor struct {
	Name  string
	DType DType
	Shape []int
	Data  []byte
}

// NewTensor encodes vals into a tensor of the given dtype and shape.
func NewTensor(name string, dtype DType, shape []int, vals []float32) (*Tensor, error) {
	size, ok := dtype.ByteSize(shape)
	if !ok {
		return nil, fmt.Errorf("tensor %q: shape %v cannot be encoded as %s", name, shape, dtype)
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	if len(vals) != n {
		return nil, fmt.Errorf("tensor %q: got %d values for shape %v", name, len(vals), shape)
	}

	data := make([]byte, size)
	switch dtype {
	case F32:
		for i, v := range vals {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
	case F16:
		for i, v := range vals {
			binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
		}
	case Q8_0:
		quantizeQ8(data, vals)
	}

	return &Tensor{
		Name:  name,
		DType: dtype,
		Shape: append([]int(nil), shape...),
		Data:  data,
	}, nil
}

// Elements returns the number of values in the tensor.
func (t *Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Rows returns the size of the first dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Cols returns the number of values per row (product of the trailing dims).
func (t *Tensor) Cols() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Elements() / t.Shape[0]
}

// rowBytes returns the encoded size of one row.
func (t *Tensor) rowBytes() int {
	cols := t.Cols()
	switch t.DType {
	case F32:
		return cols * 4
	case F16:
		return cols * 2
	case Q8_0:
		return cols / Q8BlockSize * q8BlockBytes
	}
	return 0
}

// rowData returns the encoded bytes of row i.
func (t *Tensor) rowData(i int) []byte {
	rb := t.rowBytes()
	return t.Data[i*rb : (i+1)*rb]
}

// Row decodes row i into dst, which must hold Cols() values. Row and Dot
// index the first dimension and are meant for tensors with two or more dims.
func (t *Tensor) Row(i int, dst []float32) {
	decode(t.DType, t.rowData(i), dst)
}

// Dot returns the dot product of row i with x, decoding on the fly.
func (t *Tensor) Dot(i int, x []float32) float32 {
	return dot(t.DType, t.rowData(i), x)
}

// Float32s decodes the whole tensor.
func (t *Tensor) Float32s() []float32 {
	out := make([]float32, t.Elements())
	decode(t.DType, t.Data, out)
	return out
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s %s%v", t.Name, t.DType, t.Shape)
}

func decode(dtype DType, src []byte, dst []float32) {
	switch dtype {
	case F32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	case F16:
		for i := range dst {
			dst[i] = float16.Frombits(binary.LittleEndian.Uint16(src[i*2:])).Float32()
		}
	case Q8_0:
		for b := 0; b < len(dst)/Q8BlockSize; b++ {
			block := src[b*q8BlockBytes:]
			scale := float16.Frombits(binary.LittleEndian.Uint16(block)).Float32()
			for j := 0; j < Q8BlockSize; j++ {
				dst[b*Q8BlockSize+j] = float32(int8(block[2+j])) * scale
			}
		}
	}
}

func dot(dtype DType, src []byte, x []float32) float32 {
	var sum float32
	switch dtype {
	case F32:
		for i, v := range x {
			sum += math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:])) * v
		}
	case F16:
		for i, v := range x {
			sum += float16.Frombits(binary.LittleEndian.Uint16(src[i*2:])).Float32() * v
		}
	case Q8_0:
		for b := 0; b < len(x)/Q8BlockSize; b++ {
			block := src[b*q8BlockBytes:]
			scale := float16.Frombits(binary.LittleEndian.Uint16(block)).Float32()
			var acc float32
			xs := x[b*Q8BlockSize : (b+1)*Q8BlockSize]
			for j, v := range xs {
				acc += float32(int8(block[2+j])) * v
			}
			sum += acc * scale
		}
	}
	return sum
}
