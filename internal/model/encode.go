package model

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes w as a WMDL buffer. Tensors are laid out back to back
// in the data region in the order returned by w.Tensors.
func Encode(w *Weights) ([]byte, error) {
	descSize := 0
	dataSize := 0
	for _, t := range w.Tensors() {
		if len(t.Name) == 0 || len(t.Name) > MaxNameLen {
			return nil, fmt.Errorf("tensor %q: name length %d outside [1, %d]", t.Name, len(t.Name), MaxNameLen)
		}
		if len(t.Shape) == 0 || len(t.Shape) > MaxDims {
			return nil, fmt.Errorf("tensor %q: %d dims outside [1, %d]", t.Name, len(t.Shape), MaxDims)
		}
		size, ok := t.DType.ByteSize(t.Shape)
		if !ok || size != len(t.Data) {
			return nil, fmt.Errorf("tensor %q: %d data bytes do not match %s%v", t.Name, len(t.Data), t.DType, t.Shape)
		}
		descSize += 2 + len(t.Name) + 2 + 4*len(t.Shape) + 8
		dataSize += size
	}

	dataOffset := HeaderSize + descSize
	total := dataOffset + dataSize
	if uint64(total) > math.MaxUint32 {
		return nil, fmt.Errorf("encoded model is %d bytes, exceeds 4GiB", total)
	}

	buf := make([]byte, total)
	le := binary.LittleEndian
	copy(buf[0:4], Magic)
	le.PutUint16(buf[4:], Version)
	le.PutUint16(buf[6:], 0)
	le.PutUint32(buf[8:], uint32(w.Len()))
	le.PutUint32(buf[12:], uint32(total))
	le.PutUint32(buf[16:], w.EOS)
	le.PutUint32(buf[20:], w.MaxNewTokens)
	le.PutUint32(buf[24:], uint32(dataOffset))

	off := HeaderSize
	dataOff := 0
	for _, t := range w.Tensors() {
		le.PutUint16(buf[off:], uint16(len(t.Name)))
		off += 2
		off += copy(buf[off:], t.Name)
		buf[off] = byte(t.DType)
		buf[off+1] = byte(len(t.Shape))
		off += 2
		for _, d := range t.Shape {
			le.PutUint32(buf[off:], uint32(d))
			off += 4
		}
		le.PutUint32(buf[off:], uint32(dataOff))
		le.PutUint32(buf[off+4:], uint32(len(t.Data)))
		off += 8

		copy(buf[dataOffset+dataOff:], t.Data)
		dataOff += len(t.Data)
	}

	return buf, nil
}
