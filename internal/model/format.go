package model

import (
	"encoding/binary"
	"unicode/utf8"
)

// WMDL layout, all integers little-endian:
//
//	header (HeaderSize bytes)
//	  magic [4]byte "WMDL" | version u16 | flags u16 | tensor_count u32 |
//	  total_len u32 | eos_token u32 | max_new u32 | data_offset u32 | reserved u32
//	descriptors (tensor_count entries)
//	  name_len u16 | name | dtype u8 | ndim u8 | dims [ndim]u32 | offset u32 | length u32
//	data region
//	  tensor bytes; descriptor offsets are relative to data_offset
const (
	Magic      = "WMDL"
	Version    = 1
	HeaderSize = 32

	MaxDims    = 4
	MaxNameLen = 255

	// minDescriptorSize is a descriptor with a 1-byte name and one dim.
	minDescriptorSize = 2 + 1 + 1 + 1 + 4 + 4 + 4
)

// Header is the fixed-size prefix of a WMDL buffer.
type Header struct {
	Version      uint16
	Flags        uint16
	TensorCount  uint32
	TotalLen     uint32
	EOS          uint32
	MaxNewTokens uint32
	DataOffset   uint32
}

// PeekHeader validates and returns the header without decoding tensors.
func PeekHeader(buf []byte) (Header, error) {
	if len(buf) == 0 {
		return Header{}, &LoadError{Kind: ErrEmpty}
	}
	if len(buf) < HeaderSize {
		return Header{}, malformed(0, "buffer is %d bytes, header needs %d", len(buf), HeaderSize)
	}
	if string(buf[0:4]) != Magic {
		return Header{}, unsupported(0, "bad magic %q", buf[0:4])
	}

	le := binary.LittleEndian
	h := Header{
		Version:      le.Uint16(buf[4:]),
		Flags:        le.Uint16(buf[6:]),
		TensorCount:  le.Uint32(buf[8:]),
		TotalLen:     le.Uint32(buf[12:]),
		EOS:          le.Uint32(buf[16:]),
		MaxNewTokens: le.Uint32(buf[20:]),
		DataOffset:   le.Uint32(buf[24:]),
	}
	if h.Version != Version {
		return Header{}, unsupported(4, "version %d, want %d", h.Version, Version)
	}
	if h.Flags != 0 {
		return Header{}, unsupported(6, "unknown flags %#x", h.Flags)
	}
	if le.Uint32(buf[28:]) != 0 {
		return Header{}, malformed(28, "reserved field is not zero")
	}
	if uint64(h.TotalLen) != uint64(len(buf)) {
		return Header{}, malformed(12, "declared length %d, buffer is %d bytes", h.TotalLen, len(buf))
	}
	if uint64(h.TensorCount)*minDescriptorSize > uint64(len(buf)-HeaderSize) {
		return Header{}, malformed(8, "%d tensors cannot fit in %d bytes", h.TensorCount, len(buf))
	}
	if h.DataOffset < HeaderSize || h.DataOffset > h.TotalLen {
		return Header{}, malformed(24, "data offset %d outside [%d, %d]", h.DataOffset, HeaderSize, h.TotalLen)
	}
	return h, nil
}

// Decode parses a WMDL buffer. Tensor bytes are copied, so the result does
// not alias buf. Decode never returns partial weights.
func Decode(buf []byte) (*Weights, error) {
	h, err := PeekHeader(buf)
	if err != nil {
		return nil, err
	}

	r := reader{buf: buf[:h.DataOffset], off: HeaderSize}
	data := buf[h.DataOffset:]
	tensors := make([]*Tensor, 0, h.TensorCount)
	seen := make(map[string]struct{}, h.TensorCount)

	for i := uint32(0); i < h.TensorCount; i++ {
		start := r.off
		t, off, length, err := r.descriptor()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[t.Name]; dup {
			return nil, malformed(start, "duplicate tensor %q", t.Name)
		}
		seen[t.Name] = struct{}{}

		want, ok := t.DType.ByteSize(t.Shape)
		if !ok || uint64(want) != uint64(length) {
			return nil, malformed(start, "tensor %q: shape %v as %s needs %d bytes, declared %d",
				t.Name, t.Shape, t.DType, want, length)
		}
		if uint64(off)+uint64(length) > uint64(len(data)) {
			return nil, malformed(start, "tensor %q: bytes [%d, %d) outside data region of %d bytes",
				t.Name, off, uint64(off)+uint64(length), len(data))
		}
		t.Data = make([]byte, length)
		copy(t.Data, data[off:off+length])
		tensors = append(tensors, t)
	}

	if r.off != int(h.DataOffset) {
		return nil, malformed(r.off, "descriptors end at %d, data offset is %d", r.off, h.DataOffset)
	}

	return NewWeights(h.EOS, h.MaxNewTokens, tensors...)
}

// reader walks the descriptor table.
type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, bool) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

func (r *reader) u8() (uint8, bool) {
	b, ok := r.take(1)
	if !ok {
		return 0, false
	}
	return b[0], true
}

func (r *reader) u16() (uint16, bool) {
	b, ok := r.take(2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (r *reader) u32() (uint32, bool) {
	b, ok := r.take(4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (r *reader) descriptor() (t *Tensor, off, length uint32, err error) {
	start := r.off
	truncated := func() error {
		return malformed(start, "descriptor truncated")
	}

	nameLen, ok := r.u16()
	if !ok {
		return nil, 0, 0, truncated()
	}
	if nameLen == 0 || nameLen > MaxNameLen {
		return nil, 0, 0, malformed(start, "name length %d outside [1, %d]", nameLen, MaxNameLen)
	}
	name, ok := r.take(int(nameLen))
	if !ok {
		return nil, 0, 0, truncated()
	}
	if !utf8.Valid(name) {
		return nil, 0, 0, malformed(start, "tensor name is not valid UTF-8")
	}

	dt, ok := r.u8()
	if !ok {
		return nil, 0, 0, truncated()
	}
	dtype := DType(dt)
	if !dtype.Valid() {
		return nil, 0, 0, unsupported(r.off-1, "tensor %q: unknown dtype %d", name, dt)
	}

	ndim, ok := r.u8()
	if !ok {
		return nil, 0, 0, truncated()
	}
	if ndim == 0 || ndim > MaxDims {
		return nil, 0, 0, malformed(r.off-1, "tensor %q: %d dims outside [1, %d]", name, ndim, MaxDims)
	}
	shape := make([]int, ndim)
	for i := range shape {
		d, ok := r.u32()
		if !ok {
			return nil, 0, 0, truncated()
		}
		if d == 0 || d > maxElements {
			return nil, 0, 0, malformed(r.off-4, "tensor %q: dim %d is %d", name, i, d)
		}
		shape[i] = int(d)
	}

	if off, ok = r.u32(); !ok {
		return nil, 0, 0, truncated()
	}
	if length, ok = r.u32(); !ok {
		return nil, 0, 0, truncated()
	}

	return &Tensor{Name: string(name), DType: dtype, Shape: shape}, off, length, nil
}
