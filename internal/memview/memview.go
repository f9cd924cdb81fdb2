// Package memview builds bounds-checked views over a linear memory.
//
// A view is a non-owning window described by a (pointer, element count) pair
// coming from the other side of the Wasm boundary. Views are built per call
// and must never be retained after the call returns. Constructing or
// indexing a view does not allocate.
package memview

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidBuffer is the kind of every view construction failure.
var ErrInvalidBuffer = errors.New("invalid buffer")

// Memory is a linear memory addressed by 32-bit offsets.
//
// Read must return a window into the memory itself (not a copy) so writes
// through the returned slice are visible to the other side.
// wazero's api.Memory satisfies this interface.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
}

// Error describes a rejected (pointer, count) pair.
type Error struct {
	Ptr    uint32
	Count  uint32
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid buffer (ptr=%d, count=%d): %s", e.Ptr, e.Count, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalidBuffer
}

func window(mem Memory, ptr, count, elemSize uint32) ([]byte, error) {
	if count == 0 {
		return nil, nil
	}
	if ptr == 0 {
		return nil, &Error{Ptr: ptr, Count: count, Reason: "null pointer"}
	}
	span := uint64(count) * uint64(elemSize)
	if span > math.MaxUint32 {
		return nil, &Error{Ptr: ptr, Count: count, Reason: "length overflows address space"}
	}
	if uint64(ptr)+span > uint64(mem.Size()) {
		return nil, &Error{Ptr: ptr, Count: count, Reason: "range exceeds memory size"}
	}
	buf, ok := mem.Read(ptr, uint32(span))
	if !ok {
		return nil, &Error{Ptr: ptr, Count: count, Reason: "range not readable"}
	}
	return buf, nil
}

// Bytes is a view of count bytes.
type Bytes struct {
	buf []byte
}

// NewBytes validates (ptr, count) against mem and returns a byte view.
func NewBytes(mem Memory, ptr, count uint32) (Bytes, error) {
	buf, err := window(mem, ptr, count, 1)
	if err != nil {
		return Bytes{}, err
	}
	return Bytes{buf: buf}, nil
}

// Len returns the number of bytes in the view.
func (b Bytes) Len() int { return len(b.buf) }

// Bytes returns the viewed bytes. The slice aliases linear memory.
func (b Bytes) Bytes() []byte { return b.buf }

// CopyOut copies the viewed bytes into a freshly allocated slice.
func (b Bytes) CopyOut() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// U32 is a view of count little-endian uint32 elements.
type U32 struct {
	buf []byte
}

// NewU32 validates (ptr, count) against mem and returns a uint32 view.
func NewU32(mem Memory, ptr, count uint32) (U32, error) {
	buf, err := window(mem, ptr, count, 4)
	if err != nil {
		return U32{}, err
	}
	return U32{buf: buf}, nil
}

// Len returns the number of elements in the view.
func (v U32) Len() int { return len(v.buf) / 4 }

// At reads element i.
func (v U32) At(i int) (uint32, bool) {
	if i < 0 || i >= v.Len() {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v.buf[i*4:]), true
}

// Set writes element i.
func (v U32) Set(i int, x uint32) bool {
	if i < 0 || i >= v.Len() {
		return false
	}
	binary.LittleEndian.PutUint32(v.buf[i*4:], x)
	return true
}
