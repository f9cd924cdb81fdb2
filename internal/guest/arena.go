package guest

import (
	"slices"
)

// allocation is one live guest buffer.
type allocation struct {
	addr uint32
	buf  []byte
}

func (a allocation) end() uint64 { return uint64(a.addr) + uint64(len(a.buf)) }

// Arena tracks buffers handed out through alloc. The Go heap owns linear
// memory, so the host may only write into ranges the arena knows about,
// and Read refuses anything else. Arena implements memview.Memory.
type Arena struct {
	live []allocation // sorted by addr
	top  uint32
	next uint32 // virtual address cursor, native builds only
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Alloc reserves size zeroed bytes and returns their address with the backing
// slice. It returns 0 for a zero size or when no address can be assigned.
func (a *Arena) Alloc(size uint32) (uint32, []byte) {
	if size == 0 {
		return 0, nil
	}
	buf := make([]byte, size)
	addr := a.address(buf)
	if addr == 0 {
		return 0, nil
	}
	i, _ := slices.BinarySearchFunc(a.live, addr, func(al allocation, addr uint32) int {
		return cmpAddr(al.addr, addr)
	})
	a.live = slices.Insert(a.live, i, allocation{addr: addr, buf: buf})
	if end := addr + size; end > a.top {
		a.top = end
	}
	return addr, buf
}

// Free releases the buffer that starts at ptr. Unknown addresses are ignored.
func (a *Arena) Free(ptr uint32) bool {
	i, ok := slices.BinarySearchFunc(a.live, ptr, func(al allocation, addr uint32) int {
		return cmpAddr(al.addr, addr)
	})
	if !ok {
		return false
	}
	a.live = slices.Delete(a.live, i, i+1)
	return true
}

// Live returns the number of outstanding allocations.
func (a *Arena) Live() int {
	return len(a.live)
}

// Size returns one past the highest address ever handed out.
func (a *Arena) Size() uint32 {
	return a.top
}

// Read returns the window [offset, offset+n) when it lies inside a single
// live allocation.
func (a *Arena) Read(offset, n uint32) ([]byte, bool) {
	if n == 0 {
		return nil, offset <= a.top
	}
	// Last allocation starting at or before offset.
	i, found := slices.BinarySearchFunc(a.live, offset, func(al allocation, addr uint32) int {
		return cmpAddr(al.addr, addr)
	})
	if !found {
		i--
	}
	if i < 0 {
		return nil, false
	}
	al := a.live[i]
	if uint64(offset)+uint64(n) > al.end() {
		return nil, false
	}
	start := offset - al.addr
	return al.buf[start : start+n : start+n], true
}

func cmpAddr(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
