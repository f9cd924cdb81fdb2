//go:build !wasip1

package guest

import "math"

// virtualBase is the first address handed out outside wasm. Low addresses
// stay unused so a zero pointer is never valid.
const virtualBase = 0x1000

// address hands out 8-byte aligned virtual addresses from a bump cursor.
// Freed ranges are not reused.
func (a *Arena) address(buf []byte) uint32 {
	if a.next == 0 {
		a.next = virtualBase
	}
	size := (uint64(len(buf)) + 7) &^ 7
	if uint64(a.next)+size > math.MaxUint32 {
		return 0
	}
	addr := a.next
	a.next += uint32(size)
	return addr
}
