//go:build wasip1

package guest

import "unsafe"

// address returns the linear memory offset of buf. The Go heap does not move
// objects, and the arena keeps buf reachable until Free.
func (a *Arena) address(buf []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
}
