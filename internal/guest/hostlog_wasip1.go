//go:build wasip1

package guest

import (
	"runtime"
	"unsafe"
)

//go:wasmimport host log_message
func hostLogMessage(level, ptr, length uint32)

// HostSink forwards log lines to the host's log_message import.
func HostSink(level uint32, msg []byte) {
	if len(msg) == 0 {
		return
	}
	hostLogMessage(level, uint32(uintptr(unsafe.Pointer(unsafe.SliceData(msg)))), uint32(len(msg)))
	runtime.KeepAlive(msg)
}
