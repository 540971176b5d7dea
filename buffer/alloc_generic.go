//go:build !linux

package buffer

import "github.com/accelcore/kernelrt/kernelerr"

// hostAlignment is the alignment AllocateHost guarantees on platforms
// without an mmap-based allocator.
const hostAlignment = 64

// AllocateHost allocates n bytes for the CPU-emulator accelerator, aligned
// to hostAlignment by over-allocating and slicing. There is nothing to
// release explicitly: the slice is reclaimed by the garbage collector.
func AllocateHost(accel string, n int64) (*Buffer, error) {
	if n <= 0 {
		return nil, &kernelerr.OutOfMemoryError{Requested: n, Detail: "length must be positive"}
	}
	raw := make([]byte, n+hostAlignment)
	offset := int64(0)
	if rem := uintptrMod(raw, hostAlignment); rem != 0 {
		offset = hostAlignment - rem
	}
	return New(accel, raw[offset:offset+n], hostAlignment, nil), nil
}
