//go:build linux

package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/accelcore/kernelrt/kernelerr"
)

// AllocateHost allocates n bytes for the CPU-emulator accelerator as an
// anonymous page-aligned mmap mapping, so AlignTo is exercised against a
// real page boundary instead of an incidentally-aligned Go slice. The
// returned Buffer's release function unmaps the span on Dispose.
func AllocateHost(accel string, n int64) (*Buffer, error) {
	if n <= 0 {
		return nil, &kernelerr.OutOfMemoryError{Requested: n, Detail: "length must be positive"}
	}
	data, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, &kernelerr.OutOfMemoryError{Requested: n, Detail: fmt.Sprintf("mmap: %v", err)}
	}
	release := func() {
		_ = unix.Munmap(data)
	}
	return New(accel, data, int64(unix.Getpagesize()), release), nil
}
