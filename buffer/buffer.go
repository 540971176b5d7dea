// Package buffer implements MemoryBuffer, the owning accelerator-side
// allocation that ArrayViews borrow from. Disposal is idempotent and
// invalidates every view derived from the buffer; all copy/fill
// operations are bound to a specific Stream and observed in submission
// order on that stream, following a single-mutex thread-safety
// discipline (one mutex guarding all mutable state).
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/accelcore/kernelrt/kernelerr"
)

var nextBufferID uint64

// Buffer owns a contiguous span of accelerator memory. It satisfies
// view.Backend.
type Buffer struct {
	id        uint64
	accel     string // owning accelerator identity, e.g. device.ID()
	alignment int64

	mu       sync.RWMutex
	data     []byte
	disposed bool
	release  func() // returns the backing span to its allocator (mmap/unmap, pool, ...)
}

// New wraps an already-allocated, alignment-satisfying byte span as a
// Buffer. release, if non-nil, is invoked exactly once on Dispose to
// return the span to whatever allocated it (see alloc_unix.go /
// alloc_generic.go for the host-side allocators that call this).
func New(accel string, data []byte, alignment int64, release func()) *Buffer {
	return &Buffer{
		id:        atomic.AddUint64(&nextBufferID, 1),
		accel:     accel,
		alignment: alignment,
		data:      data,
		release:   release,
	}
}

// ID identifies the buffer for error payloads and debug output.
func (b *Buffer) ID() uint64 { return b.id }

// Accelerator returns the owning accelerator identity.
func (b *Buffer) Accelerator() string { return b.accel }

// Alignment returns the element alignment guaranteed at allocation time.
func (b *Buffer) Alignment() int64 { return b.alignment }

// LenBytes returns the buffer's length in bytes.
func (b *Buffer) LenBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.data))
}

// Alive reports whether the buffer has not yet been disposed.
func (b *Buffer) Alive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.disposed
}

// Bytes returns the buffer's full backing span. Callers must not retain it
// past Dispose.
func (b *Buffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disposed {
		return nil
	}
	return b.data
}

// copyFromHost copies src into the buffer starting at byteOffset. It is
// the synchronous primitive stream.CopyFromHost enqueues onto a Stream;
// per spec.md section 4.D ("all copy/fill operations are bound to a
// specific Stream and complete in submission order on that stream") it
// is never called directly outside this package.
func (b *Buffer) copyFromHost(src []byte, byteOffset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return &kernelerr.BufferDisposedError{BufferID: b.id}
	}
	if byteOffset < 0 || byteOffset+int64(len(src)) > int64(len(b.data)) {
		return &kernelerr.ViewBoundsError{Op: "copy_from_host", Index: byteOffset, Length: int64(len(src)), ViewLen: int64(len(b.data))}
	}
	copy(b.data[byteOffset:], src)
	return nil
}

// copyToHost copies the buffer's [byteOffset, byteOffset+len(dst)) span
// into dst; the synchronous primitive stream.CopyToHost enqueues.
func (b *Buffer) copyToHost(dst []byte, byteOffset int64) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disposed {
		return &kernelerr.BufferDisposedError{BufferID: b.id}
	}
	if byteOffset < 0 || byteOffset+int64(len(dst)) > int64(len(b.data)) {
		return &kernelerr.ViewBoundsError{Op: "copy_to_host", Index: byteOffset, Length: int64(len(dst)), ViewLen: int64(len(b.data))}
	}
	copy(dst, b.data[byteOffset:])
	return nil
}

// fillRange sets the [byteOffset, byteOffset+n) span of the buffer to v;
// the synchronous primitive stream.Fill enqueues, letting a fill target
// any dst_view subrange rather than only the whole buffer.
func (b *Buffer) fillRange(v byte, byteOffset, n int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return &kernelerr.BufferDisposedError{BufferID: b.id}
	}
	if byteOffset < 0 || n < 0 || byteOffset+n > int64(len(b.data)) {
		return &kernelerr.ViewBoundsError{Op: "fill", Index: byteOffset, Length: n, ViewLen: int64(len(b.data))}
	}
	span := b.data[byteOffset : byteOffset+n]
	for i := range span {
		span[i] = v
	}
	return nil
}

// Dispose releases the buffer's device memory and invalidates every view
// derived from it. Calling Dispose a second time is a no-op, matching the
// idempotent-disposal contract in spec.md section 4.D.
func (b *Buffer) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.disposed = true
	b.data = nil
	if b.release != nil {
		b.release()
		b.release = nil
	}
}

// WithTemporary allocates a scoped buffer via alloc, invokes fn with it,
// and guarantees the buffer is disposed on every exit path including a
// panic or an error returned by fn.
func WithTemporary(alloc func() (*Buffer, error), fn func(*Buffer) error) (err error) {
	buf, err := alloc()
	if err != nil {
		return err
	}
	defer buf.Dispose()
	return fn(buf)
}
