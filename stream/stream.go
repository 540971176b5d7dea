package stream

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/buffer"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/kernelerr"
	"github.com/accelcore/kernelrt/view"
)

// ScopedBuffer is the handle allocate_temporary hands back: a Buffer plus
// the release that buffer.WithTemporary-style callers invoke on every
// exit path.
type ScopedBuffer struct {
	*buffer.Buffer
}

// Release disposes the underlying buffer. Idempotent, like Buffer.Dispose.
func (s ScopedBuffer) Release() { s.Buffer.Dispose() }

// Stream is a FIFO of submissions bound to one accelerator (spec.md
// section 3: "owns no kernels or buffers; references them"). Launches are
// executed as they are submitted; synchronize() joins every submission
// issued since the last synchronize/reset and reports the first error,
// via golang.org/x/sync/errgroup exactly as SPEC_FULL.md section 4.H
// calls for.
type Stream struct {
	id  uint64
	dev device.Device

	mu         sync.Mutex
	nextTicket uint64
	canceled   bool
	cancelErr  error
	group      *errgroup.Group
	tail       chan struct{} // closed when the latest submission finishes
}

var nextStreamID uint64
var streamIDMu sync.Mutex

func allocStreamID() uint64 {
	streamIDMu.Lock()
	defer streamIDMu.Unlock()
	nextStreamID++
	return nextStreamID
}

// New opens a Stream bound to dev.
func New(dev device.Device) *Stream {
	return &Stream{id: allocStreamID(), dev: dev, group: &errgroup.Group{}}
}

// ID identifies the stream for CanceledError payloads and diagnostics.
func (s *Stream) ID() uint64 { return s.id }

// Allocate allocates a buffer of n bytes on the stream's device, per
// spec.md section 4.H's `allocate(buffer)` (this runtime performs the
// allocation itself rather than accepting an already-made buffer, since
// buffer.AllocateHost is the only allocator this module carries).
func (s *Stream) Allocate(n int64) (*buffer.Buffer, error) {
	return buffer.AllocateHost(s.dev.Name, n)
}

// AllocateTemporary allocates a scoped buffer of n bytes; callers must
// call Release on every exit path, mirroring buffer.WithTemporary.
func (s *Stream) AllocateTemporary(n int64) (ScopedBuffer, error) {
	buf, err := buffer.AllocateHost(s.dev.Name, n)
	if err != nil {
		return ScopedBuffer{}, err
	}
	return ScopedBuffer{buf}, nil
}

// WithTemporary allocates n bytes, invokes fn, and releases on every exit
// path including a panic or an error returned by fn.
func (s *Stream) WithTemporary(n int64, fn func(*buffer.Buffer) error) error {
	return buffer.WithTemporary(func() (*buffer.Buffer, error) {
		return buffer.AllocateHost(s.dev.Name, n)
	}, fn)
}

// Launch validates cfg against the stream's device, marshals args, and
// enqueues execution of kernel in submission order, per spec.md section
// 4.H's five-step Launch submission. It returns immediately; failures
// inside kernel execution are surfaced by the next Synchronize call.
func (s *Stream) Launch(kernel *backend.CompiledKernel, cfg RuntimeKernelConfig, args ...Arg) (uint64, error) {
	if err := cfg.Validate(s.dev); err != nil {
		return 0, err
	}
	marshalled := marshalForCPU(args)
	return s.enqueue(func() error {
		return runGrid(s.dev, kernel, cfg.KernelConfig, marshalled)
	})
}

// CopyFromHost copies src into dst, enqueued onto s like Launch: it
// completes in submission order relative to every other Launch/
// CopyFromHost/CopyToHost/Fill call on this Stream, per spec.md section
// 4.D's "all copy/fill operations are bound to a specific Stream and
// complete in submission order on that stream." dst may be any subrange
// view (Subview), not just a whole-buffer view.
func CopyFromHost[T view.Elem](s *Stream, dst view.View[T], src []byte) (uint64, error) {
	buf, byteOffset, byteLen, err := resolveBuffer(dst)
	if err != nil {
		return 0, err
	}
	if int64(len(src)) != byteLen {
		return 0, &kernelerr.ViewBoundsError{Op: "copy_from_host", Index: byteOffset, Length: int64(len(src)), ViewLen: byteLen}
	}
	return s.enqueue(func() error {
		return buf.copyFromHost(src, byteOffset)
	})
}

// CopyToHost copies src's span into dst, enqueued onto s like Launch.
func CopyToHost[T view.Elem](s *Stream, dst []byte, src view.View[T]) (uint64, error) {
	buf, byteOffset, byteLen, err := resolveBuffer(src)
	if err != nil {
		return 0, err
	}
	if int64(len(dst)) != byteLen {
		return 0, &kernelerr.ViewBoundsError{Op: "copy_to_host", Index: byteOffset, Length: int64(len(dst)), ViewLen: byteLen}
	}
	return s.enqueue(func() error {
		return buf.copyToHost(dst, byteOffset)
	})
}

// Fill sets every byte of dst's span to value, enqueued onto s like
// Launch. dst may be any subrange view, satisfying spec.md section 4.D's
// requirement that fill/memset operate on a dst_view subrange rather than
// only ever the whole buffer.
func Fill[T view.Elem](s *Stream, dst view.View[T], value byte) (uint64, error) {
	buf, byteOffset, byteLen, err := resolveBuffer(dst)
	if err != nil {
		return 0, err
	}
	return s.enqueue(func() error {
		return buf.fillRange(value, byteOffset, byteLen)
	})
}

// resolveBuffer extracts the concrete *buffer.Buffer a view is backed by
// plus its absolute byte span, for the queued copy/fill primitives above.
// Every view this runtime issues is backed by buffer.Buffer (the sole
// allocator, buffer.AllocateHost); the type assertion only fails for a
// view.Backend some other caller fabricated directly.
func resolveBuffer[T view.Elem](v view.View[T]) (buf *buffer.Buffer, byteOffset, byteLen int64, err error) {
	backend, off, n := v.RawBackend()
	buf, ok := backend.(*buffer.Buffer)
	if !ok {
		return nil, 0, 0, &kernelerr.ConfigInvalidError{Field: "view", Detail: "view is not backed by a buffer.Buffer"}
	}
	return buf, off, n, nil
}

// enqueue is Launch/CopyFromHost/CopyToHost/Fill's shared submission
// path: reject new work on a canceled Stream, hand out the next ticket,
// and enqueue work on the current errgroup, chained behind the previous
// submission so submissions run one at a time in ticket order.
func (s *Stream) enqueue(work func() error) (uint64, error) {
	s.mu.Lock()
	if s.canceled {
		err := &kernelerr.CanceledError{StreamID: s.id, Cause: s.cancelErr}
		s.mu.Unlock()
		return 0, err
	}
	s.nextTicket++
	ticket := s.nextTicket
	group := s.group
	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.mu.Unlock()

	group.Go(func() error {
		defer close(done)
		if prev != nil {
			<-prev
		}
		return work()
	})
	return ticket, nil
}

// Synchronize waits for every submission issued since the last
// Synchronize/Reset to finish and returns the first error encountered,
// per spec.md section 5's "Stream synchronize() (waits for all
// submissions)." A non-nil result puts the stream into the canceled
// state: subsequent Launch calls fail with CanceledError until Reset.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	group := s.group
	s.group = &errgroup.Group{}
	s.mu.Unlock()

	err := group.Wait()
	if err != nil {
		s.mu.Lock()
		s.canceled = true
		s.cancelErr = err
		s.mu.Unlock()
	}
	return err
}

// Abort cancels the stream: pending submissions already enqueued run to
// completion (spec.md section 5: "In-flight launches run to completion"),
// but every subsequent Launch fails with CanceledError until Reset.
func (s *Stream) Abort(cause error) {
	s.mu.Lock()
	s.canceled = true
	s.cancelErr = cause
	s.mu.Unlock()
}

// Reset clears the canceled state, allowing new submissions.
func (s *Stream) Reset() {
	s.mu.Lock()
	s.canceled = false
	s.cancelErr = nil
	s.mu.Unlock()
}

// Canceled reports whether the stream is currently refusing new
// submissions.
func (s *Stream) Canceled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canceled
}
