// Package rtcontext implements the Context (spec.md section 4.J): the
// top-level registry of Devices, the per-Context Compile Cache, and the
// Kernel Handle lifecycle, following coprocessor_manager.go's
// ticket/registry pattern for the bookkeeping shape (a mutex-guarded map
// plus a monotonic ticket-like key) adapted to a build-once/read-many
// device list instead of live workers.
package rtcontext

import (
	"log"
	"sort"
	"sync"

	"github.com/accelcore/kernelrt/backend"
	backendcpu "github.com/accelcore/kernelrt/backend/cpu"
	backendopencl "github.com/accelcore/kernelrt/backend/opencl"
	backendptx "github.com/accelcore/kernelrt/backend/ptx"
	backendspir "github.com/accelcore/kernelrt/backend/spir"
	"github.com/accelcore/kernelrt/cache"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
	"github.com/accelcore/kernelrt/kernelerr"
)

// AcceleratorObserver is notified every time a Context registers a new
// Device, per spec.md section 4.J's "Raises AcceleratorCreated events for
// observers."
type AcceleratorObserver func(device.Device)

// Context owns Devices (the CPU emulator plus any discovered GPU
// devices), one Backend per DeviceClass, a single process-wide Compile
// Cache, and the Kernel Handle registry. The device mapping is
// build-once/read-many after construction, per spec.md section 5.
type Context struct {
	properties ContextProperties
	verbose    bool

	devices  []device.Device
	backends map[device.DeviceClass]backend.Backend

	cache *cache.Cache

	mu        sync.Mutex
	observers []AcceleratorObserver
	handles   map[registryKey]*KernelHandle
}

// Option configures a Context at construction.
type Option func(*Context)

// WithProperties sets the Context's ContextProperties, applied (via
// Prepare) to every compile this Context performs.
func WithProperties(p ContextProperties) Option {
	return func(c *Context) { c.properties = p.Prepare() }
}

// WithVerbose gates log.Printf-style diagnostics, mirroring the teacher's
// ad hoc verbosity flags rather than a structured logging framework.
func WithVerbose(v bool) Option {
	return func(c *Context) { c.verbose = v }
}

// New constructs a Context. Device discovery in this environment never
// finds a GPU accelerator (there is no driver collaborator to probe; see
// DESIGN.md), so the always-present CPU emulator is the sole registered
// Device — the exact "falls back to the CPU/debug device when no
// accelerator exists" path spec.md section 4.J names.
func New(opts ...Option) *Context {
	c := &Context{
		backends: map[device.DeviceClass]backend.Backend{
			device.ClassCPU:    backendcpu.New(),
			device.ClassPTX:    backendptx.New(),
			device.ClassOpenCL: backendopencl.New(),
			device.ClassSPIR:   backendspir.New(),
		},
		cache:   cache.New(),
		handles: make(map[registryKey]*KernelHandle),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cache.SetDisabled(c.properties.DisableKernelCache)
	c.registerDevice(device.NewCPUDevice(0, 1<<30))
	return c
}

func (c *Context) registerDevice(dev device.Device) {
	c.mu.Lock()
	c.devices = append(c.devices, dev)
	observers := append([]AcceleratorObserver(nil), c.observers...)
	verbose := c.verbose
	c.mu.Unlock()

	if verbose {
		log.Printf("rtcontext: accelerator created: class=%s name=%s id=%d", dev.Class, dev.Name, dev.ID)
	}
	for _, obs := range observers {
		obs(dev)
	}
}

// Subscribe registers fn to be called with every Device this Context has
// already registered, then with every future AcceleratorCreated event.
func (c *Context) Subscribe(fn AcceleratorObserver) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	existing := append([]device.Device(nil), c.devices...)
	c.mu.Unlock()

	for _, dev := range existing {
		fn(dev)
	}
}

// Properties returns the (already-prepared) ContextProperties this
// Context compiles with.
func (c *Context) Properties() ContextProperties { return c.properties }

// Cache exposes the Context's Compile Cache, e.g. for a caller that wants
// to Clear a granularity directly or inspect Len.
func (c *Context) Cache() *cache.Cache { return c.cache }

// Backend returns the registered Backend for class, or
// AcceleratorUnavailableError if this Context never registered one
// (it always registers all four; the error path exists for forward
// compatibility with a Context variant that might not).
func (c *Context) Backend(class device.DeviceClass) (backend.Backend, error) {
	c.mu.Lock()
	b, ok := c.backends[class]
	c.mu.Unlock()
	if !ok {
		return nil, &kernelerr.AcceleratorUnavailableError{Class: class.String()}
	}
	return b, nil
}

// GetDevice returns the relativeIndex'th Device of class, 0-based in
// registration order, per spec.md section 4.J's `get_device<Class>`.
func (c *Context) GetDevice(class device.DeviceClass, relativeIndex int) (device.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, dev := range c.devices {
		if dev.Class != class {
			continue
		}
		if n == relativeIndex {
			return dev, nil
		}
		n++
	}
	return device.Device{}, &kernelerr.AcceleratorUnavailableError{Class: class.String()}
}

// GetPreferredDevice ranks non-debug devices by memory size descending,
// optionally filtered to matchingOnly, and falls back to the CPU/debug
// device when no accelerator matches, per spec.md section 4.J's
// `get_preferred_device(prefer_cpu, matching_only) -> {sorted devices}`.
func (c *Context) GetPreferredDevice(preferCPU bool, matchingOnly []device.DeviceClass) []device.Device {
	c.mu.Lock()
	all := append([]device.Device(nil), c.devices...)
	c.mu.Unlock()

	matches := func(dev device.Device) bool {
		if len(matchingOnly) == 0 {
			return true
		}
		for _, class := range matchingOnly {
			if dev.Class == class {
				return true
			}
		}
		return false
	}

	var debug, accel []device.Device
	for _, dev := range all {
		if !matches(dev) {
			continue
		}
		if dev.IsDebug {
			debug = append(debug, dev)
		} else {
			accel = append(accel, dev)
		}
	}
	sort.SliceStable(accel, func(i, j int) bool { return accel[i].MemoryBytes > accel[j].MemoryBytes })

	if preferCPU {
		return append(append([]device.Device(nil), debug...), accel...)
	}
	if len(accel) > 0 {
		return accel
	}
	return debug
}

// Load registers (or returns the already-registered) KernelHandle for
// fn, memoized by fn's code pointer together with reflect.TypeOf(fn) and
// its instantiated generic type argument (see registryKey), per
// SPEC_FULL.md section 4.J: repeated Load
// calls for the same source function return the same handle without
// re-fingerprinting from scratch every launch.
func (c *Context) Load[T any](fn KernelFunc[T]) *KernelHandle {
	key := keyFor(fn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[key]; ok {
		return h
	}
	handle := &KernelHandle{build: func() *ir.Module { return fn() }}
	c.handles[key] = handle
	return handle
}

// Compile drives h through Declared -> Fingerprinted -> Building ->
// Built|Failed against class, consulting (and populating) this
// Context's Compile Cache. A handle already Built for the same
// (class, properties) pair returns its cached program without rebuilding
// its IR module.
func (c *Context) Compile(h *KernelHandle, class device.DeviceClass) (*backend.CompiledKernel, error) {
	b, err := c.Backend(class)
	if err != nil {
		return nil, err
	}
	opts := c.properties.ToCompileOptions()

	h.mu.Lock()
	if h.state == Built && h.class == class {
		kernel := h.kernel
		h.mu.Unlock()
		return kernel, nil
	}
	mod := h.build()
	ir.Inline(mod, inlinePolicy(opts.InliningMode))
	ir.ConstProp(mod, opts.OptimizationLevel != backend.OptDebug)
	ir.DCE(mod)
	ir.CFGSimplify(mod)
	if opts.EnableVerifier {
		if verr := ir.Verify(mod); verr != nil {
			h.state = Evicted
			h.err = verr
			h.mu.Unlock()
			return nil, verr
		}
	}

	fp := cache.Compute(mod, class, opts)
	h.mod = mod
	h.class = class
	h.fingerprint = fp
	h.state = Fingerprinted
	h.mu.Unlock()

	h.mu.Lock()
	h.state = Building
	h.mu.Unlock()

	kernel, err := c.cache.GetOrBuild(fp, func() (*backend.CompiledKernel, *ir.Module, error) {
		k, buildErr := b.Compile(mod, opts)
		return k, mod, buildErr
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		// A failed build is not retried automatically: Failed steps
		// straight through to Evicted (spec.md section 5's "Failed ->
		// Evicted immediately"), observable via the returned error and
		// Err(); a later Compile call on this handle builds again.
		h.state = Evicted
		h.err = err
		return nil, err
	}
	h.state = Built
	h.kernel = kernel
	return kernel, nil
}

// inlinePolicy maps ContextProperties.inlining_mode onto the ir package's
// own InlinePolicy enum, which is narrower (it only ever has to decide
// whether a folding site's inner subview has other uses).
func inlinePolicy(mode backend.InliningMode) ir.InlinePolicy {
	switch mode {
	case backend.InliningAggressive:
		return ir.InlineAggressive
	case backend.InliningConservative:
		return ir.InlineConservative
	default:
		return ir.InlineNone
	}
}

// ClearCache clears the Compile Cache at the given granularity and
// transitions any Built/Failed handle whose fingerprint the clear
// actually evicted into the Evicted state, per spec.md section 4.J/4.G.
func (c *Context) ClearCache(mode cache.ClearMode) {
	c.cache.Clear(mode)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.handles {
		h.mu.Lock()
		if h.state == Built {
			if _, ok := c.cache.Lookup(h.fingerprint); !ok {
				h.state = Evicted
			}
		}
		h.mu.Unlock()
	}
}
