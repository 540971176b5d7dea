package cache

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/ir"
)

// ClearMode selects which slice of a cached entry's payload Clear drops,
// per spec.md section 4.G's four clear granularities.
type ClearMode int

const (
	// ClearAll evicts every entry outright.
	ClearAll ClearMode = iota
	// ClearCompiledKernelsOnly drops the backend artifact but keeps the
	// retained IR, so the entry stays resident; the next GetOrBuild for it
	// runs the caller's build again (the retained IR is not reused).
	ClearCompiledKernelsOnly
	// ClearIRNodesOnly drops the retained ir.Module, keeping the already
	// lowered CompiledKernel usable, freeing only the IR arena memory.
	ClearIRNodesOnly
	// ClearDebugInfoOnly drops the emitted text (CompiledKernel.Bytes) from
	// every cached kernel, whatever DebugSymbols setting it was built with,
	// keeping every other field and the retained IR.
	ClearDebugInfoOnly
)

// BuildFunc lowers the kernel identified by a Fingerprint. It returns the
// CompiledKernel, the source ir.Module retained in the entry until a
// ClearIRNodesOnly, and an error if lowering failed.
type BuildFunc func() (*backend.CompiledKernel, *ir.Module, error)

type entry struct {
	mu      sync.RWMutex
	kernel  *backend.CompiledKernel
	mod     *ir.Module
}

// Cache is the process-wide Compile Cache: a fingerprint-keyed map of
// build results, with at-most-one-builder-in-flight-per-fingerprint
// enforced by golang.org/x/sync/singleflight, exactly as spec.md section
// 4.G requires ("exactly one builder executes for a given fingerprint;
// concurrent callers for the same fp wait on that one build").
type Cache struct {
	group singleflight.Group

	mu       sync.RWMutex
	entries  map[string]*entry
	disabled bool
}

// New constructs an enabled, empty Compile Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// SetDisabled toggles the cache's configuration-controlled bypass (spec.md
// section 4.G: "Cache may be disabled by configuration"). While disabled,
// GetOrBuild always invokes build and never stores the result.
func (c *Cache) SetDisabled(disabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = disabled
}

// GetOrBuild returns the cached CompiledKernel for fp if present; otherwise
// it runs build, and if the build fails the failure is returned to every
// waiter on fp and nothing is stored, per spec.md section 4.G: "If the
// builder fails, the failure is propagated to all waiters and the entry is
// removed."
func (c *Cache) GetOrBuild(fp Fingerprint, build BuildFunc) (*backend.CompiledKernel, error) {
	c.mu.RLock()
	disabled := c.disabled
	c.mu.RUnlock()

	if disabled {
		kernel, _, err := build()
		return kernel, err
	}

	key := fp.String()

	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		e.mu.RLock()
		defer e.mu.RUnlock()
		if e.kernel != nil {
			return e.kernel, nil
		}
	} else {
		c.mu.RUnlock()
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		kernel, mod, err := build()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = &entry{kernel: kernel, mod: mod}
		c.mu.Unlock()
		return kernel, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*backend.CompiledKernel), nil
}

// Lookup returns the cached kernel for fp without triggering a build, for
// callers (e.g. the Kernel Handle state machine) that need to distinguish
// a cache hit from "not yet built."
func (c *Cache) Lookup(fp Fingerprint) (*backend.CompiledKernel, bool) {
	c.mu.RLock()
	e, ok := c.entries[fp.String()]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.kernel, e.kernel != nil
}

// Evict removes fp's entry immediately, regardless of mode; used when a
// Kernel Handle transitions Failed -> Evicted.
func (c *Cache) Evict(fp Fingerprint) {
	c.mu.Lock()
	delete(c.entries, fp.String())
	c.mu.Unlock()
}

// Clear applies mode across every cached entry, per spec.md section 4.G's
// four granularities.
func (c *Cache) Clear(mode ClearMode) {
	if mode == ClearAll {
		c.mu.Lock()
		c.entries = make(map[string]*entry)
		c.mu.Unlock()
		return
	}

	c.mu.RLock()
	snapshot := make([]*entry, 0, len(c.entries))
	keys := make([]string, 0, len(c.entries))
	for k, e := range c.entries {
		snapshot = append(snapshot, e)
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	for i, e := range snapshot {
		e.mu.Lock()
		switch mode {
		case ClearCompiledKernelsOnly:
			e.kernel = nil
		case ClearIRNodesOnly:
			e.mod = nil
		case ClearDebugInfoOnly:
			if e.kernel != nil {
				stripped := *e.kernel
				stripped.Bytes = nil
				e.kernel = &stripped
			}
		}
		empty := e.kernel == nil && e.mod == nil
		e.mu.Unlock()
		if empty {
			c.mu.Lock()
			delete(c.entries, keys[i])
			c.mu.Unlock()
		}
	}
}

// Len reports the number of resident entries, for diagnostics (kerneldump).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
