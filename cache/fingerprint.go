// Package cache implements the Compile Cache (spec.md section 4.G): a
// process-wide, fingerprint-keyed store of Compiled Kernels that
// deduplicates concurrent builds of the same kernel and lets a Context
// evict artifacts at several granularities.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/accelcore/kernelrt/backend"
	"github.com/accelcore/kernelrt/device"
	"github.com/accelcore/kernelrt/ir"
)

// Fingerprint is the 32-byte digest spec.md section 3 defines as the
// cache key: "a fingerprint hashing kernel IR, target backend, and every
// ContextProperties field that affects lowering." Two kernels with
// byte-identical IR, targeted at the same device class, under the same
// compile options, must collide; anything else must not.
type Fingerprint [32]byte

// String renders the fingerprint as the hex string singleflight.Group
// wants as a key and kerneldump prints as a short identity.
func (fp Fingerprint) String() string {
	return fmt.Sprintf("%x", [32]byte(fp))
}

// Compute hashes mod's structure, the target device class, and every
// CompileOptions field that can change lowering, per spec.md section 3's
// fingerprint definition. Two calls with equal arguments always produce
// equal fingerprints; the hash is not cryptographically hardened against
// adversarial collision, only collision-resistant against accidental
// reuse across distinct kernels.
func Compute(mod *ir.Module, class device.DeviceClass, opts backend.CompileOptions) Fingerprint {
	h := sha256.New()
	hashModule(h, mod)
	var classByte [1]byte
	classByte[0] = byte(class)
	h.Write(classByte[:])
	hashOptions(h, opts)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

func hashModule(h interface{ Write([]byte) (int, error) }, mod *ir.Module) {
	writeString(h, mod.Name)
	writeInt(h, int64(mod.NumBlocks()))
	for _, blk := range mod.Blocks() {
		writeString(h, blk.Name)
		writeInt(h, int64(len(blk.Insts)))
		for _, id := range blk.Insts {
			hashValue(h, mod.Value(id))
		}
	}
}

func hashValue(h interface{ Write([]byte) (int, error) }, v *ir.Value) {
	writeInt(h, int64(v.Op))
	writeInt(h, int64(v.Type.Kind))
	writeInt(h, v.Type.Len)
	writeInt(h, v.ImmInt)
	writeUint64(h, uint64(int64(v.ImmFloat*1e9))) // stable-enough quantization for fingerprinting
	writeInt(h, int64(len(v.Operands)))
	for _, op := range v.Operands {
		writeInt(h, int64(op))
	}
	writeInt(h, int64(len(v.Targets)))
	for _, t := range v.Targets {
		writeInt(h, int64(t))
	}
}

func hashOptions(h interface{ Write([]byte) (int, error) }, opts backend.CompileOptions) {
	writeInt(h, int64(opts.OptimizationLevel))
	writeBool(h, opts.FastMath)
	writeBool(h, opts.Force32BitFloats)
	writeInt(h, int64(opts.InliningMode))
	writeInt(h, int64(opts.DebugSymbols))
	writeBool(h, opts.EnableAssertions)
	writeBool(h, opts.EnableVerifier)
	writeInt(h, int64(opts.PTXFeatures))
	writeString(h, opts.OpenCLVersion)
}

func writeString(h interface{ Write([]byte) (int, error) }, s string) {
	writeInt(h, int64(len(s)))
	h.Write([]byte(s))
}

func writeInt(h interface{ Write([]byte) (int, error) }, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeBool(h interface{ Write([]byte) (int, error) }, v bool) {
	if v {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
}
