// Package idx provides the 1D/2D/3D index and extent value types shared by
// the device model, array views, and launch configuration. 32-bit variants
// (Index1D, Index2D, Index3D) are used for in-kernel arithmetic; 64-bit
// variants (LongIndex1D, LongIndex2D, LongIndex3D) are used for host-side
// addressing, mirroring the CPU-core register-width split the rest of this
// codebase draws between 32-bit and 64-bit cores.
package idx

import (
	"math"

	"github.com/accelcore/kernelrt/kernelerr"
)

// Index1D is a 32-bit 1D index or extent.
type Index1D struct{ X int32 }

// Index2D is a 32-bit 2D index or extent.
type Index2D struct{ X, Y int32 }

// Index3D is a 32-bit 3D index or extent.
type Index3D struct{ X, Y, Z int32 }

// LongIndex1D is a 64-bit 1D index or extent.
type LongIndex1D struct{ X int64 }

// LongIndex2D is a 64-bit 2D index or extent.
type LongIndex2D struct{ X, Y int64 }

// LongIndex3D is a 64-bit 3D index or extent.
type LongIndex3D struct{ X, Y, Z int64 }

// Size returns the product of components, i.e. the number of elements the
// extent describes.
func (e Index1D) Size() int64 { return int64(e.X) }
func (e Index2D) Size() int64 { return int64(e.X) * int64(e.Y) }
func (e Index3D) Size() int64 { return int64(e.X) * int64(e.Y) * int64(e.Z) }

func (e LongIndex1D) Size() int64 { return e.X }
func (e LongIndex2D) Size() int64 { return e.X * e.Y }
func (e LongIndex3D) Size() int64 { return e.X * e.Y * e.Z }

// Add returns the component-wise sum.
func (a Index1D) Add(b Index1D) Index1D { return Index1D{a.X + b.X} }
func (a Index2D) Add(b Index2D) Index2D { return Index2D{a.X + b.X, a.Y + b.Y} }
func (a Index3D) Add(b Index3D) Index3D { return Index3D{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }

// Sub returns the component-wise difference.
func (a Index1D) Sub(b Index1D) Index1D { return Index1D{a.X - b.X} }
func (a Index2D) Sub(b Index2D) Index2D { return Index2D{a.X - b.X, a.Y - b.Y} }
func (a Index3D) Sub(b Index3D) Index3D { return Index3D{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }

// Mul returns the index scaled component-wise by a scalar.
func (a Index1D) Mul(s int32) Index1D { return Index1D{a.X * s} }
func (a Index2D) Mul(s int32) Index2D { return Index2D{a.X * s, a.Y * s} }
func (a Index3D) Mul(s int32) Index3D { return Index3D{a.X * s, a.Y * s, a.Z * s} }

// Equal reports component-wise equality. Lexicographic ordering is
// deliberately not provided: comparing multi-dimensional indices by "less
// than" invites bugs where callers assume a total order that does not
// correspond to any spatial relationship.
func (a Index1D) Equal(b Index1D) bool { return a.X == b.X }
func (a Index2D) Equal(b Index2D) bool { return a.X == b.X && a.Y == b.Y }
func (a Index3D) Equal(b Index3D) bool { return a.X == b.X && a.Y == b.Y && a.Z == b.Z }

// InBounds reports whether every component of a lies in [0, dim) component-wise.
func (a Index1D) InBounds(dim Index1D) bool {
	return a.X >= 0 && a.X < dim.X
}

func (a Index2D) InBounds(dim Index2D) bool {
	return a.X >= 0 && a.X < dim.X && a.Y >= 0 && a.Y < dim.Y
}

func (a Index3D) InBounds(dim Index3D) bool {
	return a.X >= 0 && a.X < dim.X && a.Y >= 0 && a.Y < dim.Y && a.Z >= 0 && a.Z < dim.Z
}

// InBoundsInclusive reports whether every component of a lies in [0, dim].
func (a Index3D) InBoundsInclusive(dim Index3D) bool {
	return a.X >= 0 && a.X <= dim.X && a.Y >= 0 && a.Y <= dim.Y && a.Z >= 0 && a.Z <= dim.Z
}

// Linearize maps a 3D point within a 3D extent to a flat i64 offset:
// linear(p,E) = ((p.Z*E.Y)+p.Y)*E.X + p.X
func Linearize(p Index3D, extent Index3D) int64 {
	return (int64(p.Z)*int64(extent.Y)+int64(p.Y))*int64(extent.X) + int64(p.X)
}

// Reconstruct is the inverse of Linearize.
func Reconstruct(linear int64, extent Index3D) Index3D {
	ex, ey := int64(extent.X), int64(extent.Y)
	x := linear % ex
	rest := linear / ex
	y := rest % ey
	z := rest / ey
	return Index3D{X: int32(x), Y: int32(y), Z: int32(z)}
}

// To32 converts a 64-bit index to its 32-bit counterpart, failing with
// kernelerr.IndexRangeError when a component does not fit in a signed
// 32-bit integer.
func (l LongIndex1D) To32() (Index1D, error) {
	x, err := clamp32("X", l.X)
	if err != nil {
		return Index1D{}, err
	}
	return Index1D{X: x}, nil
}

func (l LongIndex2D) To32() (Index2D, error) {
	x, err := clamp32("X", l.X)
	if err != nil {
		return Index2D{}, err
	}
	y, err := clamp32("Y", l.Y)
	if err != nil {
		return Index2D{}, err
	}
	return Index2D{X: x, Y: y}, nil
}

func (l LongIndex3D) To32() (Index3D, error) {
	x, err := clamp32("X", l.X)
	if err != nil {
		return Index3D{}, err
	}
	y, err := clamp32("Y", l.Y)
	if err != nil {
		return Index3D{}, err
	}
	z, err := clamp32("Z", l.Z)
	if err != nil {
		return Index3D{}, err
	}
	return Index3D{X: x, Y: y, Z: z}, nil
}

// To64 widens a 32-bit index; this direction is always exact.
func (a Index1D) To64() LongIndex1D { return LongIndex1D{X: int64(a.X)} }
func (a Index2D) To64() LongIndex2D { return LongIndex2D{X: int64(a.X), Y: int64(a.Y)} }
func (a Index3D) To64() LongIndex3D { return LongIndex3D{X: int64(a.X), Y: int64(a.Y), Z: int64(a.Z)} }

func clamp32(component string, v int64) (int32, error) {
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, &kernelerr.IndexRangeError{Component: component, Value: v, Limit: math.MaxInt32}
	}
	return int32(v), nil
}
