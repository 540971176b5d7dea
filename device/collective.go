package device

import "github.com/accelcore/kernelrt/kernelerr"

// GroupBarrier blocks until every thread in the group reaches it.
func GroupBarrier(t *Thread) {
	t.coord.Barrier()
}

// BarrierPopCount returns, to every thread, the count of threads in the
// group for which pred was true.
func BarrierPopCount(t *Thread, pred bool) int32 {
	n, _, _ := t.coord.BarrierPredicate(pred)
	return n
}

// BarrierAnd returns, to every thread, true iff pred was true for all
// threads in the group.
func BarrierAnd(t *Thread, pred bool) bool {
	_, and, _ := t.coord.BarrierPredicate(pred)
	return and
}

// BarrierOr returns, to every thread, true iff pred was true for any
// thread in the group.
func BarrierOr(t *Thread, pred bool) bool {
	_, _, or := t.coord.BarrierPredicate(pred)
	return or
}

// WarpBarrier establishes a memory fence among the lanes of one warp. On
// the CPU emulator this is a full rendezvous, the strictest interpretation
// consistent with spec.md's "memory fence among lanes of one warp".
func WarpBarrier(t *Thread) {
	warpCollective(t.warp, t.Warp.LaneIndex, struct{}{})
}

// requireWarp panics with an IntrinsicMisuseError-carrying value when a
// warp-collective intrinsic is invoked outside a kernel (no warp bound).
// Panicking (rather than returning an error) matches the spec's framing of
// collective misuse as a contract violation best-effort-detected in
// assertions mode: callers that want it surfaced as a normal error should
// recover() at the kernel-launch boundary, which the stream package's
// launcher (stream/launcher.go) does.
func requireWarp(t *Thread) *WarpCoordinator {
	if t.warp == nil {
		panic(&kernelerr.IntrinsicMisuseError{Intrinsic: "warp-collective", Detail: "no warp bound to this thread"})
	}
	return t.warp
}
