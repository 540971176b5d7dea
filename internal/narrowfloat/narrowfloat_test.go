package narrowfloat

import "testing"

func TestFloat16RoundTripsExactValues(t *testing.T) {
	cases := []float32{0, 1, -1, 0.5, 2.5, 65504, -65504}
	for _, want := range cases {
		bits := Float32ToFloat16(want)
		got := Float16ToFloat32(bits)
		if got != want {
			t.Errorf("Float16 round trip of %v = %v", want, got)
		}
	}
}

func TestFloat16OverflowSaturatesToInf(t *testing.T) {
	bits := Float32ToFloat16(1e9)
	got := Float16ToFloat32(bits)
	if !IsInf32(got) {
		t.Fatalf("Float32ToFloat16(1e9) widened back to %v, want Inf", got)
	}
}

func TestBF16RoundTripIsTruncation(t *testing.T) {
	// bfloat16 keeps float32's exponent range, so round-trip through it
	// only loses mantissa bits already beyond BF16's 7 stored bits.
	want := float32(3.0)
	bits := Float32ToBF16(want)
	got := BF16ToFloat32(bits)
	if got != want {
		t.Errorf("BF16 round trip of %v = %v", want, got)
	}
}

func TestBF16PreservesNaN(t *testing.T) {
	nan := float32(nan32())
	bits := Float32ToBF16(nan)
	got := BF16ToFloat32(bits)
	if !IsNaN32(got) {
		t.Fatalf("Float32ToBF16(NaN) widened back to %v, want NaN", got)
	}
}

func TestFP8E4M3RoundTripsSmallValues(t *testing.T) {
	cases := []float32{0, 1, -1, 2, 0.5, 6, -6}
	for _, want := range cases {
		bits := Float32ToFP8E4M3(want)
		got := FP8E4M3ToFloat32(bits)
		if got != want {
			t.Errorf("FP8E4M3 round trip of %v = %v", want, got)
		}
	}
}

func TestFP8E4M3ClampsToMaxMagnitudeInsteadOfInf(t *testing.T) {
	bits := Float32ToFP8E4M3(1000)
	got := FP8E4M3ToFloat32(bits)
	if IsInf32(got) {
		t.Fatalf("Float32ToFP8E4M3(1000) produced Inf, want a clamped finite value (E4M3 has no Inf encoding)")
	}
	if got != fp8E4M3MaxVal {
		t.Fatalf("Float32ToFP8E4M3(1000) widened back to %v, want %v", got, fp8E4M3MaxVal)
	}
}

func nan32() float32 {
	var zero float32
	return zero / zero
}
