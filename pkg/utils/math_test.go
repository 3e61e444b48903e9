package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	norm := NormalizeL2(x)
	if math.Abs(norm-5) > 1e-9 {
		t.Errorf("norm: got %f, want 5", norm)
	}
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("normalized: got %v", x)
	}
	if got := L2Norm(x); math.Abs(got-1) > 1e-6 {
		t.Errorf("unit norm: got %f", got)
	}
}

func TestNormalizeL2_zero(t *testing.T) {
	x := []float32{0, 0, 0}
	if norm := NormalizeL2(x); norm != 0 {
		t.Errorf("zero vector norm: got %f", norm)
	}
	for _, v := range x {
		if v != 0 {
			t.Fatalf("zero vector should be unchanged, got %v", x)
		}
	}
}

func TestNormalized_doesNotModifyInput(t *testing.T) {
	in := []float32{0, 2}
	out, norm := Normalized(in)
	if in[1] != 2 {
		t.Errorf("input modified: %v", in)
	}
	if norm != 2 || out[1] != 1 {
		t.Errorf("got out=%v norm=%f", out, norm)
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite([]float32{1, -2, 0}) {
		t.Error("finite vector reported non-finite")
	}
	if IsFinite([]float32{1, float32(math.NaN())}) {
		t.Error("NaN not detected")
	}
	if IsFinite([]float32{float32(math.Inf(-1))}) {
		t.Error("Inf not detected")
	}
}

func TestDot(t *testing.T) {
	if got := Dot([]float32{1, 2, 3}, []float32{4, 5, 6}); got != 32 {
		t.Errorf("Dot = %f, want 32", got)
	}
}
