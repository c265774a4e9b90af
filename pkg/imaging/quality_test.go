package imaging

import (
	"image"
	"math"
	"testing"
)

func TestQuality_UniformIsZero(t *testing.T) {
	g := uniformGray(20, 20, 128)
	if q := Quality(g); q != 0 {
		t.Errorf("expected 0 for flat image, got %f", q)
	}
}

func TestQuality_Deterministic(t *testing.T) {
	a := checkerboard(24, 24, 40)
	b := checkerboard(24, 24, 40)
	if Quality(a) != Quality(b) {
		t.Error("identical buffers produced different scores")
	}
	if Quality(a) != Quality(a) {
		t.Error("repeated scoring of the same buffer differs")
	}
}

func TestQuality_MonotonicInSharpnessAndContrast(t *testing.T) {
	prev := -1.0
	for amp := 0; amp <= 120; amp += 5 {
		q := Quality(checkerboard(16, 16, uint8(amp)))
		if q < prev {
			t.Fatalf("score decreased at amplitude %d: %f < %f", amp, q, prev)
		}
		prev = q
	}
	if prev != 100 {
		t.Errorf("expected high-amplitude checkerboard to saturate at 100, got %f", prev)
	}
}

func TestContrast(t *testing.T) {
	g := checkerboard(8, 8, 20)
	if c := Contrast(g); math.Abs(c-20) > 1e-9 {
		t.Errorf("expected std 20, got %f", c)
	}
}

func TestSharpness(t *testing.T) {
	// Interior Laplacian of a checkerboard with amplitude a is ±8a,
	// so its variance is 64a².
	g := checkerboard(8, 8, 2)
	if s := Sharpness(g); math.Abs(s-256) > 1e-9 {
		t.Errorf("expected sharpness 256, got %f", s)
	}

	tiny := image.NewGray(image.Rect(0, 0, 2, 2))
	if s := Sharpness(tiny); s != 0 {
		t.Errorf("expected 0 for image without interior, got %f", s)
	}
}

func TestQuality_Formula(t *testing.T) {
	// amplitude 1: sharpness 64, contrast 1 -> 64/100*50 + 1/50*50 = 33
	g := checkerboard(10, 10, 1)
	if q := Quality(g); math.Abs(q-33) > 1e-9 {
		t.Errorf("expected 33, got %f", q)
	}
}
