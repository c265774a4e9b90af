package liveness

import (
	"math"
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/landmark"
)

func TestEyeAspectRatio(t *testing.T) {
	tests := []struct {
		name     string
		ear      float64
		expected float64
	}{
		{"open", openEAR, 0.30},
		{"closed", closedEAR, 0.20},
		{"threshold", 0.25, 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := face68(tt.ear, neutralMouth, 0, 0)
			got, ok := EyeAspectRatio(set.Region(landmark.RegionLeftEye))
			if !ok {
				t.Fatal("expected valid eye")
			}
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("expected EAR %f, got %f", tt.expected, got)
			}
		})
	}

	if _, ok := EyeAspectRatio(make([]landmark.Point, 6)); ok {
		t.Error("degenerate eye should not be measurable")
	}
	if _, ok := EyeAspectRatio(make([]landmark.Point, 2)); ok {
		t.Error("two-point eye should not be measurable")
	}
}

func TestMouthRatio_ZeroHeight(t *testing.T) {
	set := face68(openEAR, 0, 0, 0)
	ratio, ok := MouthRatio(set.Region(landmark.RegionMouth))
	if !ok || ratio != 0 {
		t.Errorf("expected ratio 0 for closed mouth, got %f (ok=%v)", ratio, ok)
	}
}

func TestBlinkDetector(t *testing.T) {
	d := NewBlinkDetector(0)

	tests := []struct {
		name     string
		samples  []FrameSample
		detected bool
	}{
		{"open eyes", samplesOf(neutral(), neutral(), neutral()), false},
		{"blink on any frame", samplesOf(neutral(), blink(), neutral()), true},
		{"exactly at threshold", samplesOf(face68(0.25, neutralMouth, 0, 0)), false},
		{"empty buffer", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := d.Detect(tt.samples)
			if out.Action != ActionBlink {
				t.Errorf("expected action blink, got %s", out.Action)
			}
			if out.Detected != tt.detected {
				t.Errorf("expected detected=%v, got %v", tt.detected, out.Detected)
			}
		})
	}
}

func TestSmileDetector(t *testing.T) {
	d := NewSmileDetector(0)

	tests := []struct {
		name     string
		samples  []FrameSample
		detected bool
	}{
		{"neutral", samplesOf(neutral(), neutral()), false},
		{"smile", samplesOf(neutral(), smile()), true},
		{"exactly 3.0", samplesOf(face68(openEAR, 3.0, 0, 0)), false},
		{"closed mouth", samplesOf(face68(openEAR, 0, 0, 0)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if out := d.Detect(tt.samples); out.Detected != tt.detected {
				t.Errorf("expected detected=%v, got %v", tt.detected, out.Detected)
			}
		})
	}
}

func TestHeadMovementDetector(t *testing.T) {
	d := NewHeadMovementDetector(0, 0)

	still := func(n int) []landmark.Set {
		out := make([]landmark.Set, n)
		for i := range out {
			out[i] = neutral()
		}
		return out
	}

	turned := still(5)
	turned[3] = face68(openEAR, neutralMouth, 10, 0)

	tilted := still(5)
	tilted[4] = face68(openEAR, neutralMouth, 0, 10)

	drifting := make([]landmark.Set, 6)
	for i := range drifting {
		drifting[i] = face68(openEAR, neutralMouth, float64(i)*5, 0)
	}

	tests := []struct {
		name     string
		sets     []landmark.Set
		detected bool
	}{
		{"static", still(6), false},
		{"yaw jump", turned, true},
		{"roll jump", tilted, true},
		{"slow drift below threshold", drifting, false},
		{"too few frames", turned[:3], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := d.Detect(samplesOf(tt.sets...))
			if !out.Evaluated {
				t.Fatal("expected evaluation on 68-point layout")
			}
			if out.Detected != tt.detected {
				t.Errorf("expected detected=%v, got %v", tt.detected, out.Detected)
			}
		})
	}
}

func TestDetectors_FivePointLayout(t *testing.T) {
	samples := samplesOf(fivePoint(), fivePoint(), fivePoint(), fivePoint(), fivePoint())

	for _, d := range []Detector{NewBlinkDetector(0), NewSmileDetector(0)} {
		out := d.Detect(samples)
		if out.Evaluated || out.Detected {
			t.Errorf("%s: expected unevaluated outcome on 5-point layout, got %+v", d.Name(), out)
		}
	}

	out := NewHeadMovementDetector(0, 0).Detect(samples)
	if !out.Evaluated {
		t.Error("head movement should be measurable from 5-point landmarks")
	}
	if out.Detected {
		t.Error("static 5-point frames should not register movement")
	}
}

func TestDetectors_ZeroSet(t *testing.T) {
	samples := []FrameSample{{}}
	for _, d := range []Detector{NewBlinkDetector(0), NewSmileDetector(0), NewHeadMovementDetector(0, 0)} {
		if out := d.Detect(samples); out.Evaluated {
			t.Errorf("%s: zero landmark set should not be evaluated", d.Name())
		}
	}
}

func BenchmarkBlinkDetector(b *testing.B) {
	sets := make([]landmark.Set, DefaultMaxFrames)
	for i := range sets {
		sets[i] = neutral()
	}
	samples := samplesOf(sets...)
	d := NewBlinkDetector(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Detect(samples)
	}
}
