package liveness

import (
	"errors"
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/landmark"
)

type plainDetector struct{}

func (plainDetector) Name() Action                 { return "custom" }
func (plainDetector) Detect([]FrameSample) Outcome { return Outcome{Action: "custom"} }

func TestEvaluable(t *testing.T) {
	blinkD := NewBlinkDetector(0)
	smileD := NewSmileDetector(0)
	moveD := NewHeadMovementDetector(0, 0)

	tests := []struct {
		name     string
		detector Detector
		layout   *landmark.Layout
		expected bool
	}{
		{"blink on 68", blinkD, landmark.IBUG68, true},
		{"smile on 68", smileD, landmark.IBUG68, true},
		{"movement on 68", moveD, landmark.IBUG68, true},
		{"blink on 5", blinkD, landmark.Dlib5, false},
		{"smile on 5", smileD, landmark.Dlib5, false},
		{"movement on 5", moveD, landmark.Dlib5, true},
		{"unknown detector", plainDetector{}, landmark.Dlib5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluable(tt.detector, tt.layout); got != tt.expected {
				t.Errorf("Evaluable = %v, expected %v", got, tt.expected)
			}
		})
	}
}

// Supports must agree with what Detect actually does on a frame of the
// layout, or the wiring-time check lies.
func TestSupportsMatchesDetect(t *testing.T) {
	for _, set := range []landmark.Set{fivePoint(), neutral()} {
		for _, d := range DefaultConfig().Detectors {
			out := d.Detect(samplesOf(set))
			if out.Evaluated != Evaluable(d, set.Layout()) {
				t.Errorf("%s on %s: Evaluated=%v but Evaluable=%v",
					d.Name(), set.Layout().Name, out.Evaluated, Evaluable(d, set.Layout()))
			}
		}
		move := NewHeadMovementDetector(0, 1)
		if !move.Detect(samplesOf(set)).Evaluated {
			t.Errorf("head movement should evaluate %s frames", set.Layout().Name)
		}
	}
}

func TestForLayout(t *testing.T) {
	detectors := []Detector{NewBlinkDetector(0), NewSmileDetector(0), NewHeadMovementDetector(0, 0)}

	usable, dropped := ForLayout(detectors, landmark.Dlib5)
	if len(usable) != 1 || usable[0].Name() != ActionHeadMovement {
		t.Errorf("expected only head movement usable, got %v", names(usable))
	}
	if len(dropped) != 2 {
		t.Errorf("expected blink and smile dropped, got %v", names(dropped))
	}

	usable, dropped = ForLayout(detectors, nil)
	if len(usable) != 3 || len(dropped) != 0 {
		t.Errorf("nil layout should keep everything, got %d usable %d dropped", len(usable), len(dropped))
	}
}

func TestCheckPolicy(t *testing.T) {
	move := []Detector{NewHeadMovementDetector(0, 0)}
	both := []Detector{NewBlinkDetector(0), NewSmileDetector(0)}

	tests := []struct {
		name    string
		policy  Policy
		usable  []Detector
		dropped []Detector
		wantErr bool
	}{
		{"any with movement", AnyOf(), move, both, false},
		{"all with nothing dropped", AllOf(), both, nil, false},
		{"all with dropped", AllOf(), move, both, true},
		{"at least within reach", AtLeast(2), both, nil, false},
		{"at least out of reach", AtLeast(2), move, both, true},
		{"no usable detector", AnyOf(), nil, both, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPolicy(tt.policy, tt.usable, tt.dropped)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsatisfiablePolicy) {
					t.Errorf("expected ErrUnsatisfiablePolicy, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
