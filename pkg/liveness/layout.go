package liveness

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/facecheck/pkg/landmark"
)

// ErrUnsatisfiablePolicy is returned when a policy can never pass with the
// detectors a landmark layout can feed.
var ErrUnsatisfiablePolicy = errors.New("liveness policy cannot be satisfied")

// LayoutAware is implemented by detectors that can tell, before any frame
// arrives, whether a landmark layout carries the points they read.
type LayoutAware interface {
	Supports(layout *landmark.Layout) bool
}

// Supports reports whether both eyes have six-point contours.
func (d *BlinkDetector) Supports(layout *landmark.Layout) bool {
	return layout.RegionSize(landmark.RegionLeftEye) == 6 &&
		layout.RegionSize(landmark.RegionRightEye) == 6
}

// Supports reports whether the layout has an outer lip contour.
func (d *SmileDetector) Supports(layout *landmark.Layout) bool {
	return layout.RegionSize(landmark.RegionMouth) >= 10
}

// Supports reports whether the yaw and roll proxies can be computed.
func (d *HeadMovementDetector) Supports(layout *landmark.Layout) bool {
	return layout.HasAnchor(landmark.AnchorNoseTip) &&
		layout.HasAnchor(landmark.AnchorLeftEyeOuter) &&
		layout.HasAnchor(landmark.AnchorRightEyeOuter) &&
		layout.RegionSize(landmark.RegionLeftEye) > 0 &&
		layout.RegionSize(landmark.RegionRightEye) > 0
}

// Evaluable reports whether d can ever evaluate frames of layout.
// Detectors that do not implement LayoutAware are assumed to.
func Evaluable(d Detector, layout *landmark.Layout) bool {
	la, ok := d.(LayoutAware)
	return !ok || la.Supports(layout)
}

// ForLayout splits detectors into those that can evaluate layout and
// those that never will. A nil layout keeps everything.
func ForLayout(detectors []Detector, layout *landmark.Layout) (usable, dropped []Detector) {
	if layout == nil {
		return detectors, nil
	}
	for _, d := range detectors {
		if Evaluable(d, layout) {
			usable = append(usable, d)
		} else {
			dropped = append(dropped, d)
		}
	}
	return usable, dropped
}

// CheckPolicy fails when policy can never pass given the usable
// detectors. dropped are detectors the operator configured but the
// layout cannot feed; "all" is unsatisfiable while any remain.
func CheckPolicy(policy Policy, usable, dropped []Detector) error {
	if len(usable) == 0 {
		return fmt.Errorf("%w: no detector can evaluate the landmark layout", ErrUnsatisfiablePolicy)
	}
	switch p := policy.(type) {
	case allOf:
		if len(dropped) > 0 {
			return fmt.Errorf("%w: %s requires %s", ErrUnsatisfiablePolicy, p, names(dropped))
		}
	case atLeast:
		if p.n > len(usable) {
			return fmt.Errorf("%w: %s with only %d usable detectors", ErrUnsatisfiablePolicy, p, len(usable))
		}
	}
	return nil
}

func names(detectors []Detector) []Action {
	out := make([]Action, len(detectors))
	for i, d := range detectors {
		out[i] = d.Name()
	}
	return out
}
