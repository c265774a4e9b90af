// Package liveness decides whether the face in front of the camera is a
// live person by accumulating landmark evidence across frames of a
// session. Each Detector looks for one action (blink, smile, head
// movement) over the buffered samples and a Policy combines what has
// been seen so far.
package liveness

import (
	"math"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/landmark"
)

// Action identifies a liveness gesture.
type Action string

const (
	ActionBlink        Action = "blink"
	ActionSmile        Action = "smile"
	ActionHeadMovement Action = "head_movement"
)

// Defaults for the built-in detectors.
const (
	DefaultBlinkThreshold     = 0.25
	DefaultSmileRatio         = 3.0
	DefaultMovementThreshold  = 6.0
	DefaultMovementMinSamples = 5
)

// FrameSample is one accepted frame's landmarks and capture time.
type FrameSample struct {
	At        time.Time
	Landmarks landmark.Set
}

// Outcome is the result of running one detector over a sample buffer.
// Evaluated is false when the landmark layout lacks the points the
// detector needs, in which case Detected is always false.
type Outcome struct {
	Action    Action
	Detected  bool
	Evaluated bool
}

// Detector looks for a single action in a buffer of samples.
type Detector interface {
	Name() Action
	Detect(samples []FrameSample) Outcome
}

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2|p0-p3|) for a
// six-point eye contour. ok is false for a malformed eye.
func EyeAspectRatio(eye []landmark.Point) (float64, bool) {
	if len(eye) != 6 {
		return 0, false
	}
	a := landmark.Distance(eye[1], eye[5])
	b := landmark.Distance(eye[2], eye[4])
	c := landmark.Distance(eye[0], eye[3])
	if c == 0 {
		return 0, false
	}
	return (a + b) / (2 * c), true
}

// MouthRatio returns width/height of the outer lip contour, using
// points 0-6 for width and 3-9 for height. A closed mouth has ratio 0.
func MouthRatio(mouth []landmark.Point) (float64, bool) {
	if len(mouth) < 10 {
		return 0, false
	}
	width := landmark.Distance(mouth[0], mouth[6])
	height := landmark.Distance(mouth[3], mouth[9])
	if height == 0 {
		return 0, true
	}
	return width / height, true
}

// BlinkDetector reports a blink when the mean EAR of both eyes drops
// below Threshold on any buffered frame.
type BlinkDetector struct {
	Threshold float64
}

// NewBlinkDetector returns a blink detector, using the default for threshold <= 0.
func NewBlinkDetector(threshold float64) *BlinkDetector {
	if threshold <= 0 {
		threshold = DefaultBlinkThreshold
	}
	return &BlinkDetector{Threshold: threshold}
}

func (d *BlinkDetector) Name() Action { return ActionBlink }

func (d *BlinkDetector) Detect(samples []FrameSample) Outcome {
	out := Outcome{Action: ActionBlink}
	for _, s := range samples {
		left, lok := EyeAspectRatio(s.Landmarks.Region(landmark.RegionLeftEye))
		right, rok := EyeAspectRatio(s.Landmarks.Region(landmark.RegionRightEye))
		if !lok || !rok {
			continue
		}
		out.Evaluated = true
		if (left+right)/2 < d.Threshold {
			out.Detected = true
			return out
		}
	}
	return out
}

// SmileDetector reports a smile when the mouth width/height ratio
// exceeds MinRatio on any buffered frame.
type SmileDetector struct {
	MinRatio float64
}

// NewSmileDetector returns a smile detector, using the default for ratio <= 0.
func NewSmileDetector(ratio float64) *SmileDetector {
	if ratio <= 0 {
		ratio = DefaultSmileRatio
	}
	return &SmileDetector{MinRatio: ratio}
}

func (d *SmileDetector) Name() Action { return ActionSmile }

func (d *SmileDetector) Detect(samples []FrameSample) Outcome {
	out := Outcome{Action: ActionSmile}
	for _, s := range samples {
		ratio, ok := MouthRatio(s.Landmarks.Region(landmark.RegionMouth))
		if !ok {
			continue
		}
		out.Evaluated = true
		if ratio > d.MinRatio {
			out.Detected = true
			return out
		}
	}
	return out
}

// HeadMovementDetector tracks two per-frame proxies, the horizontal
// offset of the nose tip from the outer-eye midpoint (yaw) and the
// angle of the line between eye centres in degrees (roll), and reports
// movement when either changes by more than Threshold between
// consecutive frames.
type HeadMovementDetector struct {
	Threshold  float64
	MinSamples int
}

// NewHeadMovementDetector returns a movement detector with defaults for
// non-positive arguments.
func NewHeadMovementDetector(threshold float64, minSamples int) *HeadMovementDetector {
	if threshold <= 0 {
		threshold = DefaultMovementThreshold
	}
	if minSamples <= 0 {
		minSamples = DefaultMovementMinSamples
	}
	return &HeadMovementDetector{Threshold: threshold, MinSamples: minSamples}
}

func (d *HeadMovementDetector) Name() Action { return ActionHeadMovement }

func (d *HeadMovementDetector) Detect(samples []FrameSample) Outcome {
	out := Outcome{Action: ActionHeadMovement}

	type proxy struct{ yaw, roll float64 }
	proxies := make([]proxy, 0, len(samples))
	for _, s := range samples {
		yaw, roll, ok := headProxies(s.Landmarks)
		if !ok {
			continue
		}
		proxies = append(proxies, proxy{yaw, roll})
	}
	if len(proxies) == 0 {
		return out
	}
	out.Evaluated = true
	if len(proxies) < d.MinSamples {
		return out
	}

	for i := 1; i < len(proxies); i++ {
		dy := math.Abs(proxies[i].yaw - proxies[i-1].yaw)
		dr := math.Abs(proxies[i].roll - proxies[i-1].roll)
		if dy > d.Threshold || dr > d.Threshold {
			out.Detected = true
			break
		}
	}
	return out
}

func headProxies(set landmark.Set) (yaw, roll float64, ok bool) {
	nose, nok := set.Anchor(landmark.AnchorNoseTip)
	lo, lok := set.Anchor(landmark.AnchorLeftEyeOuter)
	ro, rok := set.Anchor(landmark.AnchorRightEyeOuter)
	leftEye := set.Region(landmark.RegionLeftEye)
	rightEye := set.Region(landmark.RegionRightEye)
	if !nok || !lok || !rok || len(leftEye) == 0 || len(rightEye) == 0 {
		return 0, 0, false
	}

	yaw = nose.X - (lo.X+ro.X)/2

	lc, rc := landmark.Centroid(leftEye), landmark.Centroid(rightEye)
	roll = math.Atan2(rc.Y-lc.Y, rc.X-lc.X) * 180 / math.Pi
	return yaw, roll, true
}
