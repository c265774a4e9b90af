package recognition

import (
	"fmt"
	"image"
	"strings"
)

// Pose is a coarse head orientation label.
type Pose string

const (
	PoseFront   Pose = "front"
	PoseLeft    Pose = "left"
	PoseRight   Pose = "right"
	PoseUp      Pose = "up"
	PoseDown    Pose = "down"
	PoseUnknown Pose = "unknown"
)

// Thresholds for the box heuristic and for angle-based classification.
const (
	wideRatio   = 1.2
	narrowRatio = 0.8
	tallFactor  = 1.3
	shortFactor = 0.7

	yawLimit   = 15.0
	pitchLimit = 15.0
)

var requiredPoses = []Pose{PoseFront, PoseLeft, PoseRight, PoseUp, PoseDown}

// RequiredPoses returns the five labels an identity is enrolled under.
func RequiredPoses() []Pose {
	out := make([]Pose, len(requiredPoses))
	copy(out, requiredPoses)
	return out
}

// ParsePose validates a pose label.
func ParsePose(s string) (Pose, error) {
	p := Pose(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range requiredPoses {
		if p == known {
			return p, nil
		}
	}
	return PoseUnknown, fmt.Errorf("unknown pose %q", s)
}

// ClassifyPose labels a face from its bounding-box aspect ratio.
// The rules are checked in order; the first that holds wins. The ratio
// rules catch every box the up and down rules would, so only front,
// left and right come out of a box; up and down need ClassifyAngles or
// a caller-supplied label.
func ClassifyPose(box image.Rectangle) Pose {
	w, h := float64(box.Dx()), float64(box.Dy())
	if w <= 0 || h <= 0 {
		return PoseUnknown
	}

	ratio := w / h
	switch {
	case ratio > wideRatio:
		return PoseLeft
	case ratio < narrowRatio:
		return PoseRight
	case h > tallFactor*w:
		return PoseUp
	case h < shortFactor*w:
		return PoseDown
	default:
		return PoseFront
	}
}

// ClassifyAngles labels a face from yaw and pitch in degrees. Yaw is
// checked before pitch.
func ClassifyAngles(yaw, pitch float64) Pose {
	switch {
	case yaw > yawLimit:
		return PoseLeft
	case yaw < -yawLimit:
		return PoseRight
	case pitch > pitchLimit:
		return PoseUp
	case pitch < -pitchLimit:
		return PoseDown
	default:
		return PoseFront
	}
}
