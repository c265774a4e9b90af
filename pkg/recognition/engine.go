// Package recognition turns a validated frame into face geometry: the
// single face region, its landmark set, the engine descriptor used as an
// embedding, and the coarse head pose.
//
// The heavy lifting is delegated to an Engine. The production engine
// wraps dlib through go-face (see the dlib subpackage); tests script
// their own.
package recognition

import (
	"errors"
	"image"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
)

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrMultipleFaces is returned when multiple faces are detected.
var ErrMultipleFaces = errors.New("multiple faces detected")

// ErrModelNotLoaded is returned when no engine is available.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// Angles are head rotation estimates in degrees. Positive yaw turns
// toward image-left, positive pitch tilts up.
type Angles struct {
	Yaw, Pitch, Roll float64
}

// DetectedFace is one face region reported by an Engine.
type DetectedFace struct {
	Box        image.Rectangle
	Shapes     []image.Point
	Descriptor []float32
	// Angles is nil when the engine does not estimate head pose.
	Angles *Angles
}

// Engine detects faces and computes their descriptors.
type Engine interface {
	Detect(frame *imaging.Frame) ([]DetectedFace, error)
	Close() error
}
