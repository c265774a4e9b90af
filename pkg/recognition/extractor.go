package recognition

import (
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/landmark"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// Geometry is everything extracted from the single face in a frame.
type Geometry struct {
	Box        image.Rectangle
	Landmarks  landmark.Set
	Descriptor embedding.Vector
	Angles     *Angles
}

// Pose classifies the face, preferring engine angles over the box heuristic.
func (g *Geometry) Pose() Pose {
	if g == nil {
		return PoseUnknown
	}
	if g.Box.Empty() {
		return PoseUnknown
	}
	if g.Angles != nil {
		return ClassifyAngles(g.Angles.Yaw, g.Angles.Pitch)
	}
	return ClassifyPose(g.Box)
}

// Extractor runs an Engine and enforces the one-face rule.
type Extractor struct {
	engine Engine
	codec  embedding.Codec
	log    *logrus.Entry
}

// NewExtractor creates an extractor producing dim-sized embeddings.
func NewExtractor(engine Engine, dim int) *Extractor {
	return &Extractor{
		engine: engine,
		codec:  embedding.NewCodec(dim),
		log:    logging.Component("recognition"),
	}
}

// Codec returns the embedding contract the extractor enforces.
func (e *Extractor) Codec() embedding.Codec {
	return e.codec
}

// Extract detects exactly one face in frame and returns its geometry.
// It returns ErrNoFaceDetected or ErrMultipleFaces otherwise.
func (e *Extractor) Extract(frame *imaging.Frame) (*Geometry, error) {
	if e.engine == nil {
		return nil, ErrModelNotLoaded
	}
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", imaging.ErrDecode)
	}

	faces, err := e.engine.Detect(frame)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	switch len(faces) {
	case 0:
		return nil, ErrNoFaceDetected
	case 1:
	default:
		e.log.Debugf("Rejected frame with %d faces", len(faces))
		return nil, ErrMultipleFaces
	}

	f := faces[0]
	geom := &Geometry{
		Box:        f.Box,
		Descriptor: embedding.Vector(f.Descriptor),
		Angles:     f.Angles,
	}

	if len(f.Shapes) > 0 {
		pts := make([]landmark.Point, len(f.Shapes))
		for i, p := range f.Shapes {
			pts[i] = landmark.Point{X: float64(p.X), Y: float64(p.Y)}
		}
		set, err := landmark.FromPoints(pts)
		if err != nil {
			return nil, fmt.Errorf("landmarks: %w", err)
		}
		geom.Landmarks = set
	}

	return geom, nil
}

// Embedding returns the face descriptor after checking it against the
// embedding contract.
func (e *Extractor) Embedding(g *Geometry) (embedding.Vector, error) {
	if err := e.codec.Check(g.Descriptor); err != nil {
		return nil, err
	}
	out := make(embedding.Vector, len(g.Descriptor))
	copy(out, g.Descriptor)
	return out, nil
}
