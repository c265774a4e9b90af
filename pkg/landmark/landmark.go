// Package landmark models facial landmark sets and the named regions
// the liveness detectors read from them.
//
// A Set is an ordered slice of points plus the Layout that produced it.
// Layouts map region names (eyes, mouth, nose, jaw) and single anchor
// points to indices, so detectors never hard-code a point count.
package landmark

import (
	"errors"
	"fmt"
	"math"
)

// Point is a 2-D landmark position in image pixel coordinates.
type Point struct {
	X, Y float64
}

// Region names a contiguous group of landmarks.
type Region string

const (
	RegionJaw        Region = "jaw"
	RegionLeftBrow   Region = "left_brow"
	RegionRightBrow  Region = "right_brow"
	RegionNose       Region = "nose"
	RegionLeftEye    Region = "left_eye"
	RegionRightEye   Region = "right_eye"
	RegionMouth      Region = "mouth"
	RegionInnerMouth Region = "inner_mouth"
)

// Anchor names a single landmark used by geometric heuristics.
type Anchor string

const (
	AnchorNoseTip       Anchor = "nose_tip"
	AnchorChin          Anchor = "chin"
	AnchorLeftEyeOuter  Anchor = "left_eye_outer"
	AnchorRightEyeOuter Anchor = "right_eye_outer"
	AnchorMouthLeft     Anchor = "mouth_left"
	AnchorMouthRight    Anchor = "mouth_right"
	AnchorUpperLip      Anchor = "upper_lip"
	AnchorLowerLip      Anchor = "lower_lip"
)

// Span is a half-open index range [Start, End).
type Span struct {
	Start, End int
}

// Len returns the number of indices in the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Layout describes how a fixed-cardinality landmark set is organised.
type Layout struct {
	Name    string
	Size    int
	Regions map[Region]Span
	Anchors map[Anchor]int
}

// IBUG68 is the 68-point iBUG 300-W layout produced by dlib's
// shape_predictor_68_face_landmarks model. "Left" follows image
// coordinates, so RegionLeftEye is the eye on the left of the picture.
var IBUG68 = &Layout{
	Name: "ibug68",
	Size: 68,
	Regions: map[Region]Span{
		RegionJaw:        {0, 17},
		RegionLeftBrow:   {17, 22},
		RegionRightBrow:  {22, 27},
		RegionNose:       {27, 36},
		RegionLeftEye:    {36, 42},
		RegionRightEye:   {42, 48},
		RegionMouth:      {48, 68},
		RegionInnerMouth: {60, 68},
	},
	Anchors: map[Anchor]int{
		AnchorNoseTip:       30,
		AnchorChin:          8,
		AnchorLeftEyeOuter:  36,
		AnchorRightEyeOuter: 45,
		AnchorMouthLeft:     48,
		AnchorMouthRight:    54,
		AnchorUpperLip:      51,
		AnchorLowerLip:      57,
	},
}

// Dlib5 is the 5-point layout of shape_predictor_5_face_landmarks, the
// model go-face loads by default. It carries two corners per eye and the
// base of the nose only, so eye openness and mouth shape cannot be
// measured from it.
var Dlib5 = &Layout{
	Name: "dlib5",
	Size: 5,
	Regions: map[Region]Span{
		RegionRightEye: {0, 2},
		RegionLeftEye:  {2, 4},
		RegionNose:     {4, 5},
	},
	Anchors: map[Anchor]int{
		AnchorRightEyeOuter: 0,
		AnchorLeftEyeOuter:  2,
		AnchorNoseTip:       4,
	},
}

// ErrCardinality is returned when a point count matches no known layout.
var ErrCardinality = errors.New("unsupported landmark count")

// LayoutFor returns the layout for a given point count.
func LayoutFor(n int) (*Layout, error) {
	switch n {
	case IBUG68.Size:
		return IBUG68, nil
	case Dlib5.Size:
		return Dlib5, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrCardinality, n)
}

// Set is an immutable, layout-tagged landmark set.
type Set struct {
	layout *Layout
	points []Point
}

// New builds a Set, copying points. The count must equal layout.Size.
func New(layout *Layout, points []Point) (Set, error) {
	if layout == nil {
		return Set{}, errors.New("landmark layout is nil")
	}
	if len(points) != layout.Size {
		return Set{}, fmt.Errorf("%w: layout %s wants %d points, got %d",
			ErrCardinality, layout.Name, layout.Size, len(points))
	}
	cp := make([]Point, len(points))
	copy(cp, points)
	return Set{layout: layout, points: cp}, nil
}

// FromPoints infers the layout from the point count.
func FromPoints(points []Point) (Set, error) {
	layout, err := LayoutFor(len(points))
	if err != nil {
		return Set{}, err
	}
	return New(layout, points)
}

// Layout returns the set's layout.
func (s Set) Layout() *Layout {
	return s.layout
}

// Len returns the number of points.
func (s Set) Len() int {
	return len(s.points)
}

// Point returns the i-th point.
func (s Set) Point(i int) Point {
	return s.points[i]
}

// Region returns the points of a region, or nil if the layout lacks it.
// The returned slice must not be modified.
func (s Set) Region(r Region) []Point {
	if s.layout == nil {
		return nil
	}
	span, ok := s.layout.Regions[r]
	if !ok {
		return nil
	}
	return s.points[span.Start:span.End]
}

// Anchor returns a named point and whether the layout defines it.
func (s Set) Anchor(a Anchor) (Point, bool) {
	if s.layout == nil {
		return Point{}, false
	}
	idx, ok := s.layout.Anchors[a]
	if !ok {
		return Point{}, false
	}
	return s.points[idx], true
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Centroid returns the mean of the given points.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return Point{X: c.X / n, Y: c.Y / n}
}

// RegionSize returns the number of points the layout assigns to r, or 0
// when the layout lacks it.
func (l *Layout) RegionSize(r Region) int {
	if l == nil {
		return 0
	}
	return l.Regions[r].Len()
}

// HasAnchor reports whether the layout defines a.
func (l *Layout) HasAnchor(a Anchor) bool {
	if l == nil {
		return false
	}
	_, ok := l.Anchors[a]
	return ok
}
