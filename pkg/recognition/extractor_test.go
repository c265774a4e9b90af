package recognition

import (
	"errors"
	"image"
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/landmark"
)

func testFrame() *imaging.Frame {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	return &imaging.Frame{Image: img, Gray: img, Format: "png", Luminance: 128}
}

func fivePointShapes() []image.Point {
	return []image.Point{{40, 30}, {34, 30}, {20, 30}, {26, 30}, {30, 40}}
}

func descriptor(dim int, v float32) []float32 {
	d := make([]float32, dim)
	for i := range d {
		d[i] = v
	}
	return d
}

func TestExtract_FaceCount(t *testing.T) {
	face := DetectedFace{
		Box:        image.Rect(10, 10, 50, 50),
		Shapes:     fivePointShapes(),
		Descriptor: descriptor(4, 0.5),
	}

	tests := []struct {
		name    string
		faces   []DetectedFace
		wantErr error
	}{
		{"no face", nil, ErrNoFaceDetected},
		{"one face", []DetectedFace{face}, nil},
		{"two faces", []DetectedFace{face, face}, ErrMultipleFaces},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockEngine{
				DetectFunc: func(*imaging.Frame) ([]DetectedFace, error) {
					return tt.faces, nil
				},
			}
			geom, err := NewExtractor(engine, 4).Extract(testFrame())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && geom == nil {
				t.Fatal("expected geometry")
			}
		})
	}
}

func TestExtract_Landmarks(t *testing.T) {
	engine := &MockEngine{
		DetectFunc: func(*imaging.Frame) ([]DetectedFace, error) {
			return []DetectedFace{{
				Box:        image.Rect(10, 10, 50, 50),
				Shapes:     fivePointShapes(),
				Descriptor: descriptor(4, 1),
			}}, nil
		},
	}

	geom, err := NewExtractor(engine, 4).Extract(testFrame())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if geom.Landmarks.Layout() != landmark.Dlib5 {
		t.Fatalf("expected dlib5 layout, got %v", geom.Landmarks.Layout())
	}
	nose, ok := geom.Landmarks.Anchor(landmark.AnchorNoseTip)
	if !ok || nose != (landmark.Point{X: 30, Y: 40}) {
		t.Errorf("unexpected nose tip %v", nose)
	}
	if geom.Pose() != PoseFront {
		t.Errorf("expected front pose, got %s", geom.Pose())
	}
}

func TestExtract_UnsupportedLandmarkCount(t *testing.T) {
	engine := &MockEngine{
		DetectFunc: func(*imaging.Frame) ([]DetectedFace, error) {
			return []DetectedFace{{
				Box:    image.Rect(0, 0, 10, 10),
				Shapes: []image.Point{{1, 1}, {2, 2}},
			}}, nil
		},
	}
	_, err := NewExtractor(engine, 4).Extract(testFrame())
	if !errors.Is(err, landmark.ErrCardinality) {
		t.Errorf("expected ErrCardinality, got %v", err)
	}
}

func TestExtract_EngineErrors(t *testing.T) {
	if _, err := NewExtractor(nil, 4).Extract(testFrame()); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("expected ErrModelNotLoaded, got %v", err)
	}

	boom := errors.New("dlib exploded")
	engine := &MockEngine{
		DetectFunc: func(*imaging.Frame) ([]DetectedFace, error) {
			return nil, boom
		},
	}
	if _, err := NewExtractor(engine, 4).Extract(testFrame()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped engine error, got %v", err)
	}
}

func TestEmbedding(t *testing.T) {
	ext := NewExtractor(&MockEngine{}, 4)

	geom := &Geometry{Descriptor: embedding.Vector{1, 2, 3, 4}}
	v, err := ext.Embedding(geom)
	if err != nil {
		t.Fatalf("Embedding failed: %v", err)
	}
	v[0] = 99
	if geom.Descriptor[0] != 1 {
		t.Error("Embedding should return a copy")
	}

	if _, err := ext.Embedding(&Geometry{Descriptor: embedding.Vector{1, 2}}); !errors.Is(err, embedding.ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}
}
