// Package dlib implements recognition.Engine on top of dlib via go-face.
//
// The model directory must contain:
//   - shape_predictor_5_face_landmarks.dat
//   - dlib_face_recognition_resnet_model_v1.dat
//   - mmod_human_face_detector.dat (optional, for CNN detection)
package dlib

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/landmark"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// Model file names expected in the model directory.
const (
	ShapePredictorModel = "shape_predictor_5_face_landmarks.dat"
	ResNetModel         = "dlib_face_recognition_resnet_model_v1.dat"
	CNNDetectorModel    = "mmod_human_face_detector.dat"
)

// Engine wraps a go-face recognizer. go-face accepts JPEG only, so other
// formats are re-encoded before detection.
type Engine struct {
	mu     sync.Mutex
	rec    *face.Recognizer
	useCNN bool
	log    *logrus.Entry
}

// New loads the dlib models from modelPath.
func New(modelPath string, useCNN bool) (*Engine, error) {
	log := logging.Component("dlib")

	required := []string{ShapePredictorModel, ResNetModel}
	if useCNN {
		required = append(required, CNNDetectorModel)
	}
	for _, name := range required {
		if _, err := os.Stat(filepath.Join(modelPath, name)); err != nil {
			return nil, fmt.Errorf("%w: %s missing from %s", recognition.ErrModelNotLoaded, name, modelPath)
		}
	}

	log.Infof("Loading face recognition models from: %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	log.Info("Face recognition models loaded successfully")
	return &Engine{rec: rec, useCNN: useCNN, log: log}, nil
}

// Layout is the landmark layout of the 5-point shape predictor, the
// only one go-face loads.
func (e *Engine) Layout() *landmark.Layout {
	return landmark.Dlib5
}

// Dimension is the length of the ResNet descriptor.
func (e *Engine) Dimension() int {
	return embedding.DefaultDim
}

// Detect implements recognition.Engine.
func (e *Engine) Detect(frame *imaging.Frame) ([]recognition.DetectedFace, error) {
	data, err := jpegBytes(frame)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec == nil {
		return nil, recognition.ErrModelNotLoaded
	}

	var faces []face.Face
	if e.useCNN {
		faces, err = e.rec.RecognizeCNN(data)
	} else {
		faces, err = e.rec.Recognize(data)
	}
	if err != nil {
		return nil, err
	}

	out := make([]recognition.DetectedFace, len(faces))
	for i, f := range faces {
		desc := make([]float32, len(f.Descriptor))
		copy(desc, f.Descriptor[:])
		out[i] = recognition.DetectedFace{
			Box:        f.Rectangle,
			Shapes:     f.Shapes,
			Descriptor: desc,
		}
	}

	e.log.Debugf("Detected %d face(s) in image", len(out))
	return out, nil
}

// Close releases the recognizer resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	return nil
}

func jpegBytes(frame *imaging.Frame) ([]byte, error) {
	if frame.Format == "jpeg" && len(frame.Raw) > 0 {
		return frame.Raw, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("re-encode %s frame: %w", frame.Format, err)
	}
	return buf.Bytes(), nil
}
