package recognition

import (
	"github.com/MrCodeEU/facecheck/pkg/imaging"
)

type MockEngine struct {
	DetectFunc func(frame *imaging.Frame) ([]DetectedFace, error)
	CloseFunc  func() error
}

func (m *MockEngine) Detect(frame *imaging.Frame) ([]DetectedFace, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(frame)
	}
	return nil, nil
}

func (m *MockEngine) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
