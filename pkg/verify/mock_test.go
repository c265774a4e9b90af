package verify

import (
	"image"
	"sync"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// MockEngine implements recognition.Engine for testing
type MockEngine struct {
	DetectFunc func(frame *imaging.Frame) ([]recognition.DetectedFace, error)
}

func (m *MockEngine) Detect(frame *imaging.Frame) ([]recognition.DetectedFace, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(frame)
	}
	return nil, nil
}

func (m *MockEngine) Close() error { return nil }

// scriptedEngine returns one scripted response per call, repeating the
// last one when the script runs out.
func scriptedEngine(script ...[]recognition.DetectedFace) *MockEngine {
	var (
		mu sync.Mutex
		i  int
	)
	return &MockEngine{
		DetectFunc: func(frame *imaging.Frame) ([]recognition.DetectedFace, error) {
			mu.Lock()
			defer mu.Unlock()
			faces := script[i]
			if i < len(script)-1 {
				i++
			}
			return faces, nil
		},
	}
}

// MockRecorder implements Recorder for testing
type MockRecorder struct {
	mu        sync.Mutex
	Frames    []Status
	Codes     []ErrorCode
	Distances []float64
}

func (m *MockRecorder) FrameProcessed(status Status, code ErrorCode, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = append(m.Frames, status)
	m.Codes = append(m.Codes, code)
}

func (m *MockRecorder) ObserveMatchDistance(d float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Distances = append(m.Distances, d)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	openEye   = 5 // EAR 0.33
	closedEye = 2 // EAR 0.13
)

// shapes68 builds iBUG-68 points with the given eye opening.
func shapes68(eyeHeight int) []image.Point {
	pts := make([]image.Point, 68)
	for i := range pts {
		pts[i] = image.Pt(50, 50)
	}
	eye := func(start, ox, oy int) {
		pts[start+0] = image.Pt(ox, oy)
		pts[start+1] = image.Pt(ox+10, oy-eyeHeight)
		pts[start+2] = image.Pt(ox+20, oy-eyeHeight)
		pts[start+3] = image.Pt(ox+30, oy)
		pts[start+4] = image.Pt(ox+20, oy+eyeHeight)
		pts[start+5] = image.Pt(ox+10, oy+eyeHeight)
	}
	eye(36, 10, 30)
	eye(42, 60, 30)

	// mouth 60 wide, 30 high: ratio 2
	pts[48] = image.Pt(20, 80)
	pts[54] = image.Pt(80, 80)
	pts[51] = image.Pt(50, 65)
	pts[57] = image.Pt(50, 95)
	return pts
}

func face(eyeHeight int, desc ...float32) []recognition.DetectedFace {
	return []recognition.DetectedFace{{
		Box:        image.Rect(0, 0, 100, 100),
		Shapes:     shapes68(eyeHeight),
		Descriptor: desc,
	}}
}

// smileFace is face with the mouth widened to 70x20: ratio 3.5.
func smileFace(desc ...float32) []recognition.DetectedFace {
	faces := face(openEye, desc...)
	pts := faces[0].Shapes
	pts[48] = image.Pt(15, 80)
	pts[54] = image.Pt(85, 80)
	pts[51] = image.Pt(50, 70)
	pts[57] = image.Pt(50, 90)
	return faces
}
