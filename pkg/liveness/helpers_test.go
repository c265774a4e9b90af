package liveness

import (
	"time"

	"github.com/MrCodeEU/facecheck/pkg/landmark"
)

const (
	openEAR      = 0.30
	closedEAR    = 0.20
	neutralMouth = 2.0
	smileMouth   = 3.5
)

// face68 builds an iBUG-68 landmark set whose eyes have the given EAR
// and whose outer mouth has the given width/height ratio. noseShift
// moves the nose tip horizontally and tilt raises the right eye.
func face68(ear, mouthRatio, noseShift, tilt float64) landmark.Set {
	pts := make([]landmark.Point, 68)

	eye := func(start int, ox, oy float64) {
		h := 15 * ear
		pts[start+0] = landmark.Point{X: ox, Y: oy}
		pts[start+1] = landmark.Point{X: ox + 10, Y: oy - h}
		pts[start+2] = landmark.Point{X: ox + 20, Y: oy - h}
		pts[start+3] = landmark.Point{X: ox + 30, Y: oy}
		pts[start+4] = landmark.Point{X: ox + 20, Y: oy + h}
		pts[start+5] = landmark.Point{X: ox + 10, Y: oy + h}
	}
	eye(36, 0, 0)
	eye(42, 60, -tilt)

	pts[30] = landmark.Point{X: 45 + noseShift, Y: 50}

	const width = 60.0
	height := 0.0
	if mouthRatio > 0 {
		height = width / mouthRatio
	}
	for i := 48; i < 68; i++ {
		pts[i] = landmark.Point{X: 30 + width/2, Y: 100}
	}
	pts[48] = landmark.Point{X: 30, Y: 100}
	pts[54] = landmark.Point{X: 30 + width, Y: 100}
	pts[51] = landmark.Point{X: 60, Y: 100 - height/2}
	pts[57] = landmark.Point{X: 60, Y: 100 + height/2}

	set, err := landmark.New(landmark.IBUG68, pts)
	if err != nil {
		panic(err)
	}
	return set
}

func neutral() landmark.Set { return face68(openEAR, neutralMouth, 0, 0) }
func blink() landmark.Set   { return face68(closedEAR, neutralMouth, 0, 0) }
func smile() landmark.Set   { return face68(openEAR, smileMouth, 0, 0) }

func samplesOf(sets ...landmark.Set) []FrameSample {
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	out := make([]FrameSample, len(sets))
	for i, s := range sets {
		out[i] = FrameSample{At: base.Add(time.Duration(i) * 100 * time.Millisecond), Landmarks: s}
	}
	return out
}

func fivePoint() landmark.Set {
	set, err := landmark.New(landmark.Dlib5, []landmark.Point{
		{X: 90, Y: 0}, {X: 60, Y: 0}, {X: 0, Y: 0}, {X: 30, Y: 0}, {X: 45, Y: 50},
	})
	if err != nil {
		panic(err)
	}
	return set
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type MockRecorder struct {
	Started int
	Ended   map[string]int
	Actions map[Action]int
}

func newMockRecorder() *MockRecorder {
	return &MockRecorder{Ended: map[string]int{}, Actions: map[Action]int{}}
}

func (r *MockRecorder) SessionStarted()            { r.Started++ }
func (r *MockRecorder) SessionEnded(reason string) { r.Ended[reason]++ }
func (r *MockRecorder) ActionDetected(a Action)    { r.Actions[a]++ }
