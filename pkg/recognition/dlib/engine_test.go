package dlib

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/landmark"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

func TestNew_MissingModels(t *testing.T) {
	_, err := New(t.TempDir(), false)
	if !errors.Is(err, recognition.ErrModelNotLoaded) {
		t.Errorf("expected ErrModelNotLoaded, got %v", err)
	}
}

func TestJPEGBytes(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))

	raw := []byte{0xff, 0xd8, 0xff}
	got, err := jpegBytes(&imaging.Frame{Raw: raw, Format: "jpeg", Image: img})
	if err != nil {
		t.Fatalf("jpegBytes failed: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("jpeg input should be passed through")
	}

	got, err = jpegBytes(&imaging.Frame{Raw: []byte("png"), Format: "png", Image: img})
	if err != nil {
		t.Fatalf("jpegBytes failed: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(got)); err != nil {
		t.Errorf("re-encoded bytes are not JPEG: %v", err)
	}
}

func TestClosedEngine(t *testing.T) {
	e := &Engine{}
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	if _, err := e.Detect(&imaging.Frame{Format: "png", Image: img}); !errors.Is(err, recognition.ErrModelNotLoaded) {
		t.Errorf("expected ErrModelNotLoaded, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close on empty engine: %v", err)
	}
}

func TestLayout(t *testing.T) {
	e := &Engine{}
	if e.Layout() != landmark.Dlib5 {
		t.Errorf("expected dlib5 layout, got %s", e.Layout().Name)
	}
}
