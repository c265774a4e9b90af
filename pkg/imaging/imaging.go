// Package imaging decodes incoming frames and computes the pixel
// statistics used to gate them: mean luminance for the lighting check
// and a sharpness/contrast quality score.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// DefaultMinLuminance is the mean grayscale level below which a frame is
// considered too dark to analyse.
const DefaultMinLuminance = 50.0

var (
	// ErrDecode is returned when the bytes are not a supported image.
	ErrDecode = errors.New("invalid image")

	// ErrInsufficientLighting is returned when mean luminance is below the floor.
	ErrInsufficientLighting = errors.New("insufficient lighting")
)

// Frame is a decoded, lighting-checked image.
type Frame struct {
	Raw       []byte
	Format    string
	Image     image.Image
	Gray      *image.Gray
	Luminance float64
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// Decode decodes raw image bytes.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: zero-sized image", ErrDecode)
	}
	return img, format, nil
}

// DecodeBase64 decodes a base64 payload, accepting an optional
// "data:image/...;base64," prefix as sent by browser capture widgets.
func DecodeBase64(s string) ([]byte, error) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}

// ToGray converts img to an 8-bit grayscale buffer anchored at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// MeanLuminance returns the mean gray level in [0, 255].
func MeanLuminance(g *image.Gray) float64 {
	mean, _ := meanStd(g)
	return mean
}

// Validator decodes frames and enforces the lighting floor.
type Validator struct {
	MinLuminance float64
}

// NewValidator returns a validator using minLuminance, or the default when <= 0.
func NewValidator(minLuminance float64) Validator {
	if minLuminance <= 0 {
		minLuminance = DefaultMinLuminance
	}
	return Validator{MinLuminance: minLuminance}
}

// Validate decodes data and rejects frames darker than the floor.
// The returned frame is populated even on ErrInsufficientLighting so the
// caller can log the measured luminance.
func (v Validator) Validate(data []byte) (*Frame, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	gray := ToGray(img)
	frame := &Frame{
		Raw:       data,
		Format:    format,
		Image:     img,
		Gray:      gray,
		Luminance: MeanLuminance(gray),
	}
	if frame.Luminance < v.MinLuminance {
		return frame, fmt.Errorf("%w: mean luminance %.1f below %.1f",
			ErrInsufficientLighting, frame.Luminance, v.MinLuminance)
	}
	return frame, nil
}
