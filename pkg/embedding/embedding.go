// Package embedding defines the face embedding contract shared by the
// generator and the matcher.
//
// An embedding is a fixed-length vector of float32. On the wire and at
// rest it is Dim consecutive IEEE-754 float32 values in little-endian
// byte order. Comparison always happens on L2-normalised copies.
package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DefaultDim is the length of a dlib ResNet face descriptor.
const DefaultDim = 128

// ElementSize is the serialized size of one vector element in bytes.
const ElementSize = 4

// Vector is a raw embedding as produced by the generator.
type Vector []float32

// Unit is an L2-normalised embedding. Components are float64 so the
// distance arithmetic does not lose precision near the match threshold.
type Unit []float64

var (
	// ErrDimension is returned when a vector does not have the configured length.
	ErrDimension = errors.New("embedding has wrong dimension")

	// ErrZeroVector is returned when a vector has zero norm and cannot be normalised.
	ErrZeroVector = errors.New("embedding has zero norm")

	// ErrNotFinite is returned when a vector contains NaN or Inf.
	ErrNotFinite = errors.New("embedding contains non-finite values")

	// ErrCorruptTemplate is returned when stored bytes cannot be decoded.
	ErrCorruptTemplate = errors.New("corrupt template")
)

// Codec validates and (de)serializes vectors of one fixed dimension.
type Codec struct {
	Dim int
}

// NewCodec returns a codec for dim, falling back to DefaultDim.
func NewCodec(dim int) Codec {
	if dim <= 0 {
		dim = DefaultDim
	}
	return Codec{Dim: dim}
}

// ByteLen returns the expected serialized length.
func (c Codec) ByteLen() int {
	return c.Dim * ElementSize
}

// Check verifies the length and finiteness of v.
func (c Codec) Check(v Vector) error {
	if len(v) != c.Dim {
		return fmt.Errorf("%w: want %d, got %d", ErrDimension, c.Dim, len(v))
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNotFinite
		}
	}
	return nil
}

// Encode serializes v after checking it.
func (c Codec) Encode(v Vector) ([]byte, error) {
	if err := c.Check(v); err != nil {
		return nil, err
	}
	buf := make([]byte, c.ByteLen())
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*ElementSize:], math.Float32bits(x))
	}
	return buf, nil
}

// Decode parses stored bytes. Any length or value problem is reported
// as ErrCorruptTemplate.
func (c Codec) Decode(b []byte) (Vector, error) {
	if len(b) != c.ByteLen() {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrCorruptTemplate, c.ByteLen(), len(b))
	}
	v := make(Vector, c.Dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*ElementSize:]))
	}
	if err := c.Check(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptTemplate, err)
	}
	return v, nil
}

// Normalize returns the unit-length copy of v.
func Normalize(v Vector) (Unit, error) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		sum += f * f
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, ErrZeroVector
	}
	u := make(Unit, len(v))
	for i, x := range v {
		u[i] = float64(x) / norm
	}
	return u, nil
}

// Dot returns the inner product of two unit vectors of equal length.
func Dot(a, b Unit) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Distance returns the cosine distance 1 - a·b.
func Distance(a, b Unit) float64 {
	return 1 - Dot(a, b)
}

// CosineDistance normalises both vectors and returns their cosine distance.
func CosineDistance(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimension, len(a), len(b))
	}
	ua, err := Normalize(a)
	if err != nil {
		return 0, err
	}
	ub, err := Normalize(b)
	if err != nil {
		return 0, err
	}
	return Distance(ua, ub), nil
}
