// Package source supplies encoded frames for replay through the
// verification pipeline: image files, a directory of frames, or an
// MJPEG byte stream such as ffmpeg's pipe output.
package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Frame is one encoded image.
type Frame struct {
	Data      []byte
	Name      string
	Timestamp time.Time
}

// Source yields frames in order.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// ErrExhausted is returned once a source has no more frames.
var ErrExhausted = errors.New("no more frames")

// ErrNoFrames is returned when a directory holds no images.
var ErrNoFrames = errors.New("no image frames found")

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// FileSource reads a fixed list of files.
type FileSource struct {
	paths []string
	next  int
}

// NewFileSource creates a source over paths in the given order.
func NewFileSource(paths ...string) *FileSource {
	return &FileSource{paths: paths}
}

// NewDirSource creates a source over the images in dir, sorted by name.
func NewDirSource(dir string) (*FileSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	sort.Strings(paths)
	return NewFileSource(paths...), nil
}

// Len returns the number of frames in the source.
func (s *FileSource) Len() int {
	return len(s.paths)
}

// Next implements Source.
func (s *FileSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.next >= len(s.paths) {
		return Frame{}, ErrExhausted
	}

	path := s.paths[s.next]
	s.next++
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read frame %s: %w", path, err)
	}
	return Frame{Data: data, Name: filepath.Base(path), Timestamp: time.Now()}, nil
}

// Close implements Source.
func (s *FileSource) Close() error {
	return nil
}

// MaxStreamFrame bounds a single MJPEG frame.
const MaxStreamFrame = 8 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// StreamSource splits an MJPEG stream on JPEG start/end markers. Bytes
// between frames are skipped.
type StreamSource struct {
	r     *bufio.Reader
	c     io.Closer
	count int
}

// NewStreamSource reads frames from r. If r is an io.Closer, Close
// closes it.
func NewStreamSource(r io.Reader) *StreamSource {
	s := &StreamSource{r: bufio.NewReaderSize(r, 64<<10)}
	if c, ok := r.(io.Closer); ok {
		s.c = c
	}
	return s
}

// Next implements Source.
func (s *StreamSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if err := s.skipToSOI(); err != nil {
		return Frame{}, err
	}

	buf := bytes.NewBuffer(append([]byte(nil), jpegSOI...))
	var prev byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Frame{}, ErrExhausted
			}
			return Frame{}, err
		}
		buf.WriteByte(b)
		if prev == jpegEOI[0] && b == jpegEOI[1] {
			break
		}
		prev = b
		if buf.Len() > MaxStreamFrame {
			return Frame{}, fmt.Errorf("stream frame exceeds %d bytes", MaxStreamFrame)
		}
	}

	s.count++
	return Frame{
		Data:      buf.Bytes(),
		Name:      fmt.Sprintf("frame-%04d", s.count),
		Timestamp: time.Now(),
	}, nil
}

func (s *StreamSource) skipToSOI() error {
	var prev byte
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrExhausted
			}
			return err
		}
		if prev == jpegSOI[0] && b == jpegSOI[1] {
			return nil
		}
		prev = b
	}
}

// Close implements Source.
func (s *StreamSource) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

// Open picks a source for the arguments: "-" reads an MJPEG stream from
// stdin, a single directory lists its images, anything else is a list
// of files.
func Open(args []string) (Source, error) {
	if len(args) == 1 {
		if args[0] == "-" {
			return NewStreamSource(os.Stdin), nil
		}
		if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
			return NewDirSource(args[0])
		}
	}
	if len(args) == 0 {
		return nil, ErrNoFrames
	}
	return NewFileSource(args...), nil
}
