// Package verify runs a submitted frame through the full recognition
// pipeline: decode, lighting check, face extraction, the liveness gate
// and finally template matching.
package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/liveness"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/matcher"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// Status is the overall outcome of a submitted frame.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPending means liveness is still being checked; submit more
	// frames under the same session.
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Result is returned for every submitted frame.
type Result struct {
	Status     Status
	SessionID  string
	Identity   string
	Confidence float64
	Pose       recognition.Pose
	Quality    float64
	Liveness   liveness.Verdict
	Code       ErrorCode
	Message    string
	Retry      bool
	Err        error
	Duration   time.Duration
}

// FaceExtractor produces face geometry and embeddings.
type FaceExtractor interface {
	Extract(frame *imaging.Frame) (*recognition.Geometry, error)
	Embedding(g *recognition.Geometry) (embedding.Vector, error)
}

// LivenessGate accumulates liveness evidence per session.
type LivenessGate interface {
	Observe(ctx context.Context, id string, in liveness.Observation) (liveness.Verdict, error)
}

// TemplateMatcher finds the enrolled identity for an embedding.
type TemplateMatcher interface {
	Match(query embedding.Vector, pose string, quality float64) (*matcher.Match, error)
}

// Recorder receives per-frame results, e.g. for metrics.
type Recorder interface {
	FrameProcessed(status Status, code ErrorCode, elapsed time.Duration)
	ObserveMatchDistance(d float64)
}

type nopRecorder struct{}

func (nopRecorder) FrameProcessed(Status, ErrorCode, time.Duration) {}
func (nopRecorder) ObserveMatchDistance(float64)                    {}

// Service is the recognition orchestrator.
type Service struct {
	validator imaging.Validator
	extractor FaceExtractor
	liveness  LivenessGate
	matcher   TemplateMatcher
	rec       Recorder
	log       *logrus.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder attaches a result recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.rec = r
		}
	}
}

// NewService wires the pipeline stages together.
func NewService(v imaging.Validator, ext FaceExtractor, gate LivenessGate, m TemplateMatcher, opts ...Option) *Service {
	s := &Service{
		validator: v,
		extractor: ext,
		liveness:  gate,
		matcher:   m,
		rec:       nopRecorder{},
		log:       logging.Component("verify"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitFrame verifies one frame for sessionID. Frames of one session
// accumulate liveness evidence; matching only runs once liveness has
// passed. Every failing stage ends the request.
func (s *Service) SubmitFrame(ctx context.Context, sessionID string, image []byte) Result {
	start := time.Now()
	res := s.submit(ctx, sessionID, image)
	res.SessionID = sessionID
	res.Duration = time.Since(start)
	s.rec.FrameProcessed(res.Status, res.Code, res.Duration)

	log := s.log.WithFields(logging.Fields{
		"session": sessionID,
		"status":  res.Status,
	})
	switch res.Status {
	case StatusSuccess:
		log.WithFields(logging.Fields{
			"identity":   res.Identity,
			"confidence": res.Confidence,
		}).Info("Face verified")
	case StatusFailed:
		log.WithField("code", res.Code).WithError(res.Err).Debug("Frame rejected")
	}
	return res
}

func (s *Service) submit(ctx context.Context, sessionID string, image []byte) Result {
	if err := ctx.Err(); err != nil {
		return failed(err)
	}

	frame, err := s.validator.Validate(image)
	if err != nil {
		if errors.Is(err, imaging.ErrInsufficientLighting) {
			// lighting failures end the session
			return s.rejectObservation(ctx, sessionID, err)
		}
		return failed(err)
	}

	geom, err := s.extractor.Extract(frame)
	if err != nil {
		if errors.Is(err, recognition.ErrNoFaceDetected) || errors.Is(err, recognition.ErrMultipleFaces) {
			return s.rejectObservation(ctx, sessionID, err)
		}
		return failed(err)
	}

	obs := liveness.Observation{}
	if geom.Landmarks.Len() > 0 {
		obs.Landmarks = &geom.Landmarks
	}
	verdict, err := s.liveness.Observe(ctx, sessionID, obs)
	if err != nil {
		res := failed(err)
		res.Liveness = verdict
		return res
	}
	if !verdict.Passed() {
		return Result{
			Status:   StatusPending,
			Liveness: verdict,
			Message:  PendingMessage(verdict),
			Retry:    true,
		}
	}

	vec, err := s.extractor.Embedding(geom)
	if err != nil {
		res := failed(err)
		res.Liveness = verdict
		return res
	}

	quality := imaging.Quality(frame.Gray)
	pose := geom.Pose()

	match, err := s.matcher.Match(vec, string(pose), quality)
	if err != nil {
		res := failed(err)
		res.Liveness = verdict
		res.Pose = pose
		res.Quality = quality
		return res
	}
	s.rec.ObserveMatchDistance(match.Distance)

	return Result{
		Status:     StatusSuccess,
		Identity:   match.Identity,
		Confidence: match.Confidence(),
		Pose:       pose,
		Quality:    quality,
		Liveness:   verdict,
		Message:    "Face recognized successfully",
	}
}

// rejectObservation reports a failed frame to the liveness gate so the
// session rules apply, then returns the failure.
func (s *Service) rejectObservation(ctx context.Context, sessionID string, cause error) Result {
	verdict, err := s.liveness.Observe(ctx, sessionID, liveness.Observation{Err: cause})
	if err == nil {
		err = cause
	}
	res := failed(err)
	res.Liveness = verdict
	return res
}

func failed(err error) Result {
	ve := NewVerifyError(err)
	return Result{
		Status:  StatusFailed,
		Code:    ve.Code,
		Message: ve.Message,
		Retry:   ve.Retry,
		Err:     ve,
	}
}

var actionHints = map[liveness.Action]string{
	liveness.ActionBlink:        "blink",
	liveness.ActionSmile:        "smile",
	liveness.ActionHeadMovement: "turn your head",
}

// PendingMessage asks the user for the liveness actions still missing.
// Detectors that could not evaluate the frame's landmarks are left out,
// since asking for them would never help.
func PendingMessage(v liveness.Verdict) string {
	seen := make(map[liveness.Action]bool, len(v.Seen))
	for _, a := range v.Seen {
		seen[a] = true
	}
	var hints []string
	for _, o := range v.Outcomes {
		if !o.Evaluated || seen[o.Action] {
			continue
		}
		if hint, ok := actionHints[o.Action]; ok {
			hints = append(hints, hint)
		}
	}
	if len(hints) == 0 {
		return "Checking liveness..."
	}
	return "Please " + strings.Join(hints, " or ") + " to verify liveness"
}
