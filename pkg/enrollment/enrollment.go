// Package enrollment turns enrollment images into stored face
// templates and tracks pose coverage per identity.
package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
	"github.com/MrCodeEU/facecheck/pkg/gallery"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/matcher"
	"github.com/MrCodeEU/facecheck/pkg/notify"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
)

// ErrUnknownPose is returned when no pose label can be assigned.
var ErrUnknownPose = errors.New("unknown pose")

// Config controls pose coverage.
type Config struct {
	RequiredPoses []recognition.Pose
	// MinQuality is the score a template needs to count towards coverage.
	MinQuality float64
}

// DefaultConfig requires all five poses at the matcher's quality floor.
func DefaultConfig() Config {
	return Config{
		RequiredPoses: recognition.RequiredPoses(),
		MinQuality:    matcher.DefaultMinQuality,
	}
}

// Request is one enrollment image.
type Request struct {
	Identity string
	Image    []byte
	// Pose overrides the detected pose when set.
	Pose string
}

// Result describes the stored template and the identity's coverage.
type Result struct {
	Template gallery.StoredTemplate
	Pose     recognition.Pose
	Quality  float64
	Complete bool
	Missing  []string
}

// FaceExtractor produces face geometry and embeddings.
type FaceExtractor interface {
	Extract(frame *imaging.Frame) (*recognition.Geometry, error)
	Embedding(g *recognition.Geometry) (embedding.Vector, error)
	Codec() embedding.Codec
}

// Reloader rebuilds the matcher gallery after a change.
type Reloader interface {
	Reload(ctx context.Context) (*matcher.Gallery, error)
}

// Service enrolls, lists and removes identities.
type Service struct {
	cfg       Config
	validator imaging.Validator
	extractor FaceExtractor
	store     gallery.Store
	notifier  notify.Notifier
	reloader  Reloader
	log       *logrus.Entry
}

// NewService creates an enrollment service. notifier and reloader may be nil.
func NewService(cfg Config, v imaging.Validator, ext FaceExtractor, store gallery.Store, n notify.Notifier, r Reloader) *Service {
	if len(cfg.RequiredPoses) == 0 {
		cfg.RequiredPoses = recognition.RequiredPoses()
	}
	if n == nil {
		n = notify.NewLogNotifier()
	}
	return &Service{
		cfg:       cfg,
		validator: v,
		extractor: ext,
		store:     store,
		notifier:  n,
		reloader:  r,
		log:       logging.Component("enrollment"),
	}
}

// Enroll stores the template for the request's (identity, pose),
// replacing any earlier one. When the identity first covers every
// required pose it is marked complete and the notifier is told.
func (s *Service) Enroll(ctx context.Context, req Request) (*Result, error) {
	if err := gallery.ValidateIdentity(req.Identity); err != nil {
		return nil, err
	}

	frame, err := s.validator.Validate(req.Image)
	if err != nil {
		return nil, err
	}

	geom, err := s.extractor.Extract(frame)
	if err != nil {
		return nil, err
	}

	pose, err := s.resolvePose(req.Pose, geom)
	if err != nil {
		return nil, err
	}

	vec, err := s.extractor.Embedding(geom)
	if err != nil {
		return nil, fmt.Errorf("invalid embedding: %w", err)
	}
	if _, err := embedding.Normalize(vec); err != nil {
		return nil, fmt.Errorf("invalid embedding: %w", err)
	}
	encoded, err := s.extractor.Codec().Encode(vec)
	if err != nil {
		return nil, fmt.Errorf("invalid embedding: %w", err)
	}

	quality := imaging.Quality(frame.Gray)

	before, err := s.store.GetTemplates(ctx, req.Identity)
	if err != nil && !errors.Is(err, gallery.ErrIdentityNotFound) {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	required := s.requiredLabels()
	wasComplete, _ := gallery.HasSufficientPoses(before, required, s.cfg.MinQuality)

	tmpl, err := s.store.ReplaceTemplate(ctx, req.Identity, string(pose), encoded, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to store template: %w", err)
	}

	after, err := s.store.GetTemplates(ctx, req.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	complete, missing := gallery.HasSufficientPoses(after, required, s.cfg.MinQuality)

	if complete != wasComplete {
		if err := s.store.MarkComplete(ctx, req.Identity, complete); err != nil {
			return nil, fmt.Errorf("failed to update identity: %w", err)
		}
	}

	log := s.log.WithFields(logging.Fields{
		"identity": req.Identity,
		"pose":     pose,
		"quality":  fmt.Sprintf("%.1f", quality),
	})
	if quality < s.cfg.MinQuality {
		log.Warn("Template stored below the quality floor; it will not be used for matching")
	} else {
		log.Info("Template enrolled")
	}

	if complete && !wasComplete {
		if err := s.notifier.EnrollmentComplete(ctx, req.Identity, gallery.TrainedPoses(after)); err != nil {
			log.WithError(err).Warn("Failed to send enrollment notification")
		}
	}

	s.reload(ctx)

	return &Result{
		Template: tmpl,
		Pose:     pose,
		Quality:  quality,
		Complete: complete,
		Missing:  missing,
	}, nil
}

func (s *Service) resolvePose(requested string, geom *recognition.Geometry) (recognition.Pose, error) {
	if requested != "" {
		p, err := recognition.ParsePose(requested)
		if err != nil {
			return recognition.PoseUnknown, fmt.Errorf("%w: %v", ErrUnknownPose, err)
		}
		return p, nil
	}
	p := geom.Pose()
	if p == recognition.PoseUnknown {
		return p, ErrUnknownPose
	}
	return p, nil
}

func (s *Service) requiredLabels() []string {
	out := make([]string, len(s.cfg.RequiredPoses))
	for i, p := range s.cfg.RequiredPoses {
		out[i] = string(p)
	}
	return out
}

// Status returns the coverage of one identity.
func (s *Service) Status(ctx context.Context, identity string) (complete bool, missing []string, err error) {
	ts, err := s.store.GetTemplates(ctx, identity)
	if err != nil {
		return false, nil, err
	}
	complete, missing = gallery.HasSufficientPoses(ts, s.requiredLabels(), s.cfg.MinQuality)
	return complete, missing, nil
}

// List returns all identities.
func (s *Service) List(ctx context.Context) ([]gallery.IdentityInfo, error) {
	return s.store.ListIdentities(ctx)
}

// Remove deletes an identity and its templates.
func (s *Service) Remove(ctx context.Context, identity string) error {
	if err := s.store.DeleteIdentity(ctx, identity); err != nil {
		return err
	}
	s.reload(ctx)
	return nil
}

// Clear drops every template of an identity so it can be retrained.
func (s *Service) Clear(ctx context.Context, identity string) error {
	if err := s.store.ClearIdentity(ctx, identity); err != nil {
		return err
	}
	s.reload(ctx)
	return nil
}

func (s *Service) reload(ctx context.Context) {
	if s.reloader == nil {
		return
	}
	if _, err := s.reloader.Reload(ctx); err != nil {
		s.log.WithError(err).Warn("Gallery reload after enrollment change failed")
	}
}
