package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrCodeEU/facecheck/pkg/config"
	"github.com/MrCodeEU/facecheck/pkg/embedding"
	"github.com/MrCodeEU/facecheck/pkg/enrollment"
	"github.com/MrCodeEU/facecheck/pkg/gallery"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/landmark"
	"github.com/MrCodeEU/facecheck/pkg/liveness"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/matcher"
	"github.com/MrCodeEU/facecheck/pkg/metrics"
	"github.com/MrCodeEU/facecheck/pkg/notify"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/recognition/dlib"
	"github.com/MrCodeEU/facecheck/pkg/verify"
)

// app holds the wired services for one CLI invocation.
type app struct {
	cfg      *config.Config
	store    gallery.Store
	notifier notify.Closer
	matcher  *matcher.Matcher
	loader   *gallery.Loader
	engine   recognition.Engine
	metrics  *metrics.Metrics
	sessions *liveness.Manager
	verifier *verify.Service
	enroller *enrollment.Service
}

// openStore opens only the gallery backend, for commands that never
// touch images.
func openStore(ctx context.Context, cfg *config.Config) (gallery.Store, error) {
	codec := embedding.NewCodec(cfg.Recognition.EmbeddingDim)
	return gallery.Open(ctx, gallery.Options{
		Driver:            cfg.Storage.Driver,
		DataDir:           cfg.Storage.DataDir,
		EncryptionEnabled: cfg.Storage.EncryptionEnabled,
		PostgresDSN:       cfg.Storage.PostgresDSN,
		ByteLen:           codec.ByteLen(),
	})
}

// newApp wires storage, recognition and both services. engine may be
// nil, in which case the dlib models are loaded from the configured path.
func newApp(ctx context.Context, cfg *config.Config, engine recognition.Engine) (*app, error) {
	a := &app{cfg: cfg, engine: engine, metrics: metrics.New()}

	if a.engine == nil {
		eng, err := dlib.New(cfg.Recognition.ModelPath, cfg.Recognition.UseCNN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize recognizer: %w", err)
		}
		a.engine = eng
	}
	if d, ok := a.engine.(interface{ Dimension() int }); ok && d.Dimension() != cfg.Recognition.EmbeddingDim {
		_ = a.Close()
		return nil, fmt.Errorf("recognizer produces %d-dim embeddings, config expects %d",
			d.Dimension(), cfg.Recognition.EmbeddingDim)
	}

	livenessCfg, err := livenessConfig(cfg, engineLayout(a.engine))
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if a.store, err = openStore(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open gallery: %w", err)
	}
	if a.notifier, err = notify.Open(ctx, notify.Options{
		Driver:    cfg.Notify.Driver,
		RedisAddr: cfg.Notify.RedisAddr,
		Channel:   cfg.Notify.RedisChannel,
	}); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to open notifier: %w", err)
	}

	extractor := recognition.NewExtractor(a.engine, cfg.Recognition.EmbeddingDim)
	validator := imaging.NewValidator(cfg.Recognition.MinLuminance)

	a.matcher = matcher.New(matcherConfig(cfg))
	a.loader = gallery.NewLoader(a.store, extractor.Codec(), a.matcher)
	a.sessions = liveness.NewManager(livenessCfg, liveness.WithRecorder(a.metrics))
	a.verifier = verify.NewService(validator, extractor, a.sessions, a.matcher, verify.WithRecorder(a.metrics))
	a.enroller = enrollment.NewService(enrollmentConfig(cfg), validator, extractor, a.store, a.notifier, a)

	return a, nil
}

// Reload rebuilds the gallery and refreshes the template gauge.
func (a *app) Reload(ctx context.Context) (*matcher.Gallery, error) {
	g, err := a.loader.Reload(ctx)
	if err != nil {
		return nil, err
	}
	a.metrics.SetGalleryTemplates(g.Templates())
	return g, nil
}

// Close releases everything newApp acquired.
func (a *app) Close() error {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	return errors.Join(errs...)
}

// engineLayout returns the landmark layout an engine produces, or nil
// when the engine does not say.
func engineLayout(engine recognition.Engine) *landmark.Layout {
	if l, ok := engine.(interface{ Layout() *landmark.Layout }); ok {
		return l.Layout()
	}
	return nil
}

// livenessConfig builds the detector set for an engine's landmark layout.
// Detectors the layout cannot feed are dropped, and head movement is
// switched on when blink or smile had to go, since otherwise no session
// could ever pass.
func livenessConfig(cfg *config.Config, layout *landmark.Layout) (liveness.Config, error) {
	c := cfg.Liveness
	policy, err := liveness.ParsePolicy(c.Policy, c.PolicyMin)
	if err != nil {
		return liveness.Config{}, err
	}
	movement := liveness.NewHeadMovementDetector(c.HeadMovement.Threshold, c.HeadMovement.MinFrames)
	detectors := []liveness.Detector{
		liveness.NewBlinkDetector(c.BlinkThreshold),
		liveness.NewSmileDetector(c.SmileRatio),
	}
	if c.HeadMovement.Enabled {
		detectors = append(detectors, movement)
	}

	usable, dropped := liveness.ForLayout(detectors, layout)
	if len(dropped) > 0 {
		log := logging.WithFields(logging.Fields{"layout": layout.Name, "dropped": len(dropped)})
		for _, d := range dropped {
			log.Warnf("Liveness detector %s needs landmarks the %s layout lacks", d.Name(), layout.Name)
		}
		if !c.HeadMovement.Enabled && liveness.Evaluable(movement, layout) {
			usable = append(usable, movement)
			log.Warn("Enabled head movement liveness detection")
		}
	}
	if err := liveness.CheckPolicy(policy, usable, dropped); err != nil {
		return liveness.Config{}, err
	}

	return liveness.Config{
		Timeout:   c.SessionTimeout,
		MaxFrames: c.MaxFrames,
		Shards:    c.Shards,
		Policy:    policy,
		Detectors: usable,
	}, nil
}

func matcherConfig(cfg *config.Config) matcher.Config {
	return matcher.Config{
		Threshold:  cfg.Recognition.MatchThreshold,
		MinQuality: cfg.Recognition.MinQuality,
		PoseFilter: cfg.Recognition.PoseFilter,
	}
}

func enrollmentConfig(cfg *config.Config) enrollment.Config {
	poses := make([]recognition.Pose, 0, len(cfg.Enrollment.RequiredPoses))
	for _, p := range cfg.Enrollment.RequiredPoses {
		poses = append(poses, recognition.Pose(p))
	}
	return enrollment.Config{
		RequiredPoses: poses,
		MinQuality:    cfg.Enrollment.MinQuality,
	}
}
