package liveness

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/landmark"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// Session defaults.
const (
	DefaultTimeout   = 5 * time.Second
	DefaultMaxFrames = 30
)

// ErrLivenessTimeout is returned when no action was seen within the
// session timeout. The session is destroyed.
var ErrLivenessTimeout = errors.New("no liveness action detected in time")

// ErrNoLandmarks is returned for an observation carrying neither
// landmarks nor an error.
var ErrNoLandmarks = errors.New("observation has no landmarks")

// State is the externally visible session state.
type State string

const (
	StateActive State = "active"
	StatePassed State = "passed"
	StateFailed State = "failed"
)

// Config controls session accounting and the decision rule.
type Config struct {
	Timeout   time.Duration
	MaxFrames int
	Shards    int
	Policy    Policy
	Detectors []Detector
}

// DefaultConfig returns the blink-or-smile setup.
func DefaultConfig() Config {
	return Config{
		Timeout:   DefaultTimeout,
		MaxFrames: DefaultMaxFrames,
		Shards:    DefaultShards,
		Policy:    AnyOf(),
		Detectors: []Detector{
			NewBlinkDetector(0),
			NewSmileDetector(0),
		},
	}
}

// Observation is what the pipeline learned about one frame before the
// liveness step. Err carries a lighting or face-detection failure.
type Observation struct {
	Landmarks *landmark.Set
	Err       error
}

// Verdict describes a session after one observation.
type Verdict struct {
	SessionID string
	State     State
	Seen      []Action
	Outcomes  []Outcome
	Frames    int
	Elapsed   time.Duration
}

// Passed reports whether liveness has been proven.
func (v Verdict) Passed() bool {
	return v.State == StatePassed
}

// Recorder receives session lifecycle events, e.g. for metrics.
type Recorder interface {
	SessionStarted()
	SessionEnded(reason string)
	ActionDetected(a Action)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted()       {}
func (nopRecorder) SessionEnded(string)   {}
func (nopRecorder) ActionDetected(Action) {}

// Session end reasons reported to the Recorder.
const (
	EndLighting = "lighting"
	EndTimeout  = "timeout"
	EndExpired  = "expired"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRecorder attaches a lifecycle recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.rec = r
		}
	}
}

// Manager owns the session store and applies the per-frame rules.
type Manager struct {
	cfg   Config
	store *Store
	now   func() time.Time
	rec   Recorder
	log   *logrus.Entry
}

// NewManager creates a manager, filling zero config fields with defaults.
func NewManager(cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = def.MaxFrames
	}
	if cfg.Policy == nil {
		cfg.Policy = def.Policy
	}
	if len(cfg.Detectors) == 0 {
		cfg.Detectors = def.Detectors
	}

	m := &Manager{
		cfg:   cfg,
		store: NewStore(cfg.Shards, cfg.Timeout),
		now:   time.Now,
		rec:   nopRecorder{},
		log:   logging.Component("liveness"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.store.onExpire = func() { m.rec.SessionEnded(EndExpired) }
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Store exposes the session store.
func (m *Manager) Store() *Store {
	return m.store
}

func (m *Manager) actions() []Action {
	return names(m.cfg.Detectors)
}

// Observe folds one frame's observation into the session for id.
//
// A lighting failure destroys the session. Face-detection failures are
// returned with the session left intact. Otherwise the sample is
// buffered and, while the session is still active, the detectors run
// and the policy decides. A session that reaches the timeout without
// passing is destroyed with ErrLivenessTimeout.
func (m *Manager) Observe(ctx context.Context, id string, in Observation) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{SessionID: id}, err
	}

	now := m.now()
	var (
		verdict Verdict
		outErr  error
	)

	m.store.Do(id, now, func(s *Session, created bool) bool {
		log := m.log.WithField("session", id)
		if created {
			m.rec.SessionStarted()
			log.Debug("Liveness session started")
		}
		s.LastUpdate = now

		if errors.Is(in.Err, imaging.ErrInsufficientLighting) {
			verdict = m.verdict(s, StateFailed, nil, now)
			outErr = in.Err
			m.rec.SessionEnded(EndLighting)
			log.Debug("Liveness session destroyed: insufficient lighting")
			return true
		}
		if in.Err != nil {
			verdict = m.verdict(s, stateOf(s), nil, now)
			outErr = in.Err
			return false
		}
		if in.Landmarks == nil {
			verdict = m.verdict(s, stateOf(s), nil, now)
			outErr = ErrNoLandmarks
			return false
		}

		s.append(FrameSample{At: now, Landmarks: *in.Landmarks}, m.cfg.Timeout, m.cfg.MaxFrames)

		if s.Passed {
			verdict = m.verdict(s, StatePassed, nil, now)
			return false
		}

		outcomes := make([]Outcome, 0, len(m.cfg.Detectors))
		for _, d := range m.cfg.Detectors {
			o := d.Detect(s.Samples)
			outcomes = append(outcomes, o)
			if o.Detected && !s.Seen(o.Action) {
				s.mark(o.Action)
				m.rec.ActionDetected(o.Action)
				log.WithField("action", o.Action).Debug("Liveness action detected")
			}
		}

		if m.cfg.Policy.Satisfied(s.SeenActions(), m.actions()) {
			s.Passed = true
			verdict = m.verdict(s, StatePassed, outcomes, now)
			log.Debug("Liveness session passed")
			return false
		}

		if now.Sub(s.Started) > m.cfg.Timeout {
			verdict = m.verdict(s, StateFailed, outcomes, now)
			outErr = ErrLivenessTimeout
			m.rec.SessionEnded(EndTimeout)
			log.Debug("Liveness session timed out")
			return true
		}

		verdict = m.verdict(s, StateActive, outcomes, now)
		return false
	})

	return verdict, outErr
}

func stateOf(s *Session) State {
	if s.Passed {
		return StatePassed
	}
	return StateActive
}

func (m *Manager) verdict(s *Session, state State, outcomes []Outcome, now time.Time) Verdict {
	v := Verdict{
		SessionID: s.ID,
		State:     state,
		Seen:      s.SeenActions(),
		Outcomes:  outcomes,
		Frames:    len(s.Samples),
	}
	if !s.Started.IsZero() {
		v.Elapsed = now.Sub(s.Started)
	}
	return v
}

// Session returns a snapshot of the session for id.
func (m *Manager) Session(id string) (Session, bool) {
	return m.store.Get(id)
}

// Reset discards the session for id.
func (m *Manager) Reset(id string) bool {
	return m.store.Delete(id)
}

// Sweep removes sessions idle for longer than the timeout.
func (m *Manager) Sweep() int {
	n := m.store.Sweep(m.now(), m.cfg.Timeout)
	for i := 0; i < n; i++ {
		m.rec.SessionEnded(EndExpired)
	}
	if n > 0 {
		m.log.Debugf("Swept %d idle liveness session(s)", n)
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
