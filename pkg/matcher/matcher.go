package matcher

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
)

// Defaults for matching.
const (
	DefaultThreshold  = 0.35
	DefaultMinQuality = 35.0
)

// ErrNoMatch is returned when no template is closer than the threshold.
var ErrNoMatch = errors.New("no matching identity")

// Config controls template selection and acceptance.
type Config struct {
	// Threshold is the exclusive upper bound on cosine distance.
	Threshold float64
	// MinQuality excludes templates scored below it.
	MinQuality float64
	// PoseFilter restricts comparison to templates of the query pose.
	PoseFilter bool
}

// DefaultConfig returns the standard matching parameters.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		MinQuality: DefaultMinQuality,
	}
}

// Candidate is an identity and its best distance to the query.
type Candidate struct {
	Identity string
	Distance float64
}

// Match is an accepted candidate. Confidence is the cosine distance, so
// lower is better.
type Match struct {
	Identity     string
	TemplateID   string
	Pose         string
	Distance     float64
	QueryQuality float64
}

// Confidence returns the distance reported to callers.
func (m *Match) Confidence() float64 {
	return m.Distance
}

// Matcher compares queries against the current gallery snapshot.
type Matcher struct {
	cfg     Config
	gallery atomic.Pointer[Gallery]
}

// New creates a matcher with an empty gallery.
func New(cfg Config) *Matcher {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	m := &Matcher{cfg: cfg}
	m.gallery.Store(&Gallery{})
	return m
}

// Config returns the matcher configuration.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Swap installs a new gallery snapshot and returns the previous one.
func (m *Matcher) Swap(g *Gallery) *Gallery {
	if g == nil {
		g = &Gallery{}
	}
	return m.gallery.Swap(g)
}

// Gallery returns the current snapshot.
func (m *Matcher) Gallery() *Gallery {
	return m.gallery.Load()
}

// Nearest returns the closest identity regardless of threshold. ok is
// false when no template was eligible.
func (m *Matcher) Nearest(query embedding.Vector, pose string) (*Match, bool, error) {
	g := m.gallery.Load()

	if g.codec.Dim > 0 {
		if err := g.codec.Check(query); err != nil {
			return nil, false, err
		}
	}
	q, err := embedding.Normalize(query)
	if err != nil {
		return nil, false, err
	}

	best := &Match{Distance: math.Inf(1)}
	found := false
	for _, id := range g.identities {
		for _, t := range id.templates {
			if !m.eligible(t, pose, len(q)) {
				continue
			}
			d := embedding.Distance(q, t.unit)
			// Strict comparison keeps the first identity on ties.
			if d < best.Distance {
				best.Identity = id.key
				best.TemplateID = t.id
				best.Pose = t.pose
				best.Distance = d
				found = true
			}
		}
	}
	if !found {
		return nil, false, nil
	}
	return best, true, nil
}

// eligible applies the quality floor, the optional pose filter and a
// dimension guard for galleries built with a different codec.
func (m *Matcher) eligible(t prepared, pose string, dim int) bool {
	if t.quality < m.cfg.MinQuality || len(t.unit) != dim {
		return false
	}
	if m.cfg.PoseFilter && pose != "" && t.pose != pose {
		return false
	}
	return true
}

// Match returns the nearest identity if its distance is below the
// threshold, or ErrNoMatch.
func (m *Matcher) Match(query embedding.Vector, pose string, quality float64) (*Match, error) {
	best, ok, err := m.Nearest(query, pose)
	if err != nil {
		return nil, err
	}
	if !ok || best.Distance >= m.cfg.Threshold {
		return nil, ErrNoMatch
	}
	best.QueryQuality = quality
	return best, nil
}

// Candidates returns each identity's best distance in gallery order,
// applying the same eligibility rules as Match.
func (m *Matcher) Candidates(query embedding.Vector, pose string) ([]Candidate, error) {
	g := m.gallery.Load()
	q, err := embedding.Normalize(query)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, id := range g.identities {
		c := Candidate{Identity: id.key, Distance: math.Inf(1)}
		for _, t := range id.templates {
			if !m.eligible(t, pose, len(q)) {
				continue
			}
			if d := embedding.Distance(q, t.unit); d < c.Distance {
				c.Distance = d
			}
		}
		if !math.IsInf(c.Distance, 1) {
			out = append(out, c)
		}
	}
	return out, nil
}
