// Package matcher finds the enrolled identity nearest to a query
// embedding. Templates are decoded and normalised once into an
// immutable Gallery snapshot; the Matcher swaps snapshots atomically so
// enrollment never blocks or tears a concurrent match.
package matcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

// Template is one enrolled embedding for an (identity, pose) pair.
type Template struct {
	ID        string
	Identity  string
	Pose      string
	Embedding []byte
	Quality   float64
	CreatedAt time.Time
}

// Identity groups the templates of one enrolled person.
type Identity struct {
	Key       string
	Templates []Template
}

// Diagnostic records a template that could not be used.
type Diagnostic struct {
	Identity   string
	TemplateID string
	Err        error
}

type prepared struct {
	id      string
	pose    string
	quality float64
	unit    embedding.Unit
}

type preparedIdentity struct {
	key       string
	templates []prepared
}

// Gallery is an immutable, pre-normalised snapshot of enrolled
// identities in enumeration order.
type Gallery struct {
	codec       embedding.Codec
	identities  []preparedIdentity
	diagnostics []Diagnostic
	templates   int
	builtAt     time.Time
}

// NewGallery decodes and normalises every template. Corrupt templates
// are left out, recorded in Diagnostics and logged; they never fail
// the build.
func NewGallery(codec embedding.Codec, identities []Identity) *Gallery {
	log := logging.Component("matcher")
	g := &Gallery{
		codec:      codec,
		identities: make([]preparedIdentity, 0, len(identities)),
		builtAt:    time.Now(),
	}

	for _, id := range identities {
		pi := preparedIdentity{key: id.Key}
		for _, t := range id.Templates {
			unit, err := prepare(codec, t.Embedding)
			if err != nil {
				g.diagnostics = append(g.diagnostics, Diagnostic{
					Identity:   id.Key,
					TemplateID: t.ID,
					Err:        err,
				})
				log.WithFields(logging.Fields{
					"identity": id.Key,
					"template": t.ID,
					"pose":     t.Pose,
				}).WithError(err).Warn("Skipping corrupt template")
				continue
			}
			pi.templates = append(pi.templates, prepared{
				id:      t.ID,
				pose:    t.Pose,
				quality: t.Quality,
				unit:    unit,
			})
			g.templates++
		}
		g.identities = append(g.identities, pi)
	}

	return g
}

func prepare(codec embedding.Codec, b []byte) (embedding.Unit, error) {
	v, err := codec.Decode(b)
	if err != nil {
		return nil, err
	}
	unit, err := embedding.Normalize(v)
	if errors.Is(err, embedding.ErrZeroVector) {
		return nil, fmt.Errorf("%w: %v", embedding.ErrCorruptTemplate, err)
	}
	return unit, err
}

// Diagnostics returns the templates skipped while building the gallery.
func (g *Gallery) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(g.diagnostics))
	copy(out, g.diagnostics)
	return out
}

// Identities returns the number of identities in the snapshot.
func (g *Gallery) Identities() int {
	return len(g.identities)
}

// Templates returns the number of usable templates.
func (g *Gallery) Templates() int {
	return g.templates
}

// BuiltAt returns the snapshot creation time.
func (g *Gallery) BuiltAt() time.Time {
	return g.builtAt
}
