package gallery

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/matcher"
)

// DefaultLoadConcurrency bounds concurrent GetTemplates calls.
const DefaultLoadConcurrency = 8

// Loader builds matcher galleries from a Provider.
type Loader struct {
	provider    Provider
	codec       embedding.Codec
	target      *matcher.Matcher
	concurrency int

	group    singleflight.Group
	requests atomic.Uint64
	latest   atomic.Pointer[snapshot]
	log      *logrus.Entry
}

// NewLoader creates a loader that installs snapshots into target.
func NewLoader(provider Provider, codec embedding.Codec, target *matcher.Matcher) *Loader {
	return &Loader{
		provider:    provider,
		codec:       codec,
		target:      target,
		concurrency: DefaultLoadConcurrency,
		log:         logging.Component("gallery"),
	}
}

// Build reads every enrollable identity and returns a new snapshot.
// Identity order follows the provider's listing.
func (l *Loader) Build(ctx context.Context) (*matcher.Gallery, error) {
	keys, err := l.provider.ListEnrollableIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	ids := make([]matcher.Identity, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			stored, err := l.provider.GetTemplates(gctx, key)
			if err != nil {
				return fmt.Errorf("failed to load templates for %s: %w", key, err)
			}
			ids[i] = toIdentity(key, stored)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return matcher.NewGallery(l.codec, ids), nil
}

// snapshot is a swapped gallery and the request count its build covers.
type snapshot struct {
	gallery *matcher.Gallery
	gen     uint64
}

// Reload rebuilds the gallery and swaps it into the matcher. The returned
// snapshot reflects every write committed before Reload was called:
// concurrent callers share one rebuild, but a caller never settles for a
// rebuild that started before it asked. The rebuild is detached from
// ctx cancellation so one abandoned caller cannot fail the others.
func (l *Loader) Reload(ctx context.Context) (*matcher.Gallery, error) {
	want := l.requests.Add(1)
	build := context.WithoutCancel(ctx)

	for {
		if s := l.latest.Load(); s != nil && s.gen >= want {
			return s.gallery, nil
		}

		ch := l.group.DoChan("reload", func() (interface{}, error) {
			gen := l.requests.Load()
			g, err := l.Build(build)
			if err != nil {
				return nil, err
			}
			l.target.Swap(g)
			s := &snapshot{gallery: g, gen: gen}
			l.latest.Store(s)
			return s, nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			l.log.WithError(res.Err).Error("Gallery reload failed")
			return nil, res.Err
		}

		s := res.Val.(*snapshot)
		if s.gen < want {
			l.log.Debug("Joined a gallery reload that predates the request, rebuilding")
			continue
		}

		l.log.WithFields(logging.Fields{
			"identities":  s.gallery.Identities(),
			"templates":   s.gallery.Templates(),
			"diagnostics": len(s.gallery.Diagnostics()),
			"shared":      res.Shared,
		}).Debug("Gallery reloaded")
		return s.gallery, nil
	}
}

func toIdentity(key string, stored []StoredTemplate) matcher.Identity {
	id := matcher.Identity{Key: key, Templates: make([]matcher.Template, 0, len(stored))}
	for _, t := range stored {
		id.Templates = append(id.Templates, matcher.Template{
			ID:        t.ID,
			Identity:  key,
			Pose:      t.Pose,
			Embedding: t.Embedding,
			Quality:   t.Quality,
			CreatedAt: t.CreatedAt,
		})
	}
	return id
}
