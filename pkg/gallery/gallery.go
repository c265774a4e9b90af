// Package gallery persists enrolled face templates and loads them into
// matcher snapshots. Each identity holds at most one template per pose;
// re-enrolling a pose replaces the previous template wholesale.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// StoredTemplate is a persisted template.
type StoredTemplate struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Pose      string    `json:"pose"`
	Embedding []byte    `json:"embedding"`
	Quality   float64   `json:"quality"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityInfo summarises one enrolled identity.
type IdentityInfo struct {
	Key       string    `json:"key"`
	Poses     []string  `json:"poses"`
	Complete  bool      `json:"complete"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrIdentityNotFound is returned for an unknown identity key.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrInvalidIdentity is returned for an empty or unsafe identity key.
	ErrInvalidIdentity = errors.New("invalid identity key")

	// ErrInvalidTemplate is returned when a template fails validation
	// before being written.
	ErrInvalidTemplate = errors.New("invalid template")
)

// Provider supplies templates to the matcher.
type Provider interface {
	ListEnrollableIdentities(ctx context.Context) ([]string, error)
	GetTemplates(ctx context.Context, identity string) ([]StoredTemplate, error)
}

// Writer mutates enrolled templates.
type Writer interface {
	// ReplaceTemplate atomically replaces the template for (identity, pose).
	ReplaceTemplate(ctx context.Context, identity, pose string, embedding []byte, quality float64) (StoredTemplate, error)
	MarkComplete(ctx context.Context, identity string, complete bool) error
	// ClearIdentity drops all templates of an identity but keeps the
	// identity itself, ready for retraining.
	ClearIdentity(ctx context.Context, identity string) error
}

// Store is a full gallery backend.
type Store interface {
	Provider
	Writer
	ListIdentities(ctx context.Context) ([]IdentityInfo, error)
	DeleteIdentity(ctx context.Context, identity string) error
	Close() error
}

// ValidateIdentity rejects keys that are empty or could escape a
// directory when used as a file name.
func ValidateIdentity(identity string) error {
	switch {
	case identity == "",
		strings.TrimSpace(identity) != identity,
		strings.ContainsAny(identity, `/\`),
		strings.HasPrefix(identity, "."),
		len(identity) > 128:
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return nil
}

// ValidateTemplate checks a template before it is written.
func ValidateTemplate(identity, pose string, embedding []byte, quality float64, byteLen int) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}
	if pose == "" {
		return fmt.Errorf("%w: empty pose", ErrInvalidTemplate)
	}
	if quality < 0 || quality > 100 {
		return fmt.Errorf("%w: quality %.1f outside 0-100", ErrInvalidTemplate, quality)
	}
	if byteLen > 0 && len(embedding) != byteLen {
		return fmt.Errorf("%w: embedding is %d bytes, want %d", ErrInvalidTemplate, len(embedding), byteLen)
	}
	return nil
}

// SortByQuality orders templates best first; equal scores keep their
// relative order.
func SortByQuality(ts []StoredTemplate) {
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].Quality > ts[j].Quality
	})
}

// TrainedPoses lists the distinct poses present, in first-seen order.
func TrainedPoses(ts []StoredTemplate) []string {
	seen := make(map[string]bool, len(ts))
	var out []string
	for _, t := range ts {
		if !seen[t.Pose] {
			seen[t.Pose] = true
			out = append(out, t.Pose)
		}
	}
	return out
}

// HasSufficientPoses reports whether every required pose has a template
// of at least minQuality, and lists the poses still missing.
func HasSufficientPoses(ts []StoredTemplate, required []string, minQuality float64) (bool, []string) {
	ok := make(map[string]bool, len(ts))
	for _, t := range ts {
		if t.Quality >= minQuality {
			ok[t.Pose] = true
		}
	}
	var missing []string
	for _, p := range required {
		if !ok[p] {
			missing = append(missing, p)
		}
	}
	return len(missing) == 0, missing
}
