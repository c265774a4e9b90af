package matcher

import (
	"errors"
	"sync"
	"testing"

	"github.com/MrCodeEU/facecheck/pkg/embedding"
)

var codec = embedding.NewCodec(4)

func encode(t testing.TB, v embedding.Vector) []byte {
	t.Helper()
	b, err := codec.Encode(v)
	if err != nil {
		t.Fatalf("encode %v: %v", v, err)
	}
	return b
}

func tmpl(t testing.TB, id, pose string, quality float64, v embedding.Vector) Template {
	return Template{ID: id, Pose: pose, Quality: quality, Embedding: encode(t, v)}
}

func newMatcher(t testing.TB, cfg Config, ids ...Identity) *Matcher {
	m := New(cfg)
	m.Swap(NewGallery(codec, ids))
	return m
}

func TestMatch_Nearest(t *testing.T) {
	m := newMatcher(t, DefaultConfig(),
		Identity{Key: "E001", Templates: []Template{
			tmpl(t, "t1", "front", 80, embedding.Vector{1, 0, 0, 0}),
			tmpl(t, "t2", "left", 80, embedding.Vector{0.9, 0.1, 0, 0}),
		}},
		Identity{Key: "E002", Templates: []Template{
			tmpl(t, "t3", "front", 80, embedding.Vector{0, 1, 0, 0}),
		}},
	)

	got, err := m.Match(embedding.Vector{2, 0.05, 0, 0}, "front", 70)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if got.Identity != "E001" {
		t.Errorf("expected E001, got %s", got.Identity)
	}
	if got.QueryQuality != 70 {
		t.Errorf("expected query quality carried through, got %f", got.QueryQuality)
	}
	if got.Confidence() != got.Distance {
		t.Error("confidence must equal distance")
	}

	if _, err := m.Match(embedding.Vector{0, 0, 1, 0}, "front", 70); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch for orthogonal query, got %v", err)
	}
}

func TestMatch_ThresholdIsExclusive(t *testing.T) {
	stored := embedding.Vector{1, 0.2, 0.1, 0}
	query := embedding.Vector{1, 0.5, -0.3, 0.2}

	d, err := embedding.CosineDistance(query, stored)
	if err != nil {
		t.Fatalf("CosineDistance failed: %v", err)
	}

	id := Identity{Key: "E001", Templates: []Template{tmpl(t, "t1", "front", 90, stored)}}

	atThreshold := newMatcher(t, Config{Threshold: d, MinQuality: 35}, id)
	if _, err := atThreshold.Match(query, "front", 50); !errors.Is(err, ErrNoMatch) {
		t.Errorf("distance equal to threshold must not match, got %v", err)
	}

	justAbove := newMatcher(t, Config{Threshold: d + 1e-9, MinQuality: 35}, id)
	got, err := justAbove.Match(query, "front", 50)
	if err != nil {
		t.Fatalf("expected match just below threshold: %v", err)
	}
	if got.Distance != d {
		t.Errorf("expected distance %v, got %v", d, got.Distance)
	}
}

func TestMatch_LowQualityExcluded(t *testing.T) {
	v := embedding.Vector{1, 2, 3, 4}
	m := newMatcher(t, DefaultConfig(),
		Identity{Key: "E001", Templates: []Template{tmpl(t, "t1", "front", 34.9, v)}},
	)

	if _, err := m.Match(v, "front", 90); !errors.Is(err, ErrNoMatch) {
		t.Errorf("identical low-quality template must be excluded, got %v", err)
	}
	if m.Gallery().Templates() != 1 {
		t.Error("low-quality template should stay in the gallery")
	}

	m2 := newMatcher(t, DefaultConfig(),
		Identity{Key: "E001", Templates: []Template{tmpl(t, "t1", "front", 35, v)}},
	)
	if _, err := m2.Match(v, "front", 90); err != nil {
		t.Errorf("quality exactly at the floor should be eligible: %v", err)
	}
}

func TestMatch_CorruptTemplateSkipped(t *testing.T) {
	good := embedding.Vector{0, 1, 0, 0}
	g := NewGallery(codec, []Identity{
		{Key: "E001", Templates: []Template{
			{ID: "short", Pose: "front", Quality: 90, Embedding: []byte{1, 2, 3}},
			{ID: "zero", Pose: "left", Quality: 90, Embedding: make([]byte, 16)},
		}},
		{Key: "E002", Templates: []Template{tmpl(t, "ok", "front", 90, good)}},
	})

	diags := g.Diagnostics()
	if len(diags) != 2 {
		t.Fatalf("expected 2 diagnostics, got %d", len(diags))
	}
	for _, d := range diags {
		if d.Identity != "E001" || !errors.Is(d.Err, embedding.ErrCorruptTemplate) {
			t.Errorf("unexpected diagnostic %+v", d)
		}
	}

	m := New(DefaultConfig())
	m.Swap(g)
	got, err := m.Match(good, "front", 90)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if got.Identity != "E002" {
		t.Errorf("expected E002, got %s", got.Identity)
	}
}

func TestMatch_TieGoesToFirstIdentity(t *testing.T) {
	v := embedding.Vector{1, 1, 0, 0}
	m := newMatcher(t, DefaultConfig(),
		Identity{Key: "E001", Templates: []Template{tmpl(t, "a", "front", 90, v)}},
		Identity{Key: "E002", Templates: []Template{tmpl(t, "b", "front", 90, v)}},
	)

	for i := 0; i < 10; i++ {
		got, err := m.Match(v, "front", 90)
		if err != nil {
			t.Fatalf("Match failed: %v", err)
		}
		if got.Identity != "E001" {
			t.Fatalf("expected first enumerated identity, got %s", got.Identity)
		}
	}
}

func TestMatch_PoseFilter(t *testing.T) {
	ids := []Identity{
		{Key: "E001", Templates: []Template{tmpl(t, "l", "left", 90, embedding.Vector{1, 0, 0, 0})}},
		{Key: "E002", Templates: []Template{tmpl(t, "f", "front", 90, embedding.Vector{1, 0.3, 0, 0})}},
	}
	query := embedding.Vector{1, 0, 0, 0}

	open := newMatcher(t, DefaultConfig(), ids...)
	got, err := open.Match(query, "front", 80)
	if err != nil || got.Identity != "E001" {
		t.Errorf("without filter expected E001, got %+v, %v", got, err)
	}

	cfg := DefaultConfig()
	cfg.PoseFilter = true
	filtered := newMatcher(t, cfg, ids...)
	got, err = filtered.Match(query, "front", 80)
	if err != nil || got.Identity != "E002" {
		t.Errorf("with filter expected E002, got %+v, %v", got, err)
	}
}

func TestMatch_InvalidQuery(t *testing.T) {
	m := newMatcher(t, DefaultConfig(),
		Identity{Key: "E001", Templates: []Template{tmpl(t, "t", "front", 90, embedding.Vector{1, 0, 0, 0})}},
	)

	tests := []struct {
		name  string
		query embedding.Vector
		want  error
	}{
		{"zero vector", embedding.Vector{0, 0, 0, 0}, embedding.ErrZeroVector},
		{"wrong dimension", embedding.Vector{1, 0}, embedding.ErrDimension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Match(tt.query, "front", 90); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMatch_EmptyGallery(t *testing.T) {
	m := New(DefaultConfig())
	if _, err := m.Match(embedding.Vector{1, 0, 0, 0}, "front", 90); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}

func TestCandidates(t *testing.T) {
	m := newMatcher(t, DefaultConfig(),
		Identity{Key: "E001", Templates: []Template{
			tmpl(t, "a", "front", 90, embedding.Vector{1, 0, 0, 0}),
			tmpl(t, "b", "left", 90, embedding.Vector{0, 1, 0, 0}),
		}},
		Identity{Key: "E002", Templates: []Template{tmpl(t, "c", "front", 10, embedding.Vector{1, 0, 0, 0})}},
	)

	cands, err := m.Candidates(embedding.Vector{0, 1, 0, 0}, "")
	if err != nil {
		t.Fatalf("Candidates failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected only E001 eligible, got %+v", cands)
	}
	if cands[0].Identity != "E001" || cands[0].Distance > 1e-9 {
		t.Errorf("unexpected candidate %+v", cands[0])
	}
}

func TestSwap_ConcurrentReaders(t *testing.T) {
	v := embedding.Vector{1, 0, 0, 0}
	m := newMatcher(t, DefaultConfig(),
		Identity{Key: "E001", Templates: []Template{tmpl(t, "a", "front", 90, v)}},
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				got, err := m.Match(v, "front", 90)
				if err != nil {
					t.Errorf("Match failed mid-swap: %v", err)
					return
				}
				if got.Identity != "E001" && got.Identity != "E002" {
					t.Errorf("unexpected identity %s", got.Identity)
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		key := "E001"
		if j%2 == 1 {
			key = "E002"
		}
		m.Swap(NewGallery(codec, []Identity{
			{Key: key, Templates: []Template{tmpl(t, "a", "front", 90, v)}},
		}))
	}
	wg.Wait()
}

func BenchmarkMatch(b *testing.B) {
	c := embedding.NewCodec(embedding.DefaultDim)
	ids := make([]Identity, 200)
	for i := range ids {
		v := make(embedding.Vector, c.Dim)
		for j := range v {
			v[j] = float32((i*31+j*7)%97) / 97
		}
		enc, _ := c.Encode(v)
		ids[i] = Identity{Key: string(rune('A' + i%26)), Templates: []Template{{ID: "t", Pose: "front", Quality: 90, Embedding: enc}}}
	}
	m := New(DefaultConfig())
	m.Swap(NewGallery(c, ids))
	q := make(embedding.Vector, c.Dim)
	q[0] = 1

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Match(q, "front", 90)
	}
}
