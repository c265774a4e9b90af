package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCodeEU/facecheck/pkg/liveness"
	"github.com/MrCodeEU/facecheck/pkg/verify"
)

func TestSessionLifecycle(t *testing.T) {
	m := New()

	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded(liveness.EndTimeout)
	m.ActionDetected(liveness.ActionBlink)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsEnded.WithLabelValues(liveness.EndTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("blink")))
}

func TestFrameProcessed(t *testing.T) {
	m := New()

	m.FrameProcessed(verify.StatusPending, "", 10*time.Millisecond)
	m.FrameProcessed(verify.StatusFailed, verify.ErrCodeNoMatch, 20*time.Millisecond)
	m.FrameProcessed(verify.StatusFailed, verify.ErrCodeNoMatch, 20*time.Millisecond)
	m.ObserveMatchDistance(0.12)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Frames.WithLabelValues("failed", "NO_MATCH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Frames.WithLabelValues("pending", "")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.MatchDistance))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionEnded("expired")
		m.ActionDetected(liveness.ActionSmile)
		m.FrameProcessed(verify.StatusSuccess, "", time.Millisecond)
		m.ObserveMatchDistance(0.1)
		m.SetGalleryTemplates(3)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetGalleryTemplates(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "facecheck_gallery_templates 7"))
}

func TestIndependentRegistries(t *testing.T) {
	// Separate instances must not collide on registration.
	a, b := New(), New()
	a.SessionStarted()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ActiveSessions))
}
