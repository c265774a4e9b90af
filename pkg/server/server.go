// Package server exposes frame verification and enrollment over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facecheck/pkg/enrollment"
	"github.com/MrCodeEU/facecheck/pkg/gallery"
	"github.com/MrCodeEU/facecheck/pkg/imaging"
	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/recognition"
	"github.com/MrCodeEU/facecheck/pkg/verify"
)

// MaxImageBytes bounds request bodies.
const MaxImageBytes = 10 << 20

// Verifier runs frames through the recognition pipeline.
type Verifier interface {
	SubmitFrame(ctx context.Context, sessionID string, image []byte) verify.Result
}

// Sessions manages liveness sessions.
type Sessions interface {
	Reset(id string) bool
}

// Enroller manages enrolled identities.
type Enroller interface {
	Enroll(ctx context.Context, req enrollment.Request) (*enrollment.Result, error)
	List(ctx context.Context) ([]gallery.IdentityInfo, error)
	Remove(ctx context.Context, identity string) error
	Clear(ctx context.Context, identity string) error
}

// Handler wires HTTP endpoints to the services.
type Handler struct {
	verifier Verifier
	sessions Sessions
	enroller Enroller
	metrics  http.Handler
	timeout  time.Duration
	log      *logrus.Entry
}

// New constructs a handler. metrics may be nil.
func New(v Verifier, s Sessions, e Enroller, metrics http.Handler, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		verifier: v,
		sessions: s,
		enroller: e,
		metrics:  metrics,
		timeout:  timeout,
		log:      logging.Component("server"),
	}
}

// Router returns the full route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(h.timeout))

		r.Post("/sessions", h.handleCreateSession)
		r.Post("/sessions/{id}/frames", h.handleSubmitFrame)
		r.Delete("/sessions/{id}", h.handleResetSession)

		r.Get("/identities", h.handleListIdentities)
		r.Post("/identities/{identity}/templates", h.handleEnroll)
		r.Delete("/identities/{identity}/templates", h.handleClearIdentity)
		r.Delete("/identities/{identity}", h.handleRemoveIdentity)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.WithFields(logging.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: uuid.NewString()})
}

func (h *Handler) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Reset(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FrameResponse is the JSON form of verify.Result.
type FrameResponse struct {
	Status     verify.Status    `json:"status"`
	SessionID  string           `json:"session_id"`
	Identity   string           `json:"identity,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Pose       recognition.Pose `json:"pose,omitempty"`
	Quality    float64          `json:"quality,omitempty"`
	Liveness   string           `json:"liveness,omitempty"`
	Actions    []string         `json:"actions,omitempty"`
	Code       verify.ErrorCode `json:"code,omitempty"`
	Message    string           `json:"message"`
	Retry      bool             `json:"retry"`
}

func fromResult(res verify.Result) FrameResponse {
	out := FrameResponse{
		Status:     res.Status,
		SessionID:  res.SessionID,
		Identity:   res.Identity,
		Confidence: res.Confidence,
		Pose:       res.Pose,
		Quality:    res.Quality,
		Liveness:   string(res.Liveness.State),
		Code:       res.Code,
		Message:    res.Message,
		Retry:      res.Retry,
	}
	for _, a := range res.Liveness.Seen {
		out.Actions = append(out.Actions, string(a))
	}
	return out
}

// statusFor maps a verification code to an HTTP status.
func statusFor(res verify.Result) int {
	switch res.Status {
	case verify.StatusSuccess:
		return http.StatusOK
	case verify.StatusPending:
		return http.StatusAccepted
	}
	switch res.Code {
	case verify.ErrCodeDecode:
		return http.StatusBadRequest
	case verify.ErrCodeNoMatch:
		return http.StatusUnauthorized
	case verify.ErrCodeInternal:
		return http.StatusInternalServerError
	case verify.ErrCodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) handleSubmitFrame(w http.ResponseWriter, r *http.Request) {
	img, _, err := readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(verify.ErrCodeDecode), err.Error())
		return
	}

	res := h.verifier.SubmitFrame(r.Context(), chi.URLParam(r, "id"), img)
	writeJSON(w, statusFor(res), fromResult(res))
}

// EnrollResponse is the JSON form of enrollment.Result.
type EnrollResponse struct {
	Identity   string           `json:"identity"`
	TemplateID string           `json:"template_id"`
	Pose       recognition.Pose `json:"pose"`
	Quality    float64          `json:"quality"`
	Complete   bool             `json:"complete"`
	Missing    []string         `json:"missing_poses"`
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	img, pose, err := readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(verify.ErrCodeDecode), err.Error())
		return
	}
	if p := r.URL.Query().Get("pose"); p != "" {
		pose = p
	}

	identity := chi.URLParam(r, "identity")
	res, err := h.enroller.Enroll(r.Context(), enrollment.Request{Identity: identity, Image: img, Pose: pose})
	if err != nil {
		h.writeEnrollError(w, err)
		return
	}

	missing := res.Missing
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusCreated, EnrollResponse{
		Identity:   identity,
		TemplateID: res.Template.ID,
		Pose:       res.Pose,
		Quality:    res.Quality,
		Complete:   res.Complete,
		Missing:    missing,
	})
}

func (h *Handler) writeEnrollError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gallery.ErrInvalidIdentity),
		errors.Is(err, gallery.ErrInvalidTemplate),
		errors.Is(err, enrollment.ErrUnknownPose):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, gallery.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		code := verify.CodeOf(err)
		status := http.StatusUnprocessableEntity
		if code == verify.ErrCodeInternal {
			status = http.StatusInternalServerError
			h.log.WithError(err).Error("Enrollment failed")
		} else if code == verify.ErrCodeDecode {
			status = http.StatusBadRequest
		}
		writeError(w, status, string(code), verify.GetErrorMessage(code))
	}
}

func (h *Handler) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	infos, err := h.enroller.List(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list identities")
		writeError(w, http.StatusInternalServerError, string(verify.ErrCodeInternal), "failed to list identities")
		return
	}
	if infos == nil {
		infos = []gallery.IdentityInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) handleRemoveIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.enroller.Remove(r.Context(), chi.URLParam(r, "identity")); err != nil {
		h.writeEnrollError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.enroller.Clear(r.Context(), chi.URLParam(r, "identity")); err != nil {
		h.writeEnrollError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type imageRequest struct {
	// Image is base64, optionally as a data URL.
	Image string `json:"image"`
	Pose  string `json:"pose,omitempty"`
}

// readImage accepts either a JSON body with a base64 image or raw
// image bytes.
func readImage(r *http.Request) ([]byte, string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	if len(body) > MaxImageBytes {
		return nil, "", fmt.Errorf("image larger than %d bytes", MaxImageBytes)
	}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return body, "", nil
	}

	var req imageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("invalid JSON body: %w", err)
	}
	img, err := imaging.DecodeBase64(req.Image)
	if err != nil {
		return nil, "", err
	}
	return img, req.Pose, nil
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the HTTP server until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, readTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
	}
	log := logging.Component("server")

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
