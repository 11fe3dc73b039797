// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package api serves the knowledge-card operations over HTTP with JSON
// bodies.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/internal/corpus"
	"github.com/pdiddy/kbsync/internal/journal"
	"github.com/pdiddy/kbsync/internal/syncer"
	"github.com/pdiddy/kbsync/pkg/types"
)

// Journal looks up the recorded state of a document.
type Journal interface {
	Document(ctx context.Context, path string) (journal.DocumentStatus, error)
}

// DocumentResponse is the body of GET /documents/*.
type DocumentResponse struct {
	Excerpt types.Excerpt           `json:"excerpt"`
	Journal *journal.DocumentStatus `json:"journal,omitempty"`
}

// Handler holds the HTTP handlers.
type Handler struct {
	svc     *syncer.Service
	journal Journal
	logger  *zap.Logger
}

// NewRouter mounts every route. j may be nil. An empty token disables
// authentication.
func NewRouter(svc *syncer.Service, j Journal, token string, logger *zap.Logger) chi.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc, journal: j, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(token))
		r.Get("/coverage", h.Coverage)
		r.Get("/documents", h.ListDocuments)
		r.Get("/documents/*", h.GetDocument)
		r.Post("/sync", h.SyncAll)
		r.Post("/sync/*", h.SyncDocument)
		r.Post("/prune", h.Prune)
	})
	return r
}

// AuthMiddleware requires "Authorization: Bearer <token>" when token is
// not empty.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Coverage handles GET /coverage?include_stale=.
func (h *Handler) Coverage(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Coverage(boolParam(r, "include_stale", true))
	if err != nil {
		h.fail(w, "coverage", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListDocuments handles GET /documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, _ *http.Request) {
	l, err := h.svc.Listing()
	if err != nil {
		h.fail(w, "listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// GetDocument handles GET /documents/*?max_chars=.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	rel := docPath(r)
	if rel == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	maxChars, _ := strconv.Atoi(r.URL.Query().Get("max_chars"))

	ex, err := h.svc.Read(rel, maxChars)
	if err != nil {
		h.fail(w, "read document", err)
		return
	}
	resp := DocumentResponse{Excerpt: ex}
	if h.journal != nil {
		st, err := h.journal.Document(r.Context(), strings.TrimPrefix(ex.Path, h.svc.Corpus().Name()+"/"))
		switch {
		case err == nil:
			resp.Journal = &st
		case !errors.Is(err, journal.ErrNotFound):
			h.logger.Warn("journal lookup failed", zap.String("path", rel), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// SyncDocument handles POST /sync/*?force=&role=.
func (h *Handler) SyncDocument(w http.ResponseWriter, r *http.Request) {
	rel := docPath(r)
	if rel == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	res, err := h.svc.Upsert(r.Context(), rel, syncer.UpsertOptions{
		Force: boolParam(r, "force", false),
		Role:  r.URL.Query().Get("role"),
	})
	if err != nil {
		writeJSON(w, statusFor(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncAll handles POST /sync?force=&role=.
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	report := h.svc.SyncAll(r.Context(), syncer.SyncOptions{
		Force: boolParam(r, "force", false),
		Role:  r.URL.Query().Get("role"),
	})
	status := http.StatusOK
	if !report.OK {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, report)
}

// Prune handles POST /prune.
func (h *Handler) Prune(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Prune(r.Context())
	if err != nil {
		h.fail(w, "prune", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, corpus.ErrPathEscapes), errors.Is(err, corpus.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// docPath extracts the document path after the route prefix. Encoded
// slashes are accepted.
func docPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func boolParam(r *http.Request, name string, def bool) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
