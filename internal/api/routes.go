// Package api provides the HTTP API: the push webhook, health endpoints and
// the read-only lineage queries.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/statisticsnorway/blueprint/internal/graph"
	"github.com/statisticsnorway/blueprint/internal/hook"
	"github.com/statisticsnorway/blueprint/internal/lineage"
	"github.com/statisticsnorway/blueprint/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Media types served by the query endpoints.
const (
	MediaJSON       = "application/json"
	MediaRepository = "application/vnd.ssb.blueprint.repository+json"
	MediaRevision   = "application/vnd.ssb.blueprint.revision+json"
	MediaNotebook   = "application/vnd.ssb.blueprint.notebook+json"
	MediaDAG        = "application/vnd.ssb.blueprint.dag+json"
	MediaIPynb      = "application/x-ipynb+json"
)

const maxHookBody = 25 << 20

var errMissingPath = errors.New("query parameter path is required")

// Stats reports on the graph store.
type Stats interface {
	Stats(ctx context.Context) (*graph.Stats, error)
	Ping(ctx context.Context) error
}

// Submitter accepts push events for processing.
type Submitter interface {
	Submit(ctx context.Context, ev *hook.PushEvent) (<-chan error, error)
}

// Handler serves the HTTP API.
type Handler struct {
	lineage     *lineage.Engine
	stats       Stats
	hooks       Submitter
	verifier    *hook.Verifier
	hookTimeout time.Duration
	version     string
	logger      *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithVersion sets the version reported by the health endpoints.
func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// WithHookTimeout sets how long a webhook request waits for its job before
// answering 202 Accepted.
func WithHookTimeout(d time.Duration) Option {
	return func(h *Handler) { h.hookTimeout = d }
}

// NewHandler creates a new API handler.
func NewHandler(engine *lineage.Engine, stats Stats, hooks Submitter, verifier *hook.Verifier, opts ...Option) *Handler {
	h := &Handler{
		lineage:     engine,
		stats:       stats,
		hooks:       hooks,
		verifier:    verifier,
		hookTimeout: 10 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /githubhook", h.GitHubHook)

	const commit = "/api/v1/repositories/{repoID}/commits/{commitID}"
	const notebook = commit + "/notebooks/{notebookID}"

	mux.HandleFunc("GET /api/v1/repositories", h.jsonAs(h.listRepositories, MediaRepository, MediaJSON))
	mux.HandleFunc("GET /api/v1/repositories/{repoID}/commits", h.jsonAs(h.listCommits, MediaRevision, MediaJSON))
	mux.HandleFunc("GET "+commit, h.jsonAs(h.getCommit, MediaRevision, MediaJSON))
	mux.HandleFunc("GET "+commit+"/notebooks", Negotiate(
		MediaTypeHandler{MediaNotebook, h.render(MediaNotebook, h.listNotebooks)},
		MediaTypeHandler{MediaJSON, h.render(MediaJSON, h.listNotebooks)},
		MediaTypeHandler{MediaDAG, h.render(MediaDAG, h.dependencyGraph)},
	))
	mux.HandleFunc("GET "+notebook, Negotiate(
		MediaTypeHandler{MediaNotebook, h.render(MediaNotebook, h.getNotebook)},
		MediaTypeHandler{MediaJSON, h.render(MediaJSON, h.getNotebook)},
		MediaTypeHandler{MediaIPynb, h.NotebookContent},
	))
	mux.HandleFunc("GET "+notebook+"/next", h.jsonAs(h.forward, MediaDAG, MediaJSON))
	mux.HandleFunc("GET "+notebook+"/previous", h.jsonAs(h.backward, MediaDAG, MediaJSON))
	mux.HandleFunc("GET /api/v1/datasets", h.jsonAs(h.dataset, MediaJSON))

	return mux
}

// ----- Health -----

// HealthResponse reports liveness and graph size.
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Graph   *graph.Stats `json:"graph,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("reading graph stats", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Version: h.version})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version, Graph: stats})
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.stats.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "graph store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ready", Version: h.version})
}

// ----- Webhook -----

// HookResponse describes what became of a push delivery.
type HookResponse struct {
	Status     string `json:"status"`
	Delivery   string `json:"delivery"`
	Repository string `json:"repository,omitempty"`
	Commit     string `json:"commit,omitempty"`
}

// GitHubHook verifies a push delivery and processes the commit it names.
// It answers 201 when processing finishes within the hook timeout, and 202
// when it is still running; the job is not cancelled in that case.
func (h *Handler) GitHubHook(w http.ResponseWriter, r *http.Request) {
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		metrics.HookDeliveries.WithLabelValues(strconv.Itoa(sw.status)).Inc()
	}()
	w = sw

	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery == "" {
		delivery = uuid.NewString()
	}
	log := h.logger.With(zap.String("delivery", delivery))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", err)
		return
	}
	if err := h.verifier.Verify(r.Header.Get(hook.SignatureHeader), body); err != nil {
		log.Warn("rejected webhook", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid signature", nil)
		return
	}
	if r.Header.Get("X-GitHub-Event") == "ping" {
		writeJSON(w, http.StatusOK, HookResponse{Status: "pong", Delivery: delivery})
		return
	}

	ev, err := hook.ParsePushEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid push payload", err)
		return
	}
	resp := HookResponse{Delivery: delivery, Repository: ev.Repository.CloneURL, Commit: ev.CommitID()}
	if ev.Deleted {
		resp.Status = "ignored"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	done, err := h.hooks.Submit(r.Context(), ev)
	if errors.Is(err, hook.ErrPoolExhausted) {
		log.Warn("worker pool exhausted", zap.String("repository", resp.Repository), zap.String("commit", resp.Commit))
		writeError(w, http.StatusTooManyRequests, "all workers are busy", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to submit job", err)
		return
	}

	timer := time.NewTimer(h.hookTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			log.Error("processing push",
				zap.String("repository", resp.Repository),
				zap.String("commit", resp.Commit),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "processing failed", err)
			return
		}
		resp.Status = "processed"
		writeJSON(w, http.StatusCreated, resp)
	case <-timer.C:
		log.Info("push still processing", zap.String("repository", resp.Repository), zap.String("commit", resp.Commit))
		resp.Status = "accepted"
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// ----- Lineage queries -----

type loader func(r *http.Request) (any, error)

// jsonAs serves the same JSON document under each of the media types.
func (h *Handler) jsonAs(load loader, mediaTypes ...string) http.HandlerFunc {
	handlers := make([]MediaTypeHandler, 0, len(mediaTypes))
	for _, mt := range mediaTypes {
		handlers = append(handlers, MediaTypeHandler{MediaType: mt, Handler: h.render(mt, load)})
	}
	return Negotiate(handlers...)
}

func (h *Handler) render(mediaType string, load loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := load(r)
		if err != nil {
			h.queryError(w, r, err)
			return
		}
		writeJSONAs(w, http.StatusOK, mediaType, v)
	}
}

func (h *Handler) queryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, lineage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", err)
		return
	case errors.Is(err, errMissingPath):
		writeError(w, http.StatusBadRequest, "bad request", err)
		return
	}
	h.logger.Error("query failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "query failed", err)
}

func (h *Handler) listRepositories(r *http.Request) (any, error) {
	return h.lineage.Repositories(r.Context())
}

func (h *Handler) listCommits(r *http.Request) (any, error) {
	return h.lineage.Commits(r.Context(), r.PathValue("repoID"))
}

func (h *Handler) getCommit(r *http.Request) (any, error) {
	return h.lineage.Commit(r.Context(), r.PathValue("repoID"), r.PathValue("commitID"))
}

func (h *Handler) listNotebooks(r *http.Request) (any, error) {
	return h.lineage.Notebooks(r.Context(), r.PathValue("repoID"), r.PathValue("commitID"))
}

func (h *Handler) dependencyGraph(r *http.Request) (any, error) {
	return h.lineage.DependencyGraph(r.Context(), r.PathValue("repoID"), r.PathValue("commitID"))
}

func (h *Handler) getNotebook(r *http.Request) (any, error) {
	return h.lineage.Notebook(r.Context(), r.PathValue("repoID"), r.PathValue("commitID"), r.PathValue("notebookID"))
}

func (h *Handler) forward(r *http.Request) (any, error) {
	return h.lineage.ForwardDependencies(r.Context(), r.PathValue("repoID"), r.PathValue("commitID"), r.PathValue("notebookID"))
}

func (h *Handler) backward(r *http.Request) (any, error) {
	return h.lineage.BackwardDependencies(r.Context(), r.PathValue("repoID"), r.PathValue("commitID"), r.PathValue("notebookID"))
}

func (h *Handler) dataset(r *http.Request) (any, error) {
	p := r.URL.Query().Get("path")
	if p == "" {
		return nil, errMissingPath
	}
	return h.lineage.Dataset(r.Context(), p)
}

// NotebookContent serves the notebook document as stored in the repository.
func (h *Handler) NotebookContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.lineage.NotebookContent(r.Context(), r.PathValue("repoID"), r.PathValue("commitID"), r.PathValue("notebookID"))
	if err != nil {
		h.queryError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", MediaIPynb)
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// ----- Helpers -----

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSONAs(w, status, MediaJSON, v)
}

func writeJSONAs(w http.ResponseWriter, status int, mediaType string, v any) {
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
