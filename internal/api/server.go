package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/hash/sha256"
	"github.com/JakeFAU/neuronav/internal/metrics"
	"github.com/JakeFAU/neuronav/internal/middleware"
	"github.com/JakeFAU/neuronav/internal/registry"
)

// Resolver returns the interchange JSON for one neuron.
type Resolver interface {
	Resolve(ctx context.Context, model, service string, layer, neuron uint32) (string, error)
}

// Catalog lists what the data root holds.
type Catalog interface {
	Services() []registry.Service
	Models() ([]string, error)
}

const defaultRequestTimeout = 30 * time.Second

// Options configures NewServer. Batches may be nil, in which case the batch
// routes answer 503.
type Options struct {
	Resolver       Resolver
	Catalog        Catalog
	Batches        *BatchHandler
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the resolver and progress store.
type Server struct {
	router   chi.Router
	resolver Resolver
	catalog  Catalog
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	batches := opts.Batches
	if batches == nil {
		batches = NewBatchHandler(nil, logger)
	}
	s := &Server{
		resolver: opts.Resolver,
		catalog:  opts.Catalog,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.listModels)
		r.Get("/services", s.listServices)
		r.Get("/batches", batches.ListBatches)
		r.Get("/batches/{batch_id}", batches.GetBatch)
		r.Get("/{model}/{service}/{layer}/{neuron}", s.getPage)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getPage serves the stored page. Every lookup failure answers 503 with the
// error message; only malformed indices are the client's fault.
func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	service := chi.URLParam(r, "service")
	layer, err := parseIndex(chi.URLParam(r, "layer"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "layer must be an unsigned integer")
		return
	}
	n, err := parseIndex(chi.URLParam(r, "neuron"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "neuron must be an unsigned integer")
		return
	}
	if s.resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "page resolver unavailable")
		return
	}

	payload, err := s.resolver.Resolve(r.Context(), model, service, layer, n)
	if err != nil {
		s.logger.Debug("page lookup failed",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	body := []byte(payload)
	etag := sha256.ETag(body)
	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Values("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write page failed", zap.Error(err))
	}
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	models, err := s.catalog.Models()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) listServices(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": s.catalog.Services()})
}

func parseIndex(raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// etagMatches applies the weak comparison If-None-Match uses: any listed tag,
// with or without a W/ prefix, or "*" matches.
func etagMatches(headers []string, etag string) bool {
	for _, h := range headers {
		for _, tag := range strings.Split(h, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "*" || strings.TrimPrefix(tag, "W/") == strings.TrimPrefix(etag, "W/") {
				return true
			}
		}
	}
	return false
}
