package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"debate-agent/internal/usecase"
)

// Router returns the HTTP form of the API for long-running deployments.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", apiKeyHeader, correlationHeader},
		ExposedHeaders: []string{correlationHeader},
		MaxAge:         300,
	}))
	r.Use(h.correlate)

	r.Get("/", h.rootHTTP)
	r.Get("/healthz", h.healthHTTP)
	r.Post("/api/debate", h.debateHTTP)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, routeNotFound())
	})
	return r
}

// correlate echoes or mints the correlation id before any handler writes.
func (h *Handler) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(correlationHeader, correlationID(r.Header.Get(correlationHeader)))
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rootHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, healthText)
}

func (h *Handler) healthHTTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, healthResult())
}

func (h *Handler) debateHTTP(w http.ResponseWriter, r *http.Request) {
	corrID := w.Header().Get(correlationHeader)
	logger := h.logger.With("correlationId", corrID, "requestId", middleware.GetReqID(r.Context()))

	var res result
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil && h.authorized(r.Header.Get(apiKeyHeader)) {
		res = errorResult(http.StatusBadRequest, usecase.ErrorInvalidInput, reasonInvalidBody)
	} else {
		res = h.debate(r.Context(), r.Header.Get(apiKeyHeader), body)
	}

	logger.InfoContext(r.Context(), "request handled", "method", r.Method, "path", r.URL.Path, "status", res.status)
	writeJSON(w, res)
}

func writeJSON(w http.ResponseWriter, res result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.status)
	_ = json.NewEncoder(w).Encode(res.body)
}
