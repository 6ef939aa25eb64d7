package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/docextract/internal/common"
)

const maxBodyBytes = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type restHandler struct {
	api    QueueAPI
	logger *slog.Logger
}

// NewRouter mirrors QueueAPI as JSON over HTTP under /api/v1.
func NewRouter(api QueueAPI, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &restHandler{api: api, logger: logger}

	r := mux.NewRouter()
	r.Use(requestLogger(logger))
	r.Use(recovery(logger))

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)

	v1.HandleFunc("/documents", h.enqueue).Methods(http.MethodPost)
	v1.HandleFunc("/documents/batch", h.enqueueBatch).Methods(http.MethodPost)
	v1.HandleFunc("/documents/status", h.status).Methods(http.MethodGet).Queries("ref", "{ref}")
	v1.HandleFunc("/documents/export", h.export).Methods(http.MethodGet).Queries("ref", "{ref}")
	v1.HandleFunc("/results", h.latestResult).Methods(http.MethodGet).Queries("ref", "{ref}")
	v1.HandleFunc("/results/{id}", h.result).Methods(http.MethodGet)

	// stats before {id} so it is not captured as an id
	v1.HandleFunc("/queue/stats", h.stats).Methods(http.MethodGet)
	v1.HandleFunc("/queue/{id}", h.item).Methods(http.MethodGet)
	v1.HandleFunc("/queue/{id}/attempts", h.attempts).Methods(http.MethodGet)
	v1.HandleFunc("/queue/{id}/cancel", h.cancel).Methods(http.MethodPost)
	v1.HandleFunc("/queue/{id}/retry", h.retry).Methods(http.MethodPost)

	return r
}

func (h *restHandler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		h.respondError(w, fmt.Errorf("%w: malformed request body: %v", common.ErrInvalidInput, err))
		return false
	}
	return true
}

func (h *restHandler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.api.Enqueue(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *restHandler) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req EnqueueBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.api.EnqueueBatch(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *restHandler) status(w http.ResponseWriter, r *http.Request) {
	view, err := h.api.Status(r.Context(), StatusRequest{DocumentRef: mux.Vars(r)["ref"]})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *restHandler) export(w http.ResponseWriter, r *http.Request) {
	resp, err := h.api.ExportXLSX(r.Context(), StatusRequest{DocumentRef: mux.Vars(r)["ref"]})
	if err != nil {
		h.respondError(w, err)
		return
	}
	b, err := base64.StdEncoding.DecodeString(resp.XLSXBase64)
	if err != nil {
		h.respondError(w, err)
		return
	}
	name := path.Base(resp.DocumentRef) + ".xlsx"
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		h.logger.Warn("export write failed", "document_ref", resp.DocumentRef, "error", err)
	}
}

func (h *restHandler) latestResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.api.GetResult(r.Context(), ResultRequest{DocumentRef: mux.Vars(r)["ref"]})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *restHandler) result(w http.ResponseWriter, r *http.Request) {
	res, err := h.api.GetResult(r.Context(), ResultRequest{ResultID: mux.Vars(r)["id"]})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *restHandler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.api.Stats(r.Context(), Empty{})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, st)
}

func (h *restHandler) item(w http.ResponseWriter, r *http.Request) {
	view, err := h.api.GetItem(r.Context(), ItemRequest{QueueID: mux.Vars(r)["id"]})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *restHandler) attempts(w http.ResponseWriter, r *http.Request) {
	list, err := h.api.ListAttempts(r.Context(), ItemRequest{QueueID: mux.Vars(r)["id"]})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, list)
}

func (h *restHandler) cancel(w http.ResponseWriter, r *http.Request) {
	if _, err := h.api.Cancel(r.Context(), ItemRequest{QueueID: mux.Vars(r)["id"]}); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) retry(w http.ResponseWriter, r *http.Request) {
	if _, err := h.api.Retry(r.Context(), ItemRequest{QueueID: mux.Vars(r)["id"]}); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *restHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode response failed", "error", err)
	}
}

// HTTPStatus maps domain errors to HTTP status codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrAlreadyQueued):
		return http.StatusConflict
	case errors.Is(err, common.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *restHandler) respondError(w http.ResponseWriter, err error) {
	code := HTTPStatus(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		msg = "internal server error"
	}
	h.respondJSON(w, code, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func recovery(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("http handler panic", "path", r.URL.Path, "panic", rec)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
