package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/brunobiangulo/nexus"
	"github.com/brunobiangulo/nexus/graph"
	"github.com/brunobiangulo/nexus/parser"
	"github.com/brunobiangulo/nexus/store"
)

type handler struct {
	engine  nexus.Engine
	parsers *parser.Registry
	log     *zap.Logger
}

func newHandler(e nexus.Engine, logger *zap.Logger) *handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &handler{engine: e, parsers: parser.NewRegistry(), log: logger}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /checksums", h.handleListChecksums)
	mux.HandleFunc("DELETE /checksums/{fp}", h.handleDeleteChecksum)
	mux.HandleFunc("DELETE /entities", h.handleDeleteEntity)
	mux.HandleFunc("DELETE /relationships", h.handleDeleteRelationship)
	mux.HandleFunc("GET /entities/similar", h.handleSimilar)
	mux.HandleFunc("GET /reviews", h.handleListReviews)
	mux.HandleFunc("POST /reviews/{id}/resolve", h.handleResolveReview)
	mux.HandleFunc("GET /health", h.handleHealth)
	if m := h.engine.Metrics(); m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	return mux
}

// POST /ingest
// Accepts a multipart file upload, JSON with a file path, or JSON with
// inline text and a source name.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)
			if safeName == "." || safeName == string(filepath.Separator) {
				writeError(w, http.StatusBadRequest, "file name is required")
				return
			}

			tmpDir, err := os.MkdirTemp("", "nexus-upload-")
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				h.log.Error("creating temp dir", zap.Error(err))
				return
			}
			defer os.RemoveAll(tmpDir)

			tmpPath := filepath.Join(tmpDir, safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				h.log.Error("creating temp file", zap.Error(err))
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				h.log.Error("saving uploaded file", zap.Error(err))
				return
			}
			dst.Close()

			// The upload is recorded under its file name, not the temp path.
			doc, err := h.parsers.Parse(ctx, tmpPath)
			if err != nil {
				if !errors.Is(err, nexus.ErrUnsupportedFormat) {
					err = fmt.Errorf("%w: %s: %v", nexus.ErrParsingFailed, safeName, err)
				}
				h.writeIngestError(w, safeName, err)
				return
			}
			rep, err := h.engine.IngestText(ctx, safeName, doc.Text)
			if err != nil {
				h.writeIngestError(w, safeName, err)
				return
			}
			writeJSON(w, http.StatusOK, rep)
			return
		}
	}

	var req struct {
		Path   string `json:"path"`
		Source string `json:"source"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path' or 'text'")
		return
	}

	if req.Text != "" {
		source := req.Source
		if source == "" {
			source = "inline"
		}
		rep, err := h.engine.IngestText(ctx, source, req.Text)
		if err != nil {
			h.writeIngestError(w, source, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path or text is required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	rep, err := h.engine.Ingest(ctx, absPath)
	if err != nil {
		h.writeIngestError(w, absPath, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handler) writeIngestError(w http.ResponseWriter, source string, err error) {
	switch {
	case errors.Is(err, nexus.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, nexus.ErrEmptyDocument), errors.Is(err, nexus.ErrParsingFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		h.log.Error("ingest error", zap.String("source", source), zap.Error(err))
	}
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		h.log.Error("list documents error", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		h.log.Error("stats error", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /checksums
func (h *handler) handleListChecksums(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.Checksums(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list checksums")
		h.log.Error("list checksums error", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checksums": list})
}

// DELETE /checksums/{fp}
func (h *handler) handleDeleteChecksum(w http.ResponseWriter, r *http.Request) {
	fp := r.PathValue("fp")
	res, err := h.engine.DeleteChecksum(r.Context(), fp)
	h.writeDeleteResult(w, res, err, zap.String("checksum", fp))
}

// DELETE /entities?name=
func (h *handler) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	res, err := h.engine.DeleteEntity(r.Context(), name)
	h.writeDeleteResult(w, res, err, zap.String("entity", name))
}

// DELETE /relationships?source=&target=
func (h *handler) handleDeleteRelationship(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source, target := q.Get("source"), q.Get("target")
	if source == "" || target == "" {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}
	res, err := h.engine.DeleteRelationship(r.Context(), source, target)
	h.writeDeleteResult(w, res, err, zap.String("source", source), zap.String("target", target))
}

func (h *handler) writeDeleteResult(w http.ResponseWriter, res *store.DeleteResult, err error, fields ...zap.Field) {
	var conflict *graph.Conflict
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      conflict.Error(),
			"kind":       conflict.Kind.String(),
			"dependents": conflict.Existing,
		})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "delete failed")
		h.log.Error("delete error", append(fields, zap.Error(err))...)
	case !res.Found:
		writeJSON(w, http.StatusNotFound, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /entities/similar?q=&k=
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("q")
	if text == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := 10
	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "k must be between 1 and 100")
			return
		}
		k = n
	}
	matches, err := h.engine.SimilarEntities(r.Context(), text, k)
	switch {
	case errors.Is(err, nexus.ErrEmbeddingUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "similarity search failed")
		h.log.Error("similar entities error", zap.Error(err))
	default:
		writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
	}
}

// GET /reviews?status=
func (h *handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", store.ReviewOpen, store.ReviewAccepted, store.ReviewDismissed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	items, err := h.engine.Reviews(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reviews")
		h.log.Error("list reviews error", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": items})
}

// POST /reviews/{id}/resolve
func (h *handler) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Action != graph.ActionAccept && req.Action != graph.ActionDismiss {
		writeError(w, http.StatusBadRequest, "action must be accept or dismiss")
		return
	}

	err := h.engine.ResolveReview(r.Context(), id, req.Action)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no open review item "+id)
	case errors.Is(err, graph.ErrNotAcceptable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "resolve failed")
		h.log.Error("resolve review error", zap.String("id", id), zap.Error(err))
	default:
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Action})
	}
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
