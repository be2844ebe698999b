package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brunobiangulo/nexus"
	"github.com/brunobiangulo/nexus/graph"
	"github.com/brunobiangulo/nexus/metrics"
	"github.com/brunobiangulo/nexus/store"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	nexus.Engine

	ingestedText   string
	ingestedSource string
	deleteErr      error
	deleteRes      *store.DeleteResult
	resolveErr     error
	resolved       [2]string
	similarErr     error
	metrics      *metrics.Collector
}

func (f *fakeEngine) IngestText(_ context.Context, source, text string) (*nexus.IngestReport, error) {
	f.ingestedText = text
	f.ingestedSource = source
	if strings.TrimSpace(text) == "" {
		return nil, nexus.ErrEmptyDocument
	}
	return &nexus.IngestReport{Source: source, Chunks: 1, ChunksProcessed: 1, EntitiesCreated: 2}, nil
}

func (f *fakeEngine) Ingest(_ context.Context, path string) (*nexus.IngestReport, error) {
	if strings.HasSuffix(path, ".rtf") {
		return nil, nexus.ErrUnsupportedFormat
	}
	return &nexus.IngestReport{Source: path}, nil
}

func (f *fakeEngine) Stats(context.Context) (*store.Stats, error) {
	return &store.Stats{Documents: 1, Entities: 2, OpenReviews: 1}, nil
}

func (f *fakeEngine) DeleteChecksum(context.Context, string) (*store.DeleteResult, error) {
	return f.deleteRes, f.deleteErr
}

func (f *fakeEngine) DeleteEntity(context.Context, string) (*store.DeleteResult, error) {
	return f.deleteRes, f.deleteErr
}

func (f *fakeEngine) Reviews(_ context.Context, status string) ([]store.ReviewItem, error) {
	return []store.ReviewItem{{ID: "r1", Kind: "RelationshipCollision", Status: store.ReviewOpen}}, nil
}

func (f *fakeEngine) ResolveReview(_ context.Context, id, action string) error {
	f.resolved = [2]string{id, action}
	return f.resolveErr
}

func (f *fakeEngine) SimilarEntities(context.Context, string, int) ([]store.EntityMatch, error) {
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	return []store.EntityMatch{{Entity: store.Entity{Name: "Alpha"}, Score: 0.9}}, nil
}

func (f *fakeEngine) Metrics() *metrics.Collector { return f.metrics }

func serve(t *testing.T, f *fakeEngine, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	if f.metrics == nil {
		f.metrics = metrics.NewCollector("test", nil)
	}
	mux := newHandler(f, zap.NewNop()).routes()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIngestInlineText(t *testing.T) {
	f := &fakeEngine{}
	rec := serve(t, f, http.MethodPost, "/ingest", `{"source":"memo","text":"Alpha bought Beta"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alpha bought Beta", f.ingestedText)
	out := decode(t, rec)
	assert.Equal(t, "memo", out["source"])
	assert.EqualValues(t, 2, out["entities_created"])
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIngestUpload(t *testing.T) {
	f := &fakeEngine{metrics: metrics.NewCollector("test", nil)}
	mux := newHandler(f, zap.NewNop()).routes()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, uploadRequest(t, "../../notes.md", "Alpha bought Beta"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "notes.md", f.ingestedSource)
	assert.Equal(t, "Alpha bought Beta", f.ingestedText)
	assert.Equal(t, "notes.md", decode(t, rec)["source"])

	tests := []struct {
		name    string
		file    string
		content string
		code    int
	}{
		{"unsupported format", "memo.rtf", "x", http.StatusUnsupportedMediaType},
		{"corrupt document", "memo.docx", "x", http.StatusUnprocessableEntity},
		{"empty document", "memo.txt", "  ", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, uploadRequest(t, tt.file, tt.content))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestIngestPathUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memo.rtf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	body, err := json.Marshal(map[string]string{"path": path})
	require.NoError(t, err)

	rec := serve(t, &fakeEngine{}, http.MethodPost, "/ingest", string(body))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestIngestRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"nothing to ingest", `{}`, http.StatusBadRequest},
		{"missing file", `{"path":"/definitely/not/here.txt"}`, http.StatusBadRequest},
		{"empty text", `{"text":"   "}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeEngine{}, http.MethodPost, "/ingest", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestStats(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 2, out["entities"])
	assert.EqualValues(t, 1, out["open_reviews"])
}

func TestDeleteChecksum(t *testing.T) {
	f := &fakeEngine{deleteRes: &store.DeleteResult{Found: true, Claims: 3}}
	rec := serve(t, f, http.MethodDelete, "/checksums/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decode(t, rec)["claims"])

	f = &fakeEngine{deleteRes: &store.DeleteResult{}}
	rec = serve(t, f, http.MethodDelete, "/checksums/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f = &fakeEngine{deleteErr: &graph.Conflict{
		Kind:       graph.DeletionConflict,
		Existing:   &store.DependentsError{Target: "checksum abc", Claims: 2},
		Resolution: graph.ResolutionRefused,
	}}
	rec = serve(t, f, http.MethodDelete, "/checksums/abc", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DeletionConflict", decode(t, rec)["kind"])
}

func TestDeleteEntityRequiresName(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodDelete, "/entities", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f := &fakeEngine{deleteRes: &store.DeleteResult{Found: true, Entities: 1}}
	rec = serve(t, f, http.MethodDelete, "/entities?name=Alpha", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReviews(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/reviews?status=open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["reviews"], 1)

	rec = serve(t, &fakeEngine{}, http.MethodGet, "/reviews?status=weird", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveReview(t *testing.T) {
	f := &fakeEngine{}
	rec := serve(t, f, http.MethodPost, "/reviews/r1/resolve", `{"action":"accept"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"r1", "accept"}, f.resolved)

	rec = serve(t, &fakeEngine{}, http.MethodPost, "/reviews/r1/resolve", `{"action":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &fakeEngine{resolveErr: store.ErrNotFound}, http.MethodPost, "/reviews/r9/resolve", `{"action":"dismiss"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, &fakeEngine{resolveErr: graph.ErrNotAcceptable}, http.MethodPost, "/reviews/r1/resolve", `{"action":"accept"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSimilarEntities(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/entities/similar?q=Alpha&k=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["matches"], 1)

	rec = serve(t, &fakeEngine{}, http.MethodGet, "/entities/similar?q=Alpha&k=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, &fakeEngine{similarErr: nexus.ErrEmbeddingUnavailable}, http.MethodGet, "/entities/similar?q=Alpha", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	rec := serve(t, &fakeEngine{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, &fakeEngine{}, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := authMiddleware("secret", ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	recoveryMiddleware(zap.NewNop(), boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
