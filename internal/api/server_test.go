package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/codec"
	"github.com/JakeFAU/neuronav/internal/dispatch"
	"github.com/JakeFAU/neuronav/internal/neuron"
	"github.com/JakeFAU/neuronav/internal/registry"
	"github.com/JakeFAU/neuronav/internal/storage"
)

type stubResolver struct {
	payload string
	err     error
	calls   []string
}

func (s *stubResolver) Resolve(_ context.Context, model, service string, _, _ uint32) (string, error) {
	s.calls = append(s.calls, model+"/"+service)
	return s.payload, s.err
}

func serve(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetPageServesPayload(t *testing.T) {
	t.Parallel()

	res := &stubResolver{payload: `{"important_neurons":[]}`}
	srv := NewServer(Options{Resolver: res, Logger: zap.NewNop()})

	rec := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/solu-1l/neuroscope/0/12", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"important_neurons":[]}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, []string{"solu-1l/neuroscope"}, res.calls)

	req := httptest.NewRequest(http.MethodGet, "/api/solu-1l/neuroscope/0/12", nil)
	req.Header.Set("If-None-Match", rec.Header().Get("ETag"))
	again := serve(t, srv, req)
	assert.Equal(t, http.StatusNotModified, again.Code)
	assert.Empty(t, again.Body.String())
}

func TestGetPageIfNoneMatch(t *testing.T) {
	t.Parallel()

	srv := NewServer(Options{Resolver: &stubResolver{payload: `{"important_neurons":[]}`}})
	first := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/m/s/0/0", nil))
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")

	tests := []struct {
		name    string
		headers []string
		want    int
	}{
		{"exact", []string{etag}, http.StatusNotModified},
		{"list", []string{`"other", ` + etag}, http.StatusNotModified},
		{"weak", []string{"W/" + etag}, http.StatusNotModified},
		{"wildcard", []string{"*"}, http.StatusNotModified},
		{"repeated header", []string{`"other"`, etag}, http.StatusNotModified},
		{"mismatch", []string{`"other", "another"`}, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/m/s/0/0", nil)
			for _, h := range tc.headers {
				req.Header.Add("If-None-Match", h)
			}
			rec := serve(t, srv, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestGetPageErrorsAre503(t *testing.T) {
	t.Parallel()

	res := &stubResolver{err: errors.New(`service "nope" not found`)}
	srv := NewServer(Options{Resolver: res})

	rec := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/m/nope/0/0", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"service \"nope\" not found"}`, rec.Body.String())
}

func TestGetPageRejectsBadIndices(t *testing.T) {
	t.Parallel()

	srv := NewServer(Options{Resolver: &stubResolver{}})
	for _, path := range []string{
		"/api/m/s/-1/0",
		"/api/m/s/x/0",
		"/api/m/s/0/4294967296",
		"/api/m/s/0/1.5",
	} {
		rec := serve(t, srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGetPageWithoutResolver(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Options{}), httptest.NewRequest(http.MethodGet, "/api/m/s/0/0", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()

	srv := NewServer(Options{})
	rec := serve(t, srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(t, srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestCatalogRoutes(t *testing.T) {
	t.Parallel()

	reg, err := registry.Initialize(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	require.NoError(t, reg.AddService(registry.Service{Name: "neuroscope", Provider: registry.Neuroscope{}}))
	require.NoError(t, os.MkdirAll(reg.ModelDir("solu-1l"), 0o750))

	srv := NewServer(Options{Catalog: reg})

	rec := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"models":["solu-1l"]}`, rec.Body.String())

	rec = serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/services", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"services":[{"name":"neuroscope","provider":"neuroscope"}]}`, rec.Body.String())

	rec = serve(t, NewServer(Options{}), httptest.NewRequest(http.MethodGet, "/api/services", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetPageEndToEnd(t *testing.T) {
	t.Parallel()

	reg, err := registry.Initialize(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	require.NoError(t, reg.AddService(registry.Service{Name: "neuroscope", Provider: registry.Neuroscope{}}))
	idxA := neuron.Index{Layer: 0, Neuron: 1}
	idxB := neuron.Index{Layer: 0, Neuron: 2}
	page := neuron.NewPage([]neuron.Importance{{Target: idxA, Score: 0.3}, {Target: idxB, Score: -0.1}})
	require.NoError(t, codec.Default.Write(page, storage.PagePath(reg.Root(), "m", 0, 5)))

	srv := NewServer(Options{Resolver: dispatch.New(reg, nil), Catalog: reg})

	rec := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/m/neuroscope/0/5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Important []struct {
			Layer  uint32  `json:"layer"`
			Neuron uint32  `json:"neuron"`
			Score  float32 `json:"importance"`
		} `json:"important_neurons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Important, 2)
	assert.Equal(t, uint32(2), got.Important[0].Neuron)
	assert.Equal(t, uint32(1), got.Important[1].Neuron)

	rec = serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/missing/neuroscope/0/5", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "model directory not found")
}

func TestGetPageStaysInsideDataRoot(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()
	reg, err := registry.Initialize(filepath.Join(parent, "data"))
	require.NoError(t, err)
	require.NoError(t, reg.AddService(registry.Service{Name: "neuroscope", Provider: registry.Neuroscope{}}))
	outside := neuron.NewPage([]neuron.Importance{{Target: neuron.Index{Layer: 9, Neuron: 9}, Score: 42}})
	require.NoError(t, codec.Default.Write(outside, storage.PagePath(parent, "", 0, 0)))

	srv := NewServer(Options{Resolver: dispatch.New(reg, nil), Catalog: reg})

	rec := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/../neuroscope/0/0", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid model name")
	assert.NotContains(t, rec.Body.String(), "important_neurons")
}
