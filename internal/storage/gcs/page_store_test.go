package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

func newTestStore(t *testing.T, handler http.Handler) *PageStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket", Prefix: "pages"}, nil)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"}, nil)
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{}, nil)
	require.Error(t, err)
}

func TestPutUploadsEncodedPage(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, "pages/m/neuroscope/l0n5.nrnp", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "NRNP")
		fmt.Fprintln(w, `{"name": "pages/m/neuroscope/l0n5.nrnp", "bucket": "test-bucket"}`)
	})
	store := newTestStore(t, handler)

	page := neuron.NewPage([]neuron.Importance{{Score: 1}})
	err := store.Put(context.Background(), neuron.Address{Model: "m", Layer: 0, Neuron: 5}, page)
	require.NoError(t, err)
}

func TestPutSurfacesServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	err := store.Put(context.Background(), neuron.Address{Model: "m"}, neuron.Page{})
	require.ErrorIs(t, err, neuron.ErrIO)
	require.Contains(t, err.Error(), "gs://test-bucket/pages/m/neuroscope/l0n0.nrnp")
}

func TestExists(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"error": {"code": 404, "message": "No such object"}}`)
			return
		}
		fmt.Fprintln(w, `{"name": "pages/m/neuroscope/l0n1.nrnp", "bucket": "test-bucket", "size": "10"}`)
	}))

	ok, err := store.Exists(context.Background(), neuron.Address{Model: "m", Layer: 0, Neuron: 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Exists(context.Background(), neuron.Address{Model: "missing", Layer: 0, Neuron: 1})
	require.NoError(t, err)
	require.False(t, ok)
}
