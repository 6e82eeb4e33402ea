package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/registry"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "neuronav.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func neuroscopeServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var n int
		if _, err := fmt.Sscanf(filepath.Base(r.URL.Path), "%d.html", &n); err != nil {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintf(w, `<table class="importances">
<tr data-layer="1" data-neuron="%d"><td class="score">%d.5</td></tr>
</table>`, n, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitAndAddService(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "data")
	cfg := writeConfig(t, "logging:\n  level: error\n")

	out, err := run(t, "--config", cfg, "--data", root, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized")

	_, err = run(t, "--config", cfg, "--data", root, "init")
	require.Error(t, err)

	_, err = run(t, "--config", cfg, "--data", root, "add-service", "neuroscope")
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "--data", root, "add-service", "attn", "--json-path", "attn_json")
	require.NoError(t, err)
	_, err = run(t, "--config", cfg, "--data", root, "add-service", "neuroscope")
	require.ErrorIs(t, err, registry.ErrDuplicateService)

	reg, err := registry.Open(root)
	require.NoError(t, err)
	assert.Equal(t, []registry.Service{
		{Name: "attn", Provider: registry.JSONFiles{Path: "attn_json"}},
		{Name: "neuroscope", Provider: registry.Neuroscope{}},
	}, reg.Services())
}

func TestAddServiceRejectsEscapingPath(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "data")
	cfg := writeConfig(t, "logging:\n  level: error\n")
	_, err := run(t, "--config", cfg, "--data", root, "init")
	require.NoError(t, err)

	_, err = run(t, "--config", cfg, "--data", root, "add-service", "bad", "--json-path", "../outside")
	require.Error(t, err)
}

func TestScrapeCollect(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := neuroscopeServer(t, &hits)
	cfg := writeConfig(t, fmt.Sprintf(`
fetch:
  base_url: %s
storage:
  provider: memory
logging:
  level: error
`, srv.URL))

	out, err := run(t, "--config", cfg, "--data", t.TempDir(), "scrape", "solu-1l", "1", "3", "--collect")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	var pages []struct {
		Important []struct {
			Neuron uint32  `json:"neuron"`
			Score  float32 `json:"importance"`
		} `json:"important_neurons"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &pages))
	require.Len(t, pages, 3)
	for i, p := range pages {
		require.Len(t, p.Important, 1)
		assert.Equal(t, uint32(i), p.Important[0].Neuron)
	}
}

func TestScrapeToStoreSkipsStoredPages(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := neuroscopeServer(t, &hits)
	root := t.TempDir()
	cfg := writeConfig(t, fmt.Sprintf(`
fetch:
  base_url: %s
scrape:
  concurrency: 2
logging:
  level: error
`, srv.URL))

	out, err := run(t, "--config", cfg, "--data", root, "scrape", "solu-1l", "1", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "4 fetched, 0 skipped, 4/4 stored")
	assert.FileExists(t, filepath.Join(root, "solu-1l", "neuroscope", "l1n3.nrnp"))

	out, err = run(t, "--config", cfg, "--data", root, "scrape", "solu-1l", "1", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "0 fetched, 4 skipped, 4/4 stored")
	assert.Equal(t, int32(4), hits.Load())
}

func TestScrapeFailurePropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	cfg := writeConfig(t, fmt.Sprintf("fetch:\n  base_url: %s\nstorage:\n  provider: memory\nlogging:\n  level: error\n", srv.URL))

	_, err := run(t, "--config", cfg, "--data", t.TempDir(), "scrape", "m", "0", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `of model "m"`)
}

func TestScrapeRejectsBadArgs(t *testing.T) {
	t.Parallel()

	cfg := writeConfig(t, "logging:\n  level: error\n")
	tests := [][]string{
		{"scrape", "m", "-1", "3"},
		{"scrape", "m", "0", "many"},
		{"scrape", "m", "0"},
		{"scrape", "..", "0", "3"},
		{"scrape", "a/b", "0", "3"},
	}
	for _, args := range tests {
		_, err := run(t, append([]string{"--config", cfg, "--data", t.TempDir()}, args...)...)
		assert.Error(t, err, args)
	}
}

func TestRunServerStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv, time.Second, zap.NewNop()) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runServer did not return after cancel")
	}
}
