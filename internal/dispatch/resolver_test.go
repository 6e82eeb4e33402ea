package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/neuronav/internal/codec"
	"github.com/JakeFAU/neuronav/internal/neuron"
	"github.com/JakeFAU/neuronav/internal/registry"
	"github.com/JakeFAU/neuronav/internal/storage"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Initialize(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	require.NoError(t, reg.AddService(registry.Service{Name: "neuroscope", Provider: registry.Neuroscope{}}))
	require.NoError(t, reg.AddService(registry.Service{Name: "explain", Provider: registry.JSONFiles{Path: "explanations"}}))
	return reg
}

func writePage(t *testing.T, reg *registry.Registry, model string, layer, n uint32, page neuron.Page) string {
	t.Helper()
	path := storage.PagePath(reg.Root(), model, layer, n)
	require.NoError(t, codec.Default.Write(page, path))
	return path
}

func TestResolveNeuroscopeKeepsScoreOrder(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	idxA := neuron.Index{Layer: 0, Neuron: 1}
	idxB := neuron.Index{Layer: 0, Neuron: 2}
	writePage(t, reg, "m", 0, 5, neuron.NewPage([]neuron.Importance{
		{Target: idxA, Score: 0.3},
		{Target: idxB, Score: -0.1},
	}))

	payload, err := New(reg, nil).Resolve(context.Background(), "m", "neuroscope", 0, 5)
	require.NoError(t, err)

	var page neuron.Page
	require.NoError(t, page.UnmarshalJSON([]byte(payload)))
	require.Equal(t, []neuron.Importance{
		{Target: idxB, Score: -0.1},
		{Target: idxA, Score: 0.3},
	}, page.Entries())
	assert.Less(t, strings.Index(payload, `"neuron":2`), strings.Index(payload, `"neuron":1`))
}

func TestResolveJSONPassthrough(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	dir := filepath.Join(reg.ModelDir("m"), "explanations")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	raw := `{"explanation": "fires on  commas"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "l3n7.json"), []byte(raw), 0o600))

	payload, err := New(reg, nil).Resolve(context.Background(), "m", "explain", 3, 7)
	require.NoError(t, err)
	assert.Equal(t, raw, payload)
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	writePage(t, reg, "m", 0, 0, neuron.NewPage(nil))
	tampered := writePage(t, reg, "m", 0, 1, neuron.NewPage([]neuron.Importance{{Score: 1}}))
	data, err := os.ReadFile(tampered)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(tampered, data, 0o600))
	require.NoError(t, os.MkdirAll(reg.ModelDir("bare"), 0o750))

	r := New(reg, nil)
	cases := []struct {
		name     string
		model    string
		service  string
		layer    uint32
		neuron   uint32
		kind     error
		contains string
	}{
		{"missing model", "absent", "neuroscope", 0, 0, neuron.ErrNotFound, `model "absent"`},
		{"unknown service", "m", "nope", 0, 0, neuron.ErrKeyNotFound, `"nope"`},
		{"missing neuroscope dir", "bare", "neuroscope", 0, 0, neuron.ErrNotFound, "neuroscope directory not found"},
		{"missing json dir", "m", "explain", 0, 0, neuron.ErrNotFound, `service directory not found for service "explain"`},
		{"missing page", "m", "neuroscope", 0, 9, neuron.ErrNotFound, "layer 0 neuron 9"},
		{"tampered page", "m", "neuroscope", 0, 1, neuron.ErrCorruptData, "l0n1"},
		{"parent model", "..", "neuroscope", 0, 0, neuron.ErrNotFound, `invalid model name ".."`},
		{"nested model", "m/../..", "neuroscope", 0, 0, neuron.ErrNotFound, "invalid model name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := r.Resolve(context.Background(), tc.model, tc.service, tc.layer, tc.neuron)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestResolveMissingJSONFile(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t)
	require.NoError(t, os.MkdirAll(filepath.Join(reg.ModelDir("m"), "explanations"), 0o750))

	_, err := New(reg, nil).Resolve(context.Background(), "m", "explain", 1, 1)
	require.ErrorIs(t, err, neuron.ErrNotFound)
	assert.Contains(t, err.Error(), `read JSON file for service "explain" and model "m" at layer 1 neuron 1`)
}

func TestResolveHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(newRegistry(t), nil).Resolve(ctx, "m", "neuroscope", 0, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResultLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ok", resultLabel(nil))
	assert.Equal(t, "not_found", resultLabel(&neuron.PathError{Kind: neuron.ErrNotFound, Path: "p"}))
	assert.Equal(t, "unknown_service", resultLabel(neuron.ErrKeyNotFound))
	assert.Equal(t, "corrupt", resultLabel(neuron.ErrCorruptData))
	assert.Equal(t, "error", resultLabel(os.ErrPermission))
}
