package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/neuron"
)

const pageHTML = `<html><body><table class="importances">
<tr data-layer="0" data-neuron="1"><td class="score">0.3</td></tr>
<tr data-layer="0" data-neuron="2"><td class="score">-0.1</td></tr>
</table></body></html>`

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestFetchParsesPage(t *testing.T) {
	t.Parallel()

	seen := make(chan *http.Request, 1)
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(pageHTML))
	})

	f := New(Config{BaseURL: server.URL, UserAgent: "neuronav-test", Timeout: time.Second}, zap.NewNop())
	page, err := f.Fetch(context.Background(), neuron.Address{Model: "solu-1l", Layer: 0, Neuron: 5})
	require.NoError(t, err)

	req := <-seen
	require.Equal(t, "/solu-1l/0/5.html", req.URL.Path)
	require.Equal(t, "neuronav-test", req.UserAgent())
	entries := page.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, neuron.Index{Layer: 0, Neuron: 2}, entries[0].Target)
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(pageHTML))
	})
	f := New(Config{BaseURL: server.URL}, nil)
	addr := neuron.Address{Model: "m", Layer: 1, Neuron: 1}

	_, err := f.Fetch(context.Background(), addr)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), addr)
	require.NoError(t, err)
}

func TestFetchNonSuccessStatusIsTransportError(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	})
	f := New(Config{BaseURL: server.URL, Timeout: time.Second}, nil)

	_, err := f.Fetch(context.Background(), neuron.Address{Model: "m", Layer: 2, Neuron: 9})
	require.ErrorIs(t, err, neuron.ErrTransport)
	var terr *neuron.TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, http.StatusNotFound, terr.StatusCode)
	require.Equal(t, server.URL+"/m/2/9.html", terr.URL)
}

func TestFetchMalformedBodyIsParseError(t *testing.T) {
	t.Parallel()

	server := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>maintenance</body></html>"))
	})
	f := New(Config{BaseURL: server.URL}, nil)

	_, err := f.Fetch(context.Background(), neuron.Address{Model: "m"})
	require.ErrorIs(t, err, neuron.ErrParse)
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	f := New(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	_, err := f.Fetch(context.Background(), neuron.Address{Model: "m"})
	require.ErrorIs(t, err, neuron.ErrTransport)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	f := New(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, neuron.Address{Model: "m"})
	require.ErrorIs(t, err, neuron.ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	state := &fetchState{}
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, state)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	req := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(req)
	require.Equal(t, "text/html", req.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	require.Equal(t, http.StatusOK, state.status)
	require.Equal(t, "body", string(state.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	require.Equal(t, http.StatusBadGateway, state.status)
	require.EqualError(t, state.err, "boom")
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	require.Equal(t, DefaultTimeout, f.cfg.Timeout)
	require.Equal(t, "https://neuroscope.io/", f.cfg.BaseURL)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
