// Package collyfetcher implements neuron.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/fetcher/neuroscope"
	"github.com/JakeFAU/neuronav/internal/metrics"
	"github.com/JakeFAU/neuronav/internal/neuron"
)

// DefaultTimeout bounds a single page fetch when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Fetcher retrieves neuroscope pages with one GET each and no retries.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState is filled in by collector callbacks.
type fetchState struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = neuroscope.DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	// Clones share the backend client, so transport and timeout are set once here.
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch downloads and parses the page for addr.
func (f *Fetcher) Fetch(ctx context.Context, addr neuron.Address) (neuron.Page, error) {
	pageURL := neuroscope.PageURL(f.cfg.BaseURL, addr)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	state := &fetchState{}
	collector := f.buildCollector(ctx, state)
	if err := f.runCollector(ctx, collector, pageURL, state); err != nil {
		metrics.ObserveFetch(metrics.ResultTransport, time.Since(start))
		f.logger.Debug("page fetch failed", zap.Stringer("address", addr), zap.Error(err))
		return neuron.Page{}, err
	}

	page, err := neuroscope.Parse(pageURL, state.body)
	if err != nil {
		metrics.ObserveFetch(metrics.ResultParse, time.Since(start))
		return neuron.Page{}, err
	}
	metrics.ObserveFetch(metrics.ResultOK, time.Since(start))
	f.logger.Debug("page fetched",
		zap.Stringer("address", addr),
		zap.Int("entries", page.Len()),
		zap.Duration("dur", time.Since(start)),
	)
	return page, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	f.configureCollectorHooks(collector, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html")
	})

	hooks.OnResponse(func(r *colly.Response) {
		state.status = r.StatusCode
		state.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.status = r.StatusCode
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, pageURL string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return &neuron.TransportError{URL: pageURL, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if err == nil {
			err = state.err
		}
		if err != nil {
			// The request context error is more useful than colly's wrapping of it.
			if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
				err = fmt.Errorf("%w: %v", ctxErr, err)
			}
			return &neuron.TransportError{URL: pageURL, StatusCode: state.status, Err: err}
		}
		if state.status < 200 || state.status > 299 {
			return &neuron.TransportError{URL: pageURL, StatusCode: state.status, Err: errors.New("unexpected status")}
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
