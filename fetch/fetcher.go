// Package fetch performs single page downloads with typed failures.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/metrics"
)

const maxBodyBytes = 10 << 20

// Fetcher issues one GET per call. It never retries; retry policy belongs to callers.
type Fetcher struct {
	client    *http.Client
	userAgent string
	metrics   *metrics.Metrics
}

// NewTransport builds the shared transport. Certificate verification is
// disabled because the target host serves a misconfigured chain; this is a
// known relaxation, not a general default.
func NewTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
	}
}

// New builds a fetcher from cfg. m may be nil.
func New(cfg *config.Config, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Transport: NewTransport(cfg.Timeout),
			Timeout:   cfg.Timeout,
		},
		userAgent: cfg.UserAgent,
		metrics:   m,
	}
}

// WithTransport swaps the round tripper, mainly for tests.
func (f *Fetcher) WithTransport(rt http.RoundTripper) *Fetcher {
	f.client.Transport = rt
	return f
}

// Fetch downloads rawURL and returns the body decoded to UTF-8. Failures are
// ErrTimeout, ErrHTTPStatus or ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", ErrTransport{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)

	f.metrics.IncRequest("started")
	start := time.Now()
	text, err := f.do(req)
	f.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		f.metrics.IncError(Label(err))
		return "", err
	}
	f.metrics.IncRequest("succeeded")
	return text, nil
}

func (f *Fetcher) do(req *http.Request) (string, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return "", Classify(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return "", ErrHTTPStatus{Code: resp.StatusCode}
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", ErrTransport{Err: fmt.Errorf("decode body: %w", err)}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", Classify(err, 0)
	}
	return string(body), nil
}
