// Package httpfetcher implements crawler.Transport on net/http with
// gzip, deflate and brotli body decoding.
package httpfetcher

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/JakeFAU/gif-crawler/internal/crawler"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 * 1024 * 1024
)

// ErrBodyTooLarge is returned when a body exceeds Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Config controls HTTP fetching behavior.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	// Headers are added to every request unless the task already sets them.
	Headers map[string]string
}

// Fetcher implements crawler.Transport. One client is kept per proxy.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

var _ crawler.Transport = (*Fetcher)(nil)

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:     cfg,
		logger:  logger.Named("http_fetcher"),
		clients: make(map[string]*http.Client),
	}
}

// Fetch issues one request. Non-2xx statuses are returned as responses.
func (f *Fetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	client, err := f.client(req.Proxy)
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URI, nil)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range f.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, values := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("http fetch failed: %w", err)
	}

	body, err := f.readBody(resp)
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	finalURL := req.URI
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	f.logger.Debug("fetched",
		zap.String("url", finalURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.String("proxy", req.Proxy),
	)

	return crawler.FetchResponse{
		URI:        finalURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

// readBody decodes the Content-Encoding and enforces the size cap.
// Decode failures are returned as errors so the attempt can be retried.
func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, errors.New("empty response body")
	}

	closers := []io.Closer{resp.Body}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()
	if !hasBody(resp) {
		return []byte{}, nil
	}

	// A declared Content-Encoding on an empty body is an empty body.
	raw := bufio.NewReader(resp.Body)
	if _, err := raw.Peek(1); errors.Is(err, io.EOF) {
		return []byte{}, nil
	}
	reader := io.Reader(raw)

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch {
	case strings.Contains(encoding, "gzip"):
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case encoding == "br":
		reader = brotli.NewReader(raw)
	case encoding == "deflate":
		fl := flate.NewReader(raw)
		reader = fl
		closers = append(closers, fl)
	}

	limited := io.LimitReader(reader, f.cfg.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		if encoding != "" {
			return nil, fmt.Errorf("decode %s body: %w", encoding, err)
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("%w of %d bytes", ErrBodyTooLarge, f.cfg.MaxBodyBytes)
	}
	return body, nil
}

// hasBody reports whether the response can carry a payload at all.
func hasBody(resp *http.Response) bool {
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return false
	}
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotModified:
		return false
	}
	return resp.ContentLength != 0
}

func (f *Fetcher) client(proxy string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.clients[proxy]; ok {
		return c, nil
	}
	transport := newHTTPTransport()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	c := &http.Client{Transport: transport}
	f.clients[proxy] = c
	return c, nil
}

// CloseIdleConnections releases pooled connections of every client.
func (f *Fetcher) CloseIdleConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		c.CloseIdleConnections()
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
		IdleConnTimeout:       90 * time.Second,
	}
}
