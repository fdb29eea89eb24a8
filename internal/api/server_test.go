package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gif-crawler/internal/engine"
	"github.com/JakeFAU/gif-crawler/internal/pipeline"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	failing := NewServer(&fakeStats{}, nil, func(context.Context) error { return errors.New("postgres down") }, nil)
	rec = serve(t, failing, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "postgres down")

	closed := NewServer(&fakeStats{stats: engine.Stats{Closed: true}}, nil, nil, nil)
	rec = serve(t, closed, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	t.Parallel()

	stats := &fakeStats{stats: engine.Stats{Outstanding: 3, PlannedRetries: 1, SlotsInUse: 2, Capacity: 10, Drains: 4}}
	runs := &fakeRuns{summary: pipeline.Summary{Pages: 5, Gifs: 40, Recorded: 25}}
	rec := serve(t, NewServer(stats, runs, nil, nil), "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Engine engine.Stats     `json:"engine"`
		Run    pipeline.Summary `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, stats.stats, body.Engine)
	require.Equal(t, 25, body.Run.Recorded)
}

func TestServer_StatsWithoutRun(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(), "/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), `"run"`)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "gifcrawler_") || strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(panickyStats{}, nil, nil, nil), "/v1/stats")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := serve(t, newTestServer(), "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func newTestServer() *Server {
	return NewServer(&fakeStats{}, nil, nil, nil)
}

type fakeStats struct {
	stats engine.Stats
}

func (f *fakeStats) Stats() engine.Stats { return f.stats }

type fakeRuns struct {
	summary pipeline.Summary
}

func (f *fakeRuns) Summary() pipeline.Summary { return f.summary }

type panickyStats struct{}

func (panickyStats) Stats() engine.Stats { panic("stats exploded") }

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
