// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gif-crawler/internal/app"
	"github.com/JakeFAU/gif-crawler/internal/config"
)

const categoryPage = `<html><body>
<div class="hoverable-gif"><img data-animated="http://media.giphy.com/a.gif" src="/a.png"><span class="tag">#cat</span></div>
<div class="hoverable-gif"><img data-animated="http://media.giphy.com/b.gif" src="/b.png"></div>
</body></html>`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Sink.Path = filepath.Join(t.TempDir(), "out", "cat")
	cfg.Task.Retries = 0
	return cfg
}

func TestNewAndRun(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(categoryPage))
	}))
	defer srv.Close()

	for _, kind := range []string{config.TransportHTTP, config.TransportColly} {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			cfg.Transport.Kind = kind
			a, err := app.New(context.Background(), cfg, zap.NewNop())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			summary, err := a.Run(ctx, []string{srv.URL + "/categories"})
			require.NoError(t, err)
			assert.Equal(t, 1, summary.Pages)
			assert.Equal(t, 2, summary.Recorded)

			a.Close()
			data, err := os.ReadFile(cfg.Sink.Path)
			require.NoError(t, err)
			assert.Equal(t, "http://media.giphy.com/a.gif\nhttp://media.giphy.com/b.gif\n", string(data))
		})
	}
}

func TestHandlerServesStats(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBloom
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, cfg.Crawl.Category, a.Config().Crawl.Category)
	assert.NotNil(t, a.Logger())
	require.NoError(t, a.Ready(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Engine struct {
			Capacity int `json:"capacity"`
		} `json:"engine"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, cfg.Engine.PoolCapacity, body.Engine.Capacity)
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*config.Config){
		"transport": func(c *config.Config) { c.Transport.Kind = "carrier-pigeon" },
		"cache":     func(c *config.Config) { c.Cache.Backend = "floppy" },
		"store dsn": func(c *config.Config) {
			c.Store.Enabled = true
			c.Store.DSN = "postgres://%zz"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			mutate(&cfg)
			a, err := app.New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestNewFailsOnUnwritableSink(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Sink.Path = filepath.Join(blocker, "cat")

	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "init sink")
}
