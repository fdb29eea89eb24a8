package document

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultResource []byte

const maxResourceBytes = 1 << 20

// ErrResource wraps failures to load or validate the query resource.
var ErrResource = errors.New("query resource")

type resourceFile struct {
	Selectors map[string]string `yaml:"selectors"`
}

// loadResource reads the named-selector file at location. An empty location
// uses the embedded default; http(s) URLs are fetched with client.
func loadResource(ctx context.Context, client *http.Client, location string) (map[string]string, error) {
	raw, err := readResource(ctx, client, location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	selectors, err := parseResource(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	return selectors, nil
}

func readResource(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return defaultResource, nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse location: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return fetchResource(ctx, client, location)
	case "file":
		return readFile(u.Path)
	case "":
		return readFile(location)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func fetchResource(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", location, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResourceBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return data, nil
}

func parseResource(raw []byte) (map[string]string, error) {
	var file resourceFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	out := make(map[string]string, len(file.Selectors))
	for name, sel := range file.Selectors {
		if _, err := cascadia.Compile(sel); err != nil {
			return nil, fmt.Errorf("selector %q: %w", name, err)
		}
		out[name] = sel
	}
	return out, nil
}
