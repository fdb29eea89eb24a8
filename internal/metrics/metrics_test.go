package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://giphy.com/categories", "giphy.com"},
		{"standard https", "https://Giphy.com/path", "giphy.com"},
		{"no scheme", "giphy.com/path", "giphy.com"},
		{"host with port", "giphy.com:8080", "giphy.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 0: "other", 999: "other"}
	for code, want := range cases {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %q; want %q", code, got, want)
		}
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchesTotal == nil || retriesTotal == nil || drainsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(fetchesTotal.WithLabelValues("metrics.test", "2xx"))
	ObserveFetch("http://metrics.test/a", 200, 10, 5*time.Millisecond)
	if got := testutil.ToFloat64(fetchesTotal.WithLabelValues("metrics.test", "2xx")); got != before+1 {
		t.Errorf("expected fetch counter to increase by 1, got %f -> %f", before, got)
	}

	retries := testutil.ToFloat64(retriesTotal)
	ObserveRetry()
	if got := testutil.ToFloat64(retriesTotal); got != retries+1 {
		t.Errorf("expected retries to increase by 1, got %f -> %f", retries, got)
	}

	SetPoolInUse(3)
	if got := testutil.ToFloat64(poolSlotsInUse); got != 3 {
		t.Errorf("expected pool gauge 3, got %f", got)
	}

	ObserveCharsetConversion("", "passthrough")
	if got := testutil.ToFloat64(charsetConversionsTotal.WithLabelValues("unknown", "passthrough")); got < 1 {
		t.Errorf("expected charset counter for unknown charset, got %f", got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://giphy.com", "https://media.giphy.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
