package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases scheme and host", in: "HTTP://Giphy.COM/categories", want: "http://giphy.com/categories"},
		{name: "strips default http port", in: "http://giphy.com:80/a", want: "http://giphy.com/a"},
		{name: "strips default https port", in: "https://giphy.com:443/a", want: "https://giphy.com/a"},
		{name: "keeps custom port", in: "http://giphy.com:8080/a", want: "http://giphy.com:8080/a"},
		{name: "drops fragment", in: "http://giphy.com/a#top", want: "http://giphy.com/a"},
		{name: "sorts query", in: "http://giphy.com/a?b=2&a=1", want: "http://giphy.com/a?a=1&b=2"},
		{name: "adds root path", in: "http://giphy.com", want: "http://giphy.com/"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLInvalid(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("http://[::1")
	require.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "GET http://giphy.com/a?a=1&b=2", CacheKey("get", "HTTP://GIPHY.com:80/a?b=2&a=1#x"))
	require.NotEqual(t, CacheKey("GET", "http://giphy.com/a"), CacheKey("HEAD", "http://giphy.com/a"))
	require.Equal(t, "GET http://[::1", CacheKey("GET", "http://[::1"))
}
