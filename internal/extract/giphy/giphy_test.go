package giphy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gif-crawler/internal/document"
)

const listing = `<html><body>
<div class="hoverable-gif">
  <img data-animated="http://media.giphy.com/cat1.gif" src="/static/cat1.png">
  <a class="tag">#cat</a><a class="tag">#funny</a>
</div>
<div class="hoverable-gif">
  <img src="/static/first.png">
  <img data-animated="http://media.giphy.com/cat2.gif" src="http://cdn.giphy.com/cat2.png">
</div>
<div class="other"><img data-animated="skip.gif"></div>
</body></html>`

func build(t *testing.T, cfg document.Config, uri, html string) *document.Document {
	t.Helper()
	doc, err := document.NewBuilder(cfg, nil).Build(context.Background(), uri, []byte(html))
	require.NoError(t, err)
	t.Cleanup(doc.Close)
	return doc
}

func TestExtract(t *testing.T) {
	t.Parallel()

	gifs := Extract(build(t, document.Config{}, "http://giphy.com/categories", listing))
	require.Len(t, gifs, 2)

	assert.Equal(t, Gif{
		Src:       "http://media.giphy.com/cat1.gif",
		StaticSrc: "http://giphy.com/static/cat1.png",
		Tags:      []string{"cat", "funny"},
	}, gifs[0])
	assert.Equal(t, Gif{
		Src:       "http://media.giphy.com/cat2.gif",
		StaticSrc: "http://cdn.giphy.com/cat2.png",
		Tags:      []string{},
	}, gifs[1])
}

func TestExtractWithoutBaseURL(t *testing.T) {
	t.Parallel()

	gifs := Extract(build(t, document.Config{}, "", listing))
	require.Len(t, gifs, 2)
	assert.Equal(t, "/static/cat1.png", gifs[0].StaticSrc)
}

func TestExtractNamedSelectorOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeResource(t, dir, "selectors:\n  gif.item: \"li.gif\"\n  gif.tag: \"em\"\n")
	html := `<ul><li class="gif"><img data-animated="a.gif" src="a.png"><em>#dog</em></li></ul>`

	gifs := Extract(build(t, document.Config{QueryResource: path}, "", html))
	require.Len(t, gifs, 1)
	assert.Equal(t, "a.gif", gifs[0].Src)
	assert.Equal(t, []string{"dog"}, gifs[0].Tags)
}

func TestExtractEdgeCases(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Extract(nil))

	doc := build(t, document.Config{}, "", listing)
	doc.Close()
	assert.Empty(t, Extract(doc))

	assert.Empty(t, Extract(build(t, document.Config{}, "", "<p>no gifs</p>")))
}

func TestTrimMarker(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cat", trimMarker("#cat"))
	assert.Equal(t, "", trimMarker("#"))
	assert.Equal(t, "", trimMarker(""))
	assert.Equal(t, "猫", trimMarker("#猫"))
}

func writeResource(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "selectors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
