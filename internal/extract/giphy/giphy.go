// Package giphy extracts gif records from giphy listing pages.
package giphy

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/gif-crawler/internal/document"
)

// Selectors used when the document's query resource does not name them.
const (
	DefaultItemSelector  = ".hoverable-gif"
	DefaultImageSelector = "img"
	DefaultTagSelector   = ".tag"
	animatedAttr         = "data-animated"
)

// Gif is one listing entry.
type Gif struct {
	Src       string   `json:"src"`
	StaticSrc string   `json:"static_src"`
	Tags      []string `json:"tags"`
}

// Extract returns every gif on the page in document order. When an item has
// several images the last one wins. A nil or closed document yields nothing.
func Extract(doc *document.Document) []Gif {
	if doc == nil {
		return nil
	}
	base := doc.URL()
	itemSel := doc.Selector("gif.item", DefaultItemSelector)
	imageSel := doc.Selector("gif.static", DefaultImageSelector)
	tagSel := doc.Selector("gif.tag", DefaultTagSelector)

	var gifs []Gif
	doc.Find(itemSel).Each(func(_ int, item *goquery.Selection) {
		gif := Gif{Tags: []string{}}
		item.Find(imageSel).Each(func(_ int, img *goquery.Selection) {
			gif.Src = img.AttrOr(animatedAttr, "")
			gif.StaticSrc = resolve(base, img.AttrOr("src", ""))
		})
		item.Find(tagSel).Each(func(_ int, tag *goquery.Selection) {
			gif.Tags = append(gif.Tags, trimMarker(tag.Text()))
		})
		gifs = append(gifs, gif)
	})
	return gifs
}

// trimMarker drops the leading marker character, usually '#'.
func trimMarker(text string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}
	return string(runes[1:])
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
