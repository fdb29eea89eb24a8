// Package document builds queryable parse trees from fetched HTML.
//
// Every Document carries the named selectors of a query resource, loaded
// once per Builder. A Document is owned by one handler at a time and must be
// closed when that owner is done with it.
package document

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// Document is a parse tree plus the named selectors bound to it.
type Document struct {
	mu        sync.Mutex
	uri       *url.URL
	doc       *goquery.Document
	selectors map[string]string
}

// URL returns the URI the document was fetched from, or nil.
func (d *Document) URL() *url.URL {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uri
}

// Root returns the whole document as a selection.
func (d *Document) Root() *goquery.Selection {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return &goquery.Selection{}
	}
	return d.doc.Selection
}

// Find runs a CSS selector against the document. A closed document
// matches nothing.
func (d *Document) Find(selector string) *goquery.Selection {
	return d.Root().Find(selector)
}

// Selector returns the named selector, or fallback if the resource lacks it.
func (d *Document) Selector(name, fallback string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sel, ok := d.selectors[name]; ok && sel != "" {
		return sel
	}
	return fallback
}

// Named runs the named selector. Unknown names match nothing.
func (d *Document) Named(name string) *goquery.Selection {
	sel := d.Selector(name, "")
	if sel == "" {
		return &goquery.Selection{}
	}
	return d.Find(sel)
}

// Close releases the parse tree. It is safe to call more than once.
// Selections obtained before Close still point into the old tree, so
// handlers must not keep them past their return; later queries on the
// Document match nothing.
func (d *Document) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc = nil
	d.selectors = nil
}

// Closed reports whether Close has been called.
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc == nil
}

// Config controls the Builder.
type Config struct {
	// QueryResource locates the named-selector file: empty for the built-in
	// set, a filesystem path, a file:// URL, or an http(s):// URL.
	QueryResource string
	HTTPClient    *http.Client
}

// Builder parses bodies into Documents.
type Builder struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	selectors map[string]string
}

// NewBuilder creates a Builder. The query resource is loaded lazily.
func NewBuilder(cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, logger: logger.Named("document")}
}

// Selectors returns the query resource, loading it on first use. Failed
// loads are not cached.
func (b *Builder) Selectors(ctx context.Context) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selectors != nil {
		return b.selectors, nil
	}
	selectors, err := loadResource(ctx, b.cfg.HTTPClient, b.cfg.QueryResource)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("query resource loaded",
		zap.String("location", b.cfg.QueryResource),
		zap.Int("selectors", len(selectors)),
	)
	b.selectors = selectors
	return selectors, nil
}

// Build parses body and binds it to uri. No partial document is returned
// on error.
func (b *Builder) Build(ctx context.Context, uri string, body []byte) (*Document, error) {
	selectors, err := b.Selectors(ctx)
	if err != nil {
		return nil, err
	}

	var parsed *url.URL
	if uri != "" {
		parsed, err = url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse document url: %w", err)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Url = parsed

	return &Document{uri: parsed, doc: doc, selectors: selectors}, nil
}
