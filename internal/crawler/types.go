package crawler

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/JakeFAU/gif-crawler/internal/document"
)

// TargetKind identifies which variant a Target holds.
type TargetKind int

// Target variants.
const (
	TargetURL TargetKind = iota
	TargetHTML
	TargetResolver
)

// String returns a short label for logs and metrics.
func (k TargetKind) String() string {
	switch k {
	case TargetURL:
		return "url"
	case TargetHTML:
		return "html"
	case TargetResolver:
		return "resolver"
	default:
		return "unknown"
	}
}

// Resolver produces a concrete URI once the task holds a slot.
type Resolver func(ctx context.Context) (string, error)

// Target is what a task fetches: a URI, a pre-supplied document, or a
// resolver that yields a URI.
type Target struct {
	kind    TargetKind
	uri     string
	html    string
	resolve Resolver
}

// URL targets a network resource.
func URL(uri string) Target {
	return Target{kind: TargetURL, uri: uri}
}

// HTML targets a document body that is processed without a network call.
func HTML(body string) Target {
	return Target{kind: TargetHTML, html: body}
}

// Resolve targets whatever URI fn returns.
func Resolve(fn Resolver) Target {
	return Target{kind: TargetResolver, resolve: fn}
}

// Kind reports the variant.
func (t Target) Kind() TargetKind { return t.kind }

// URI returns the URI for URL targets.
func (t Target) URI() string { return t.uri }

// Body returns the document for HTML targets.
func (t Target) Body() string { return t.html }

// Resolver returns the resolver for resolver targets.
func (t Target) Resolver() Resolver { return t.resolve }

// String describes the target for logging.
func (t Target) String() string {
	switch t.kind {
	case TargetURL:
		return t.uri
	case TargetHTML:
		return "html:inline"
	case TargetResolver:
		return "resolver:pending"
	default:
		return "unknown"
	}
}

// Handler receives the outcome of a task. err is set for terminal failures
// and resp/doc may be nil. Returned errors are raised to the engine owner
// after the slot has been released. doc is closed when the handler returns
// unless auto-close is off, so selections taken from it must not be kept.
type Handler func(err error, resp *Response, doc *document.Document) error

// Task is one fetch request submitted to the engine.
type Task struct {
	Target  Target
	Handler Handler
	Options []Option
}

// NewTask builds a URL task.
func NewTask(uri string, handler Handler, opts ...Option) Task {
	return Task{Target: URL(uri), Handler: handler, Options: opts}
}

// Response is the normalized result handed to a Handler.
type Response struct {
	TaskID     string
	URI        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Charset    string
	FromCache  bool
	Duration   time.Duration
	FetchedAt  time.Time
	Options    Options
}

// Text returns the body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// LooksLikeHTML reports whether the body starts with '<' after whitespace.
func (r *Response) LooksLikeHTML() bool {
	if r == nil {
		return false
	}
	trimmed := bytes.TrimLeft(r.Body, " \t\r\n\f\v")
	return len(trimmed) > 0 && trimmed[0] == '<'
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Header = r.Header.Clone()
	cp.Body = append([]byte(nil), r.Body...)
	cp.Options = r.Options.Clone()
	return &cp
}

// FetchRequest is what a Transport needs to issue one request.
type FetchRequest struct {
	URI     string
	Method  string
	Header  http.Header
	Proxy   string
	Timeout time.Duration
}

// FetchResponse is the raw result returned by a Transport.
type FetchResponse struct {
	URI        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}
