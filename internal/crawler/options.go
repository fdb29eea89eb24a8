package crawler

import (
	"net/http"
	"strings"
	"time"
)

// Defaults applied when no engine or task value is given.
const (
	DefaultMethod     = http.MethodGet
	DefaultPriority   = 5
	DefaultRetries    = 3
	DefaultRetryDelay = 10 * time.Second
	DefaultTimeout    = 30 * time.Second
	DefaultUserAgent  = "gif-crawler/0.1"

	acceptCharsetUTF8 = "utf-8;q=0.7,*;q=0.3"
)

// Options are the per-task settings. The engine holds one copy as defaults
// and every task works on its own deep copy.
type Options struct {
	Method            string
	Header            http.Header
	Priority          int
	Cache             bool
	SkipDuplicates    bool
	Retries           int
	RetryDelay        time.Duration
	Timeout           time.Duration
	ForceUTF8         bool
	IncomingEncoding  string
	BuildDocument     bool
	AutoCloseDocument bool
	UserAgent         string
	Referer           string
	Proxies           []string
}

// DefaultOptions returns the baseline task settings.
func DefaultOptions() Options {
	return Options{
		Method:            DefaultMethod,
		Priority:          DefaultPriority,
		Retries:           DefaultRetries,
		RetryDelay:        DefaultRetryDelay,
		Timeout:           DefaultTimeout,
		BuildDocument:     true,
		AutoCloseDocument: true,
		UserAgent:         DefaultUserAgent,
	}
}

// Option mutates a task's copy of Options.
type Option func(*Options)

// Clone returns a deep copy.
func (o Options) Clone() Options {
	cp := o
	cp.Header = o.Header.Clone()
	if o.Proxies != nil {
		cp.Proxies = append([]string(nil), o.Proxies...)
	}
	return cp
}

// With returns a copy of o with opts applied in order.
func (o Options) With(opts ...Option) Options {
	cp := o.Clone()
	for _, opt := range opts {
		if opt != nil {
			opt(&cp)
		}
	}
	if cp.Method == "" {
		cp.Method = DefaultMethod
	}
	cp.Method = strings.ToUpper(cp.Method)
	return cp
}

// UsesCache reports whether the cache table applies. Only GET and HEAD
// requests with caching or dedup enabled participate.
func (o Options) UsesCache() bool {
	if !o.Cache && !o.SkipDuplicates {
		return false
	}
	return o.Method == http.MethodGet || o.Method == http.MethodHead
}

// WantsDocument reports whether a parse tree should be built for a body.
func (o Options) WantsDocument() bool {
	return o.BuildDocument && o.Method != http.MethodHead
}

// RequestHeader builds the outgoing headers without touching o.Header.
func (o Options) RequestHeader() http.Header {
	h := o.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if o.ForceUTF8 && h.Get("Accept-Charset") == "" {
		h.Set("Accept-Charset", acceptCharsetUTF8)
	}
	if h.Get("Accept-Encoding") == "" {
		h.Set("Accept-Encoding", "gzip")
	}
	if o.UserAgent != "" {
		h.Set("User-Agent", o.UserAgent)
	}
	if o.Referer != "" {
		h.Set("Referer", o.Referer)
	}
	return h
}

// FetchRequest builds the transport request for uri. The first proxy in the
// rotation is used.
func (o Options) FetchRequest(uri string) FetchRequest {
	req := FetchRequest{
		URI:     uri,
		Method:  o.Method,
		Header:  o.RequestHeader(),
		Timeout: o.Timeout,
	}
	if len(o.Proxies) > 0 {
		req.Proxy = o.Proxies[0]
	}
	return req
}

// WithMethod sets the HTTP method.
func WithMethod(method string) Option {
	return func(o *Options) { o.Method = method }
}

// WithHeader adds a request header.
func WithHeader(key, value string) Option {
	return func(o *Options) {
		if o.Header == nil {
			o.Header = make(http.Header)
		}
		o.Header.Add(key, value)
	}
}

// WithPriority sets the pool priority. Lower values are served first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithCache stores full responses and serves repeats from the cache.
func WithCache(enabled bool) Option {
	return func(o *Options) { o.Cache = enabled }
}

// WithSkipDuplicates skips URIs that were already fetched.
func WithSkipDuplicates(enabled bool) Option {
	return func(o *Options) { o.SkipDuplicates = enabled }
}

// WithRetries sets the retry budget.
func WithRetries(n int) Option {
	return func(o *Options) {
		if n < 0 {
			n = 0
		}
		o.Retries = n
	}
}

// WithRetryDelay sets the fixed delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithForceUTF8 enables charset detection and conversion.
func WithForceUTF8(enabled bool) Option {
	return func(o *Options) { o.ForceUTF8 = enabled }
}

// WithIncomingEncoding skips detection and converts from charset.
func WithIncomingEncoding(charset string) Option {
	return func(o *Options) { o.IncomingEncoding = charset }
}

// WithBuildDocument toggles parse tree construction.
func WithBuildDocument(enabled bool) Option {
	return func(o *Options) { o.BuildDocument = enabled }
}

// WithAutoCloseDocument toggles closing the document after the handler.
// When disabled the handler owns the document.
func WithAutoCloseDocument(enabled bool) Option {
	return func(o *Options) { o.AutoCloseDocument = enabled }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *Options) { o.UserAgent = ua }
}

// WithReferer sets the Referer header.
func WithReferer(ref string) Option {
	return func(o *Options) { o.Referer = ref }
}

// WithProxies sets the proxy rotation.
func WithProxies(proxies ...string) Option {
	return func(o *Options) { o.Proxies = append([]string(nil), proxies...) }
}
