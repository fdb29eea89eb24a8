package crawler

import "context"

// Transport issues a single network request.
type Transport interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// CacheEntry is either a stored response or a seen marker when Response is nil.
type CacheEntry struct {
	Response *Response
}

// Seen reports whether the entry is only a marker.
func (e CacheEntry) Seen() bool { return e.Response == nil }

// Cache is the table keyed by CacheKey. Responses are write-once; a seen
// marker may be upgraded to a response.
type Cache interface {
	Lookup(key string) (CacheEntry, bool)
	// Store records resp under key. It returns false if key already holds a
	// response.
	Store(key string, resp *Response) bool
	// MarkSeen records a marker under key. It returns false if key already exists.
	MarkSeen(key string) bool
	Len() int
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for record identity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
