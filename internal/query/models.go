package query

import (
	"maps"
	"strings"
	"time"
)

// Query identifies what is being requested. An empty Key means the
// configured default target.
type Query struct {
	Key string `json:"query,omitempty"`
}

// Default returns the query for the configured default target.
func Default() Query {
	return Query{}
}

// IsDefault reports whether q targets the configured default.
func (q Query) IsDefault() bool {
	return q.Text() == ""
}

// Text returns the key as it should be sent upstream.
func (q Query) Text() string {
	return strings.TrimSpace(q.Key)
}

// CacheKey returns the canonical key used to index the cache.
func (q Query) CacheKey() string {
	return strings.ToLower(q.Text())
}

func (q Query) String() string {
	if q.IsDefault() {
		return "<default>"
	}
	return q.Text()
}

// Result is a provider payload flattened to field -> scalar.
type Result map[string]any

// Clone returns a shallow copy. Values are scalars so a shallow copy is
// a full copy.
func (r Result) Clone() Result {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// CachedEntry is the last successfully resolved Result plus provenance.
type CachedEntry struct {
	Value     Result    `json:"value"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Clone returns a copy that shares no mutable state with e.
func (e CachedEntry) Clone() CachedEntry {
	e.Value = e.Value.Clone()
	return e
}

// Age returns how old the entry is at now.
func (e CachedEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// IsStale reports whether the entry is older than interval at now.
func (e CachedEntry) IsStale(now time.Time, interval time.Duration) bool {
	return e.Age(now) > interval
}
