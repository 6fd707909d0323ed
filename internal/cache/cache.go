// Package cache stores rendered GET responses keyed by normalized request URL
// and tagged by resource family. Mutations invalidate whole families through
// an explicit tag index rather than by scanning keys.
package cache

import (
	"context"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

// Entry is a cached response.
type Entry struct {
	Status      int       `json:"status"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	ETag        string    `json:"etag"`
	StoredAt    time.Time `json:"stored_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Fresh reports whether the entry is still servable at now.
func (e Entry) Fresh(now time.Time) bool { return now.Before(e.ExpiresAt) }

// Store persists entries and the tag index.
type Store interface {
	// Get returns a fresh entry. Expired entries are reported as misses.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set stores e under key and indexes key under every tag.
	Set(ctx context.Context, key string, e Entry, tags ...string) error
	// Delete removes one key.
	Delete(ctx context.Context, key string) error
	// InvalidateTags removes every key indexed under any of tags and returns
	// how many entries were dropped.
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
}

// Key builds the cache key for a request: method, cleaned path, and the query
// with parameters and their values sorted so equivalent URLs share an entry.
func Key(method, p string, q url.Values) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(p)
	if len(q) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sep := byte('?')
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteByte(sep)
			sep = '&'
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
