package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/Aeonia-ai/gaia-sub004/pkg/cache"
	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/logging"
)

// ResponseCache is the subset of cache.Cache the middleware uses.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*cache.Entry, bool, error)
	Set(ctx context.Context, scope, key string, e *cache.Entry) error
	InvalidateScope(ctx context.Context, scope string) (int, error)
}

// CacheStatusHeader reports HIT or MISS on cacheable requests.
const CacheStatusHeader = "X-Cache"

// cachedHeaders are replayed on a hit besides Content-Type.
var cachedHeaders = []string{"Cache-Control", "ETag", "Last-Modified", "Content-Language"}

// Cache serves buffered GET responses under cfg.Prefixes from c. Entries
// are keyed per caller; a successful non-GET request by the same caller
// invalidates everything cached for them. Event streams, errors and bodies
// over cfg.MaxBodyBytes are never stored. Cache failures are logged and the
// request proceeds uncached.
func Cache(c ResponseCache, cfg config.CacheConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache")

	return func(next http.Handler) http.Handler {
		if c == nil || !cfg.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cacheablePath(r.URL.Path, cfg.Prefixes) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			log := logging.FromContext(ctx, logger)
			scope := identity(r)

			if r.Method != http.MethodGet {
				rw := newResponseWriter(w)
				next.ServeHTTP(rw, r)
				if rw.statusCode < 400 && r.Method != http.MethodHead && r.Method != http.MethodOptions {
					if _, err := c.InvalidateScope(ctx, scope); err != nil {
						log.Warn("cache invalidation failed", "error", err)
					}
				}
				return
			}

			if r.Header.Get("Accept") == proxy.ContentTypeSSE {
				next.ServeHTTP(w, r)
				return
			}

			key := cache.Key(r.Method, r.URL.Path, r.URL.RawQuery, scope)
			entry, hit, err := c.Get(ctx, key)
			if err != nil {
				log.Warn("cache lookup failed", "error", err)
			}
			if hit {
				writeEntry(w, entry)
				return
			}

			rec := &recorder{responseWriter: newResponseWriter(w), limit: cfg.MaxBodyBytes}
			rec.Header().Set(CacheStatusHeader, "MISS")
			next.ServeHTTP(rec, r)

			e, ok := rec.entry()
			if !ok {
				return
			}
			if err := c.Set(ctx, scope, key, e); err != nil {
				log.Warn("cache store failed", "error", err)
			}
		})
	}
}

func cacheablePath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// identity scopes entries to the caller's credentials without storing them.
func identity(r *http.Request) string {
	cred := r.Header.Get("Authorization")
	if cred == "" {
		cred = r.Header.Get("X-API-Key")
	}
	if cred == "" {
		return "anon"
	}
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:16])
}

func writeEntry(w http.ResponseWriter, e *cache.Entry) {
	h := w.Header()
	for k, v := range e.Header {
		h.Set(k, v)
	}
	if e.ContentType != "" {
		h.Set("Content-Type", e.ContentType)
	}
	h.Set(CacheStatusHeader, "HIT")
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(e.Body)
}

// recorder tees the response into a buffer while writing it through.
type recorder struct {
	*responseWriter
	buf      bytes.Buffer
	limit    int
	overflow bool
	flushed  bool
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.overflow {
		if r.limit > 0 && r.buf.Len()+len(b) > r.limit {
			r.overflow = true
			r.buf.Reset()
		} else {
			r.buf.Write(b)
		}
	}
	return r.responseWriter.Write(b)
}

// Flush marks the response as streamed; streamed responses are not cached.
func (r *recorder) Flush() {
	r.flushed = true
	r.responseWriter.Flush()
}

func (r *recorder) entry() (*cache.Entry, bool) {
	if r.overflow || r.flushed || r.hijacked || r.statusCode != http.StatusOK {
		return nil, false
	}
	ct := r.Header().Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == proxy.ContentTypeSSE {
		return nil, false
	}

	header := make(map[string]string)
	for _, k := range cachedHeaders {
		if v := r.Header().Get(k); v != "" {
			header[k] = v
		}
	}
	return &cache.Entry{
		StatusCode:  r.statusCode,
		ContentType: ct,
		Header:      header,
		Body:        bytes.Clone(r.buf.Bytes()),
	}, true
}
