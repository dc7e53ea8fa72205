package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"asset-monitor-backend/internal/telemetry"
)

// snapshot is a rendered response kept in memory.
type snapshot struct {
	status      int
	contentType string
	body        []byte
}

// recorder tees everything the handler writes into a buffer.
type recorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// ResponseCache serves repeated GETs of immutable resources, such as
// archives, from memory.
type ResponseCache struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewResponseCache creates a cache whose entries live for ttl.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ResponseCache{items: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Len returns the number of cached responses.
func (rc *ResponseCache) Len() int {
	return rc.items.ItemCount()
}

// Middleware keys entries on the request URI. Only 2xx responses are kept,
// and a handler can opt out by setting "Cache-Control: no-store".
func (rc *ResponseCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.URL.RequestURI()
		if v, ok := rc.items.Get(key); ok {
			snap := v.(snapshot)
			telemetry.CacheLookups.WithLabelValues("hit").Inc()
			c.Header("X-Cache", "HIT")
			c.Data(snap.status, snap.contentType, snap.body)
			c.Abort()
			return
		}
		telemetry.CacheLookups.WithLabelValues("miss").Inc()

		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Header("X-Cache", "MISS")
		c.Next()

		status := rec.Status()
		if status < 200 || status >= 300 || rec.Header().Get("Cache-Control") == "no-store" {
			return
		}
		rc.items.Set(key, snapshot{
			status:      status,
			contentType: rec.Header().Get("Content-Type"),
			body:        bytes.Clone(rec.buf.Bytes()),
		}, rc.ttl)
	}
}
